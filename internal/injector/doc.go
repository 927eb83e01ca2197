// Package injector owns the controller flow that injects a payload into a
// target process and waits for its uninjected notification.
//
// Flow order:
// - read payload -> connect listener -> request -> report id -> await uninjected
//
//   - the listener is disconnected on request failure, on first matching
//     delivery, on detach, and on cancellation.
package injector
