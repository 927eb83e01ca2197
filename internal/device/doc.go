// Package device owns the execution-target abstraction used by controllers.
//
// Ownership boundary:
// - device identity and kind
//
// - injection request/acknowledgement contract
//
// - uninjected notification signal
//
// - device manager registry
//
// Injection ids are granted by the device and start at 1. A device emits at
// most one uninjected notification per granted id.
package device
