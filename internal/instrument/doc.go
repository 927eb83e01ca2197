// Package instrument is the in-target scripting surface: an export table,
// native-call thunks, an enter/leave interceptor and a script runtime with a
// host message channel.
//
// Exported functions are reached through the table, either with
// NativeFunction or through a trampoline installed by Exports.Bind. Attached
// listeners run on every such call. Machine-code patching is out of scope.
package instrument
