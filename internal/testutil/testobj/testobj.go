// Package testobj locates a small checked-in ELF shared object that exports
// EntrySymbol and FileEntrySymbol.
package testobj

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

const (
	EntrySymbol     = "example_agent_main"
	FileEntrySymbol = "injected_function"
)

// Path returns the absolute path of testdata/agent.so.
func Path(t testing.TB) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("locate testobj package")
	}
	return filepath.Join(filepath.Dir(file), "testdata", "agent.so")
}

// Blob returns the contents of the agent object.
func Blob(t testing.TB) []byte {
	t.Helper()
	blob, err := os.ReadFile(Path(t))
	if err != nil {
		t.Fatalf("read agent object: %v", err)
	}
	return blob
}
