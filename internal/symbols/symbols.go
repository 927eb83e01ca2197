// Package symbols reads exported symbol tables from object files so payloads
// can be checked for their agent entry point before injection.
package symbols

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

var ErrUnrecognizedObject = errors.New("symbols: unrecognized object file")

// Table maps symbol names to their image-relative values.
type Table map[string]uintptr

type rawFile interface {
	Symbols() (Table, error)
	Close() error
}

var objTypes = []func(io.ReaderAt) (rawFile, error){
	openElf,
	openMacho,
	openPE,
}

// ReadSymbols opens name and returns its symbol table.
func ReadSymbols(name string) (Table, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	table, err := ParseSymbols(f)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return table, nil
}

// ParseSymbols tries each supported object format in turn.
func ParseSymbols(r io.ReaderAt) (Table, error) {
	for _, try := range objTypes {
		raw, err := try(r)
		if err != nil {
			continue
		}
		table, err := raw.Symbols()
		_ = raw.Close()
		if err != nil {
			return nil, err
		}
		return table, nil
	}
	return nil, ErrUnrecognizedObject
}

// HasSymbol reports whether name is present, accepting the Mach-O
// underscore-prefixed spelling.
func (t Table) HasSymbol(name string) bool {
	if name == "" {
		return false
	}
	if _, ok := t[name]; ok {
		return true
	}
	_, ok := t["_"+name]
	return ok
}

// Names returns the symbol names sorted, optionally filtered by prefix.
func (t Table) Names(prefix string) []string {
	out := make([]string, 0, len(t))
	for name := range t {
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
