package symbols

import (
	"debug/elf"
	"errors"
	"io"
)

type elfFile struct {
	elf *elf.File
}

func openElf(r io.ReaderAt) (rawFile, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &elfFile{f}, nil
}

func (e *elfFile) Close() error {
	return e.elf.Close()
}

// Shared objects usually only carry .dynsym, executables may carry both.
func (e *elfFile) Symbols() (Table, error) {
	table := make(Table)
	for _, read := range []func() ([]elf.Symbol, error){e.elf.DynamicSymbols, e.elf.Symbols} {
		syms, err := read()
		if err != nil {
			if errors.Is(err, elf.ErrNoSymbols) {
				continue
			}
			return nil, err
		}
		addElfSymbols(table, syms)
	}
	return table, nil
}

func addElfSymbols(table Table, syms []elf.Symbol) {
	for _, s := range syms {
		if s.Name == "" || s.Section == elf.SHN_UNDEF {
			continue
		}
		table[s.Name] = uintptr(s.Value)
	}
}
