package symbols

import (
	"debug/macho"
	"io"
)

type machoFile struct {
	macho *macho.File
}

func openMacho(r io.ReaderAt) (rawFile, error) {
	f, err := macho.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &machoFile{f}, nil
}

func (f *machoFile) Close() error {
	return f.macho.Close()
}

func (f *machoFile) Symbols() (Table, error) {
	table := make(Table)
	if f.macho.Symtab == nil {
		return table, nil
	}
	for _, s := range f.macho.Symtab.Syms {
		// N_SECT entries are defined in this image.
		if s.Name == "" || s.Sect == 0 {
			continue
		}
		table[s.Name] = uintptr(s.Value)
	}
	return table, nil
}
