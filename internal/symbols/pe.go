package symbols

import (
	"debug/pe"
	"io"
)

type peFile struct {
	pe *pe.File
}

func openPE(r io.ReaderAt) (rawFile, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &peFile{f}, nil
}

func (f *peFile) Close() error {
	return f.pe.Close()
}

func (f *peFile) Symbols() (Table, error) {
	table := make(Table)
	for _, s := range f.pe.Symbols {
		if s.Name == "" || s.SectionNumber <= 0 {
			continue
		}
		table[s.Name] = uintptr(s.Value)
	}
	return table, nil
}
