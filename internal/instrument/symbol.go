package instrument

import "fmt"

// Symbol is a resolved export.
type Symbol struct {
	name  string
	addr  uintptr
	table *Exports
}

func (s Symbol) Name() string { return s.name }

// Address is the code address of the exported function.
func (s Symbol) Address() uintptr { return s.addr }

func (s Symbol) IsNull() bool { return s.addr == 0 || s.table == nil }

func (s Symbol) String() string {
	return fmt.Sprintf("0x%x", s.addr)
}
