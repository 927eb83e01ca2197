package instrument

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrSignatureMismatch = errors.New("instrument: signature mismatch")
	ErrArgumentCount     = errors.New("instrument: wrong argument count")
	ErrArgumentType      = errors.New("instrument: argument type")
	ErrUnknownType       = errors.New("instrument: unknown native type")
)

// NativeFunction is a call thunk for an export with a declared signature.
type NativeFunction struct {
	sym    Symbol
	ex     *export
	ret    Type
	params []Type
}

// NewNativeFunction checks the declared signature against the export and
// returns a thunk that calls it through the interceptor.
func NewNativeFunction(sym Symbol, ret Type, params []Type) (*NativeFunction, error) {
	if sym.IsNull() {
		return nil, fmt.Errorf("%w: null symbol", ErrExportNotFound)
	}
	ex, ok := sym.table.lookup(sym.name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExportNotFound, sym.name)
	}
	if err := checkSignature(ex.typ, ret, params); err != nil {
		return nil, fmt.Errorf("%s: %w", sym.name, err)
	}
	return &NativeFunction{
		sym:    sym,
		ex:     ex,
		ret:    ret,
		params: append([]Type(nil), params...),
	}, nil
}

func checkSignature(t reflect.Type, ret Type, params []Type) error {
	if !ret.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, ret)
	}
	if t.NumIn() != len(params) {
		return fmt.Errorf("%w: %d params declared, export takes %d", ErrSignatureMismatch, len(params), t.NumIn())
	}
	for i, p := range params {
		if !p.valid() || p == TypeVoid {
			return fmt.Errorf("%w: param %d %q", ErrUnknownType, i, p)
		}
		if !p.accepts(t.In(i)) {
			return fmt.Errorf("%w: param %d declared %s, export takes %s", ErrSignatureMismatch, i, p, t.In(i))
		}
	}
	switch {
	case ret == TypeVoid && t.NumOut() != 0:
		return fmt.Errorf("%w: declared void, export returns %d values", ErrSignatureMismatch, t.NumOut())
	case ret != TypeVoid && t.NumOut() != 1:
		return fmt.Errorf("%w: declared %s, export returns %d values", ErrSignatureMismatch, ret, t.NumOut())
	case ret != TypeVoid && !ret.accepts(t.Out(0)):
		return fmt.Errorf("%w: declared %s, export returns %s", ErrSignatureMismatch, ret, t.Out(0))
	}
	return nil
}

func (f *NativeFunction) Symbol() Symbol { return f.sym }

// Call converts args to the export's parameter types and invokes it. The
// result is nil for void functions.
//
// A listener that leaves an argument or result of the wrong type is reported
// as an error here instead of a panic.
func (f *NativeFunction) Call(args ...any) (result any, err error) {
	in, err := convertValues(args, inTypes(f.ex.typ))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.sym.name, err)
	}
	defer func() {
		if r := recover(); r != nil {
			rerr, ok := r.(error)
			if !ok || !errors.Is(rerr, ErrArgumentType) && !errors.Is(rerr, ErrArgumentCount) {
				panic(r)
			}
			result, err = nil, rerr
		}
	}()
	out := f.sym.table.call(f.ex, in)
	if f.ret == TypeVoid || len(out) == 0 {
		return nil, nil
	}
	return out[0].Interface(), nil
}
