package instrument

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrInputType means the value is not a func, or not a pointer to one.
	ErrInputType = errors.New("instrument: input is not func type")
	// ErrDifferentType means a binding does not match the export type.
	ErrDifferentType = errors.New("instrument: inputs are of different type")
	// ErrExportExists means the name is already registered.
	ErrExportExists = errors.New("instrument: export already registered")
	// ErrExportNotFound means no export has that name.
	ErrExportNotFound = errors.New("instrument: export not found")
	// ErrInvalidName means an empty export name.
	ErrInvalidName = errors.New("instrument: invalid export name")
)

type export struct {
	name string
	fn   reflect.Value
	typ  reflect.Type
}

// Exports is the process export table that scripts resolve symbols from.
type Exports struct {
	mu          sync.RWMutex
	items       map[string]*export
	interceptor *Interceptor
}

// NewExports creates an empty export table with its own interceptor.
func NewExports() *Exports {
	e := &Exports{items: make(map[string]*export)}
	e.interceptor = newInterceptor(e)
	return e
}

// Interceptor returns the interceptor that guards calls into this table.
func (e *Exports) Interceptor() *Interceptor {
	return e.interceptor
}

// Register publishes fn under name.
func (e *Exports) Register(name string, fn any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Errorf("%w: %s", ErrInputType, name)
	}
	if v.Type().IsVariadic() {
		return fmt.Errorf("%w: %s is variadic", ErrInputType, name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.items[name]; ok {
		return fmt.Errorf("%w: %s", ErrExportExists, name)
	}
	e.items[name] = &export{name: name, fn: v, typ: v.Type()}
	return nil
}

// GlobalExportByName resolves an export by name.
func (e *Exports) GlobalExportByName(name string) (Symbol, error) {
	ex, ok := e.lookup(name)
	if !ok {
		return Symbol{}, fmt.Errorf("%w: %s", ErrExportNotFound, name)
	}
	return Symbol{name: ex.name, addr: ex.fn.Pointer(), table: e}, nil
}

// Names returns every export name, sorted.
func (e *Exports) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.items))
	for name := range e.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Bind points the func variable behind fnPtr at a trampoline for name, so
// direct calls from host code pass through attached listeners.
func (e *Exports) Bind(name string, fnPtr any) error {
	ex, ok := e.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrExportNotFound, name)
	}
	p := reflect.ValueOf(fnPtr)
	if !p.IsValid() || p.Kind() != reflect.Pointer || p.IsNil() || p.Elem().Kind() != reflect.Func {
		return ErrInputType
	}
	if p.Elem().Type() != ex.typ {
		return fmt.Errorf("%w: %s is %s, binding is %s", ErrDifferentType, name, ex.typ, p.Elem().Type())
	}
	p.Elem().Set(reflect.MakeFunc(ex.typ, func(args []reflect.Value) []reflect.Value {
		return e.call(ex, args)
	}))
	return nil
}

func (e *Exports) lookup(name string) (*export, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ex, ok := e.items[strings.TrimSpace(name)]
	return ex, ok
}

// call runs ex with args, routing through listeners when any are attached.
// Listener-supplied values that cannot be converted back panic, the same way
// a bad argument would fault a native callee.
func (e *Exports) call(ex *export, args []reflect.Value) []reflect.Value {
	listeners := e.interceptor.listenersFor(ex.name)
	if len(listeners) == 0 {
		return ex.fn.Call(args)
	}
	return e.interceptor.invoke(ex, listeners, args)
}
