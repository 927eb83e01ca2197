package instrument

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/danmuck/injectctl/internal/observability"
)

var (
	// ErrHookNotFound means the attachment was already detached.
	ErrHookNotFound = errors.New("instrument: hook not found")
	// ErrEmptyListener means neither callback was provided.
	ErrEmptyListener = errors.New("instrument: listener has no callbacks")
	// ErrForeignSymbol means the symbol was not resolved from this table.
	ErrForeignSymbol = errors.New("instrument: symbol belongs to another export table")
)

// Invocation is the call state visible to listeners. OnEnter may replace
// Args entries, OnLeave may replace Returns entries.
type Invocation struct {
	Symbol  Symbol
	Args    []any
	Returns []any
}

// ReturnValue returns the first result, or nil for void functions.
func (inv *Invocation) ReturnValue() any {
	if len(inv.Returns) == 0 {
		return nil
	}
	return inv.Returns[0]
}

// ReplaceReturn overwrites the first result.
func (inv *Invocation) ReplaceReturn(v any) {
	if len(inv.Returns) == 0 {
		return
	}
	inv.Returns[0] = v
}

// Listener receives enter and leave callbacks for one export.
type Listener struct {
	OnEnter func(*Invocation)
	OnLeave func(*Invocation)
}

type attached struct {
	id       uint64
	listener Listener
}

// Interceptor keeps the listeners attached to exports of one table.
type Interceptor struct {
	table *Exports

	mu     sync.Mutex
	nextID uint64
	hooks  map[string][]attached
}

func newInterceptor(table *Exports) *Interceptor {
	return &Interceptor{table: table, hooks: make(map[string][]attached)}
}

// Attachment is a handle for one attached listener.
type Attachment struct {
	interceptor *Interceptor
	symbol      string
	id          uint64
}

func (a *Attachment) Symbol() string { return a.symbol }

// Detach removes the listener. A second call returns ErrHookNotFound.
func (a *Attachment) Detach() error {
	return a.interceptor.detach(a.symbol, a.id)
}

// Attach adds l to sym. Listeners run in attach order.
func (i *Interceptor) Attach(sym Symbol, l Listener) (*Attachment, error) {
	if l.OnEnter == nil && l.OnLeave == nil {
		return nil, ErrEmptyListener
	}
	if sym.table != i.table {
		return nil, fmt.Errorf("%w: %s", ErrForeignSymbol, sym.name)
	}
	if _, ok := i.table.lookup(sym.name); !ok {
		return nil, fmt.Errorf("%w: %s", ErrExportNotFound, sym.name)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.nextID++
	id := i.nextID
	i.hooks[sym.name] = append(i.hooks[sym.name], attached{id: id, listener: l})
	return &Attachment{interceptor: i, symbol: sym.name, id: id}, nil
}

// DetachAll removes every listener on every export.
func (i *Interceptor) DetachAll() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.hooks = make(map[string][]attached)
}

// Attached returns how many listeners are attached to name.
func (i *Interceptor) Attached(name string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.hooks[name])
}

func (i *Interceptor) detach(name string, id uint64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	list := i.hooks[name]
	for idx, a := range list {
		if a.id != id {
			continue
		}
		list = append(list[:idx:idx], list[idx+1:]...)
		if len(list) == 0 {
			delete(i.hooks, name)
		} else {
			i.hooks[name] = list
		}
		return nil
	}
	return ErrHookNotFound
}

func (i *Interceptor) listenersFor(name string) []Listener {
	i.mu.Lock()
	defer i.mu.Unlock()
	list := i.hooks[name]
	if len(list) == 0 {
		return nil
	}
	out := make([]Listener, len(list))
	for idx, a := range list {
		out[idx] = a.listener
	}
	return out
}

func (i *Interceptor) invoke(ex *export, listeners []Listener, args []reflect.Value) []reflect.Value {
	observability.RecordHookInvocation(ex.name)
	inv := &Invocation{
		Symbol: Symbol{name: ex.name, addr: ex.fn.Pointer(), table: i.table},
		Args:   interfaces(args),
	}
	for _, l := range listeners {
		if l.OnEnter != nil {
			l.OnEnter(inv)
		}
	}
	callArgs, err := convertValues(inv.Args, inTypes(ex.typ))
	if err != nil {
		panic(fmt.Errorf("instrument: %s onEnter: %w", ex.name, err))
	}

	inv.Returns = interfaces(ex.fn.Call(callArgs))
	for _, l := range listeners {
		if l.OnLeave != nil {
			l.OnLeave(inv)
		}
	}
	results, err := convertValues(inv.Returns, outTypes(ex.typ))
	if err != nil {
		panic(fmt.Errorf("instrument: %s onLeave: %w", ex.name, err))
	}
	return results
}
