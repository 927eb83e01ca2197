package instrument

import (
	"fmt"
	"reflect"
)

// Type is a declared native-call type.
type Type string

const (
	TypeVoid    Type = "void"
	TypeInt     Type = "int"
	TypeUInt    Type = "uint"
	TypeInt64   Type = "int64"
	TypeUInt64  Type = "uint64"
	TypePointer Type = "pointer"
	TypeBool    Type = "bool"
	TypeDouble  Type = "double"
)

// accepts reports whether a Go value of type t can cross the boundary as
// the declared type. Integer declarations only check width class.
func (d Type) accepts(t reflect.Type) bool {
	switch d {
	case TypeInt, TypeUInt:
		switch t.Kind() {
		case reflect.Int32, reflect.Uint32, reflect.Int, reflect.Uint:
			return true
		}
	case TypeInt64, TypeUInt64:
		switch t.Kind() {
		case reflect.Int64, reflect.Uint64, reflect.Int, reflect.Uint:
			return true
		}
	case TypePointer:
		switch t.Kind() {
		case reflect.Uintptr, reflect.UnsafePointer, reflect.Pointer:
			return true
		}
	case TypeBool:
		return t.Kind() == reflect.Bool
	case TypeDouble:
		return t.Kind() == reflect.Float64
	}
	return false
}

func (d Type) valid() bool {
	switch d {
	case TypeVoid, TypeInt, TypeUInt, TypeInt64, TypeUInt64, TypePointer, TypeBool, TypeDouble:
		return true
	}
	return false
}

// convertValue converts v to t the way a C call would coerce a scalar.
func convertValue(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.UnsafePointer, reflect.Interface, reflect.Func, reflect.Map, reflect.Slice:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("%w: nil for %s", ErrArgumentType, t)
	}
	rv := reflect.ValueOf(v)
	if rv.Type() == t {
		return rv, nil
	}
	if isScalar(rv.Kind()) && isScalar(t.Kind()) && rv.CanConvert(t) {
		return rv.Convert(t), nil
	}
	if rv.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, nil
	}
	return reflect.Value{}, fmt.Errorf("%w: %s for %s", ErrArgumentType, rv.Type(), t)
}

func isScalar(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func convertValues(vals []any, types []reflect.Type) ([]reflect.Value, error) {
	if len(vals) != len(types) {
		return nil, fmt.Errorf("%w: got %d want %d", ErrArgumentCount, len(vals), len(types))
	}
	out := make([]reflect.Value, len(vals))
	for i, v := range vals {
		rv, err := convertValue(v, types[i])
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		out[i] = rv
	}
	return out, nil
}

func interfaces(vals []reflect.Value) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v.Interface()
	}
	return out
}

func inTypes(t reflect.Type) []reflect.Type {
	out := make([]reflect.Type, t.NumIn())
	for i := range out {
		out[i] = t.In(i)
	}
	return out
}

func outTypes(t reflect.Type) []reflect.Type {
	out := make([]reflect.Type, t.NumOut())
	for i := range out {
		out[i] = t.Out(i)
	}
	return out
}
