package codec

import (
	"reflect"

	acterrors "github.com/teranos/actorcore/errors"
)

// ValidateValue walks v and rejects anything that cannot round-trip
// through CBOR: channels, funcs, unsafe pointers, and complex numbers.
// path is used only to build the InvalidStateType error; pass the
// dotted mutation path the caller is about to persist (e.g.
// "state.counters" or the empty string for the root).
//
// This mirrors what a structured-clone / JSON.stringify boundary would
// reject in the original runtime, adapted to Go's richer type zoo: we
// walk with reflection instead of attempting a trial encode, so the
// rejection carries the specific offending path rather than an opaque
// cbor error.
func ValidateValue(path string, v interface{}) error {
	if v == nil {
		return nil
	}
	return validate(path, reflect.ValueOf(v), make(map[uintptr]bool))
}

func validate(path string, rv reflect.Value, seen map[uintptr]bool) error {
	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return invalidStateType(path)

	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return invalidStateType(path) // cyclic value, not serializable
		}
		// seen tracks the current ancestor chain only, so a DAG that
		// shares a pointer between two sibling fields still validates;
		// only a pointer back to its own ancestry is a cycle.
		seen[ptr] = true
		err := validate(path, rv.Elem(), seen)
		delete(seen, ptr)
		return err

	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return validate(path, rv.Elem(), seen)

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		// []byte is a leaf as far as validation is concerned.
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		for i := 0; i < rv.Len(); i++ {
			if err := validate(path, rv.Index(i), seen); err != nil {
				return err
			}
		}
		return nil

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		iter := rv.MapRange()
		for iter.Next() {
			if err := validate(path, iter.Value(), seen); err != nil {
				return err
			}
		}
		return nil

	case reflect.Struct:
		t := rv.Type()
		exported := false
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" {
				continue // unexported, skipped like an encoding/json-style marshaler would
			}
			exported = true
			if err := validate(path, rv.Field(i), seen); err != nil {
				return err
			}
		}
		if !exported && t.NumField() > 0 {
			return invalidStateType(path)
		}
		return nil

	default:
		return nil
	}
}

func invalidStateType(path string) error {
	err := acterrors.NewKind(acterrors.KindInvalidStateType, "value at path is not serializable")
	return acterrors.WithPath(err, path)
}
