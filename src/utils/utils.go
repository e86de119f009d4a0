package utils

import (
	"errors"
	"fmt"
	"reflect"

	"git.handmade.network/hmn/tutorials/src/oops"
)

// Returns the provided value, or a default value if the input was zero.
func OrDefault[T comparable](v T, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func isNilError[E error](err E) bool {
	v := reflect.ValueOf(err)
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// Panics if err is non-nil. Typed nil pointers count as nil.
func Must[E error](err E) {
	if !isNilError(err) {
		panic(err)
	}
}

func Must1[T any, E error](v T, err E) T {
	Must(err)
	return v
}

// Recover a panic and convert it to a returned error:
//
//	func MyFunc() (err error) {
//		defer utils.RecoverPanicAsError(&err)
//	}
//
// If an error was already set, it is kept in the chain underneath the panic.
func RecoverPanicAsError(err *error) {
	if r := recover(); r != nil {
		var recovered error
		if rerr, ok := r.(error); ok {
			recovered = rerr
		} else {
			recovered = fmt.Errorf("panic with value: %v", r)
		}
		if *err != nil {
			recovered = errors.Join(recovered, *err)
		}
		*err = oops.New(recovered, "panic recovered as error")
	}
}
