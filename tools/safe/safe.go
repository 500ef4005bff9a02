package safe

import (
	"fmt"
	"reflect"

	"PBoard/logger"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// Go runs f on a new goroutine and logs instead of crashing on panic.
func Go(name string, f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panic recovered", zap.String("name", name), zap.Any("panic", r))
			}
		}()
		f()
	}()
}
