package payload

import (
	"context"
	"fmt"
	"reflect"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// signature holds what MethodCall needs to know about a target method.
type signature struct {
	HasContext bool
	Params     []reflect.Type
	ErrIndex   int // -1 when the method reports no error
}

// inspect validates a method type.
// Accepted shapes: func([ctx context.Context,] args...) with no result,
// a single result (an error or a discarded value), or (T, error).
func inspect(fnType reflect.Type) (*signature, error) {
	if fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("target must be a method")
	}
	if fnType.IsVariadic() {
		return nil, fmt.Errorf("variadic methods are not supported")
	}

	sig := &signature{ErrIndex: -1}

	start := 0
	if fnType.NumIn() > 0 && fnType.In(0).Implements(contextType) {
		sig.HasContext = true
		start = 1
	}
	for i := start; i < fnType.NumIn(); i++ {
		sig.Params = append(sig.Params, fnType.In(i))
	}

	switch fnType.NumOut() {
	case 0:
	case 1:
		if fnType.Out(0).Implements(errorType) {
			sig.ErrIndex = 0
		}
	case 2:
		if !fnType.Out(1).Implements(errorType) {
			return nil, fmt.Errorf("method must return (T, error)")
		}
		sig.ErrIndex = 1
	default:
		return nil, fmt.Errorf("method must return nothing, error, a value or (T, error)")
	}

	return sig, nil
}

// call invokes fn and extracts its error result.
func call(ctx context.Context, fn reflect.Value, sig *signature, args []reflect.Value) error {
	if !fn.IsValid() {
		return fmt.Errorf("method is nil or invalid")
	}

	in := make([]reflect.Value, 0, len(args)+1)
	if sig.HasContext {
		in = append(in, reflect.ValueOf(ctx))
	}
	in = append(in, args...)

	results := fn.Call(in)

	if sig.ErrIndex >= 0 && !results[sig.ErrIndex].IsNil() {
		return results[sig.ErrIndex].Interface().(error)
	}
	return nil
}
