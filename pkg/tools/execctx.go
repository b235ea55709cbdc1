package tools

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// ContextType identifies a typed dependency slot in an ExecContext.
type ContextType struct {
	t reflect.Type
}

func (c ContextType) String() string {
	if c.t == nil {
		return "<nil>"
	}
	return c.t.String()
}

// CtxType returns the ContextType for T, used in Definition.Requires.
func CtxType[T any]() ContextType {
	return ContextType{t: reflect.TypeOf((*T)(nil)).Elem()}
}

// ExecContext is a typed bag of runtime dependencies handed to tools at
// dispatch time, keyed by static type rather than string.
type ExecContext struct {
	mu     sync.RWMutex
	values map[reflect.Type]any
}

func NewExecContext() *ExecContext {
	return &ExecContext{values: map[reflect.Type]any{}}
}

// Provide stores v under its static type T, replacing any previous value.
func Provide[T any](ec *ExecContext, v T) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.values[reflect.TypeOf((*T)(nil)).Elem()] = v
}

// ResolveAs fetches the value stored under T.
func ResolveAs[T any](ec *ExecContext) (T, error) {
	var zero T
	if ec == nil {
		return zero, errors.Errorf("no execution context for %s", reflect.TypeOf((*T)(nil)).Elem())
	}
	ec.mu.RLock()
	v, ok := ec.values[reflect.TypeOf((*T)(nil)).Elem()]
	ec.mu.RUnlock()
	if !ok {
		return zero, errors.Errorf("execution context has no %s", reflect.TypeOf((*T)(nil)).Elem())
	}
	return v.(T), nil
}

// Has reports whether a value is stored for the given type.
func (ec *ExecContext) Has(ct ContextType) bool {
	if ec == nil {
		return false
	}
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	_, ok := ec.values[ct.t]
	return ok
}

// missing returns the required context types absent from ec, if any.
func missing(ec *ExecContext, requires []ContextType) []ContextType {
	var out []ContextType
	for _, ct := range requires {
		if !ec.Has(ct) {
			out = append(out, ct)
		}
	}
	return out
}
