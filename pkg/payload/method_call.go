package payload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/jdziat/delayed-jobs/pkg/core"
)

// MethodCallTag is the envelope tag of MethodCall payloads.
const MethodCallTag = "delayed.MethodCall"

// Arg is one encoded value of a MethodCall: a reference token, or a JSON
// value. Targets also carry the type tag needed to rebuild them.
type Arg struct {
	Ref   string          `json:"ref,omitempty"`
	Type  string          `json:"type,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MethodCall runs Method on Target with Args when performed.
type MethodCall struct {
	Target Arg    `json:"target"`
	Method string `json:"method"`
	Args   []Arg  `json:"args"`

	reg *Registry
}

// NewMethodCall captures target.method(args...) for later execution.
// The method must exist with matching arity; variadic methods are refused.
func (r *Registry) NewMethodCall(target any, method string, args ...any) (*MethodCall, error) {
	if target == nil {
		return nil, &core.ArgumentError{Reason: "method call target is nil"}
	}

	fn := methodByName(reflect.ValueOf(target), method)
	if !fn.IsValid() {
		return nil, &core.ArgumentError{Reason: fmt.Sprintf("undefined method %s for %T", method, target)}
	}
	sig, err := inspect(fn.Type())
	if err != nil {
		return nil, &core.ArgumentError{Reason: fmt.Sprintf("%T.%s: %v", target, method, err)}
	}
	if len(sig.Params) != len(args) {
		return nil, &core.ArgumentError{
			Reason: fmt.Sprintf("%T.%s takes %d arguments, got %d", target, method, len(sig.Params), len(args)),
		}
	}

	mc := &MethodCall{Method: method, Args: make([]Arg, 0, len(args)), reg: r}

	if mc.Target, err = r.dumpTarget(target); err != nil {
		return nil, err
	}
	for i, a := range args {
		arg, err := r.dumpArg(a)
		if err != nil {
			return nil, fmt.Errorf("delayed: argument %d of %s: %w", i, method, err)
		}
		mc.Args = append(mc.Args, arg)
	}
	return mc, nil
}

// Perform loads the target and arguments and invokes the method. A
// reference to a record that no longer exists makes the call a no-op.
func (m *MethodCall) Perform(ctx context.Context) error {
	if m.reg == nil {
		return errors.New("delayed: method call is not bound to a registry")
	}

	target, err := m.reg.loadTarget(ctx, m.Target)
	if errors.Is(err, core.ErrEntityNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	fn := methodByName(target, m.Method)
	if !fn.IsValid() {
		return fmt.Errorf("delayed: undefined method %s for %s", m.Method, target.Type())
	}
	sig, err := inspect(fn.Type())
	if err != nil {
		return err
	}
	if len(sig.Params) != len(m.Args) {
		return fmt.Errorf("delayed: %s takes %d arguments, payload has %d", m.DisplayName(), len(sig.Params), len(m.Args))
	}

	args := make([]reflect.Value, len(m.Args))
	for i, a := range m.Args {
		v, err := m.reg.loadArg(ctx, a, sig.Params[i])
		if errors.Is(err, core.ErrEntityNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("delayed: argument %d of %s: %w", i, m.DisplayName(), err)
		}
		args[i] = v
	}

	return call(ctx, fn, sig, args)
}

// DisplayName renders "Type#Method".
func (m *MethodCall) DisplayName() string {
	owner := m.Target.Type
	if m.Target.Ref != "" {
		if ref, err := ParseRef(m.Target.Ref); err == nil {
			owner = ref.Type
		}
	}
	if owner == "" {
		owner = "?"
	}
	return owner + "#" + m.Method
}

// methodByName also searches the pointer method set of addressable copies.
func methodByName(v reflect.Value, name string) reflect.Value {
	if !v.IsValid() {
		return reflect.Value{}
	}
	if fn := v.MethodByName(name); fn.IsValid() {
		return fn
	}
	if v.Kind() != reflect.Pointer {
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		return p.MethodByName(name)
	}
	return reflect.Value{}
}

func (r *Registry) dumpTarget(v any) (Arg, error) {
	if arg, ok := r.dumpRef(v); ok {
		return arg, nil
	}
	tag, err := r.tagFor(v)
	if err != nil {
		return Arg{}, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Arg{}, fmt.Errorf("delayed: failed to marshal target %s: %w", tag, err)
	}
	return Arg{Type: tag, Value: data}, nil
}

func (r *Registry) dumpArg(v any) (Arg, error) {
	if arg, ok := r.dumpRef(v); ok {
		return arg, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Arg{}, err
	}
	return Arg{Value: data}, nil
}

func (r *Registry) dumpRef(v any) (Arg, bool) {
	ent, ok := v.(core.Entity)
	if !ok {
		return Arg{}, false
	}
	e, ok := r.entityFor(v)
	if !ok {
		return Arg{}, false
	}
	return Arg{Ref: Ref{Type: e.tag, ID: ent.EntityID()}.String()}, true
}

func (r *Registry) loadTarget(ctx context.Context, a Arg) (reflect.Value, error) {
	if a.Ref != "" {
		return r.fetch(ctx, a.Ref, nil)
	}
	v, ok := r.newValue(a.Type)
	if !ok {
		return reflect.Value{}, &core.DeserializationError{Tag: a.Type, Err: errUnknownType}
	}
	if len(a.Value) > 0 {
		if err := json.Unmarshal(a.Value, v.Interface()); err != nil {
			return reflect.Value{}, fmt.Errorf("delayed: failed to unmarshal target %s: %w", a.Type, err)
		}
	}
	return v, nil
}

func (r *Registry) loadArg(ctx context.Context, a Arg, want reflect.Type) (reflect.Value, error) {
	if a.Ref != "" {
		return r.fetch(ctx, a.Ref, want)
	}
	p := reflect.New(want)
	if len(a.Value) > 0 {
		if err := json.Unmarshal(a.Value, p.Interface()); err != nil {
			return reflect.Value{}, err
		}
	}
	return p.Elem(), nil
}

// fetch loads a referenced entity and adapts it to want when given.
func (r *Registry) fetch(ctx context.Context, token string, want reflect.Type) (reflect.Value, error) {
	ref, err := ParseRef(token)
	if err != nil {
		return reflect.Value{}, err
	}
	e, ok := r.lookup(ref.Type)
	if !ok || e.find == nil {
		return reflect.Value{}, &core.DeserializationError{Tag: ref.Type, Err: errUnknownType}
	}

	found, err := e.find(ctx, ref.ID)
	if err != nil {
		return reflect.Value{}, err
	}
	if found == nil {
		return reflect.Value{}, core.ErrEntityNotFound
	}

	v := reflect.ValueOf(found)
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return reflect.Value{}, core.ErrEntityNotFound
	}
	if want == nil || v.Type().AssignableTo(want) {
		return v, nil
	}
	if v.Kind() == reflect.Pointer && v.Elem().Type().AssignableTo(want) {
		return v.Elem(), nil
	}
	if want.Kind() == reflect.Pointer && v.Type().AssignableTo(want.Elem()) {
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		return p, nil
	}
	return reflect.Value{}, fmt.Errorf("delayed: %s cannot be used as %s", v.Type(), want)
}
