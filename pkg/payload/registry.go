package payload

import (
	"context"
	"fmt"
	"path"
	"reflect"
	"sync"

	"github.com/jdziat/delayed-jobs/pkg/core"
	"github.com/jdziat/delayed-jobs/pkg/security"
)

// FindFunc fetches a referenced entity by identifier. It must return
// core.ErrEntityNotFound (or an error wrapping it) when the record is gone.
type FindFunc func(ctx context.Context, id string) (any, error)

// Resolver gets a chance to register a type the registry does not know.
type Resolver interface {
	Resolve(name string) error
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string) error

// Resolve calls f(name).
func (f ResolverFunc) Resolve(name string) error { return f(name) }

type entry struct {
	tag  string
	typ  reflect.Type
	find FindFunc
}

// Registry maps type tags to Go types.
type Registry struct {
	mu       sync.RWMutex
	byTag    map[string]*entry
	byType   map[reflect.Type]*entry
	resolver Resolver
}

// NewRegistry returns a registry that already knows MethodCall.
func NewRegistry() *Registry {
	r := &Registry{
		byTag:  make(map[string]*entry),
		byType: make(map[reflect.Type]*entry),
	}
	r.add(&entry{tag: MethodCallTag, typ: reflect.TypeOf(MethodCall{})})
	return r
}

// Register makes prototype's type decodable under tag. Pointer and value
// prototypes register the same type.
func (r *Registry) Register(tag string, prototype any) error {
	if err := security.ValidateTypeName(tag); err != nil {
		return err
	}
	t := baseType(prototype)
	if t == nil {
		return fmt.Errorf("delayed: cannot register nil prototype for %q", tag)
	}
	r.add(&entry{tag: tag, typ: t})
	return nil
}

// RegisterEntity registers prototype's type as an externally stored entity.
// Values of this type are encoded as reference tokens and loaded with find.
func (r *Registry) RegisterEntity(tag string, prototype core.Entity, find FindFunc) error {
	if err := security.ValidateTypeName(tag); err != nil {
		return err
	}
	if find == nil {
		return fmt.Errorf("delayed: entity %q needs a finder", tag)
	}
	t := baseType(prototype)
	if t == nil {
		return fmt.Errorf("delayed: cannot register nil prototype for %q", tag)
	}
	r.add(&entry{tag: tag, typ: t, find: find})
	return nil
}

// SetResolver installs the fallback used for unknown tags.
func (r *Registry) SetResolver(res Resolver) {
	r.mu.Lock()
	r.resolver = res
	r.mu.Unlock()
}

// Known reports whether tag is registered.
func (r *Registry) Known(tag string) bool {
	_, ok := r.lookup(tag)
	return ok
}

// TagOf returns the tag registered for v's type.
func (r *Registry) TagOf(v any) (string, bool) {
	t := baseType(v)
	if t == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byType[t]
	if !ok {
		return "", false
	}
	return e.tag, true
}

func (r *Registry) add(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byTag[e.tag]; ok {
		delete(r.byType, old.typ)
	}
	r.byTag[e.tag] = e
	r.byType[e.typ] = e
}

func (r *Registry) lookup(tag string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byTag[tag]
	return e, ok
}

func (r *Registry) entityFor(v any) (*entry, bool) {
	t := baseType(v)
	if t == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byType[t]
	if !ok || e.find == nil {
		return nil, false
	}
	return e, true
}

// tagFor returns v's tag, registering a default one on first use.
func (r *Registry) tagFor(v any) (string, error) {
	if tag, ok := r.TagOf(v); ok {
		return tag, nil
	}
	t := baseType(v)
	if t == nil || t.Name() == "" {
		return "", &core.ArgumentError{Reason: fmt.Sprintf("cannot encode unnamed type %T", v)}
	}
	tag := DefaultTag(t)
	if err := r.Register(tag, v); err != nil {
		return "", err
	}
	return tag, nil
}

// newValue returns a pointer to a fresh zero value of tag's type.
func (r *Registry) newValue(tag string) (reflect.Value, bool) {
	e, ok := r.lookup(tag)
	if !ok {
		return reflect.Value{}, false
	}
	return reflect.New(e.typ), true
}

func (r *Registry) currentResolver() Resolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolver
}

// DefaultTag derives "<package>.<Type>" from a Go type.
func DefaultTag(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	pkg := path.Base(t.PkgPath())
	if pkg == "." || pkg == "/" || pkg == "" {
		return t.Name()
	}
	return pkg + "." + t.Name()
}

func baseType(v any) reflect.Type {
	if v == nil {
		return nil
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
