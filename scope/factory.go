package scope

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/dig"
)

// Factory creates child scopes from a root container.
// The root container is borrowed: it is never released by the Factory.
type Factory struct {
	root *dig.Container
	name string

	// dig containers are not safe for concurrent use
	rootMu sync.Mutex

	mu    sync.RWMutex
	ctors []any
}

// NewFactory returns a Factory whose scopes share the values of root.
// Every scope it creates is labelled with name.
func NewFactory(root *dig.Container, name string) *Factory {
	return &Factory{
		root: root,
		name: name,
	}
}

// Name returns the label given to every scope created by this factory.
func (f *Factory) Name() string {
	return f.name
}

// Provide registers a constructor that is called at most once per child scope.
// The constructor is validated against the ones already registered.
func (f *Factory) Provide(ctor any) error {
	if ctor == nil {
		return errors.New("nil constructor")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ctors := append(f.ctors[:len(f.ctors):len(f.ctors)], ctor)
	if _, err := wire(newContainer(), nil, ctors); err != nil {
		return err
	}
	f.ctors = ctors
	return nil
}

// Share makes T, as provided by the root container, resolvable from every child scope.
// The root builds it at most once, the first time a child asks for it.
func Share[T any](f *Factory) error {
	return f.Provide(func() (T, error) {
		return resolveRoot[T](f)
	})
}

func resolveRoot[T any](f *Factory) (T, error) {
	f.rootMu.Lock()
	defer f.rootMu.Unlock()

	var v T
	err := f.root.Invoke(func(t T) {
		v = t
	})
	return v, err
}

// New creates a new child scope. The caller owns it and must Release it.
func (f *Factory) New() (*Scope, error) {
	f.mu.RLock()
	ctors := f.ctors
	f.mu.RUnlock()

	s := &Scope{
		id:   uuid.NewString(),
		name: f.name,
	}
	c, err := wire(newContainer(), s, ctors)
	if err != nil {
		return nil, fmt.Errorf("failed to create scope '%s': %w", f.name, err)
	}
	s.c = c
	return s, nil
}

// newContainer builds a child container that reports constructor panics as errors.
func newContainer() *dig.Container {
	return dig.New(dig.RecoverFromPanics())
}

func wire(c *dig.Container, s *Scope, ctors []any) (*dig.Container, error) {
	err := c.Provide(func() *Scope { return s })
	if err != nil {
		return nil, err
	}
	for _, ctor := range ctors {
		if err := c.Provide(ctor); err != nil {
			return nil, err
		}
	}
	return c, nil
}
