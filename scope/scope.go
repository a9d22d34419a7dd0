package scope

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/dig"
	"go.uber.org/multierr"
)

var ErrReleased = errors.New("scope already released")

// Scope is a child dependency scope, owned by a single unit of work.
type Scope struct {
	id   string
	name string
	c    *dig.Container

	invokeMu sync.Mutex

	mu       sync.Mutex
	hooks    []func() error
	released bool

	once       sync.Once
	releaseErr error
}

// ID returns the identifier of the scope, unique across every scope.
func (s *Scope) ID() string {
	return s.id
}

// Name returns the label of the factory that created the scope.
func (s *Scope) Name() string {
	return s.name
}

func (s *Scope) String() string {
	return s.name + "#" + s.id
}

// Invoke runs fn with its arguments resolved from the scope.
func (s *Scope) Invoke(fn any) error {
	if s.Released() {
		return fmt.Errorf("invoke on '%s': %w", s, ErrReleased)
	}

	s.invokeMu.Lock()
	defer s.invokeMu.Unlock()

	return s.c.Invoke(fn)
}

// Resolve returns the T built by the scope.
func Resolve[T any](s *Scope) (T, error) {
	var v T
	err := s.Invoke(func(t T) {
		v = t
	})
	return v, err
}

// OnRelease registers a function to be called when the scope is released.
// Functions are called in reverse registration order.
// If the scope is already released fn is called right away.
func (s *Scope) OnRelease(fn func() error) error {
	s.mu.Lock()
	if !s.released {
		s.hooks = append(s.hooks, fn)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return callHook(fn)
}

func (s *Scope) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.released
}

// Release calls the registered release functions. Only the first call has effect;
// later calls return the same error.
func (s *Scope) Release() error {
	s.once.Do(func() {
		s.mu.Lock()
		hooks := s.hooks
		s.hooks = nil
		s.released = true
		s.mu.Unlock()

		var err error
		for i := len(hooks) - 1; i >= 0; i-- {
			err = multierr.Append(err, callHook(hooks[i]))
		}
		if err != nil {
			s.releaseErr = fmt.Errorf("failed to release scope '%s': %w", s, err)
		}
	})
	return s.releaseErr
}

func callHook(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("release function panicked: %v", r)
		}
	}()
	return fn()
}
