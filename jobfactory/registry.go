package jobfactory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/quintans/dig-scheduler/scheduler"
	"github.com/quintans/dig-scheduler/scope"
)

var (
	ErrJobTypeNotRegistered = errors.New("job type not registered")
	ErrDuplicateJobType     = errors.New("job type already registered")
)

// Resolver builds a job from a scope.
type Resolver func(*scope.Scope) (scheduler.Job, error)

// Registry maps job type names to the resolvers that build them.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

func NewRegistry() *Registry {
	return &Registry{
		resolvers: map[string]Resolver{},
	}
}

func (r *Registry) Register(jobType string, resolver Resolver) error {
	if jobType == "" || resolver == nil {
		return fmt.Errorf("job type name and resolver are required: %w", scheduler.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.resolvers[jobType]; ok {
		return fmt.Errorf("register '%s': %w", jobType, ErrDuplicateJobType)
	}
	r.resolvers[jobType] = resolver
	return nil
}

// Bind registers jobType to be resolved as T from the execution scope.
// T is expected to be provided to the scope factory.
func Bind[T scheduler.Job](r *Registry, jobType string) error {
	return r.Register(jobType, func(s *scope.Scope) (scheduler.Job, error) {
		job, err := scope.Resolve[T](s)
		if err != nil {
			return nil, err
		}
		return job, nil
	})
}

// Resolve builds the job registered as jobType.
func (r *Registry) Resolve(jobType string, s *scope.Scope) (scheduler.Job, error) {
	r.mu.RLock()
	resolver, ok := r.resolvers[jobType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobTypeNotRegistered, jobType)
	}
	job, err := resolver(s)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("resolver of '%s' returned no job", jobType)
	}
	return job, nil
}

// Types returns the registered job type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.resolvers))
	for k := range r.resolvers {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}
