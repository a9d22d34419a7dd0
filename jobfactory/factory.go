package jobfactory

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/quintans/dig-scheduler/scheduler"
	"github.com/quintans/dig-scheduler/scope"
)

// ScopeKey is the key under which the scope of the running execution is
// published in the scheduler.JobExecutionContext.
const ScopeKey = "dig-scheduler.scope"

// ScopeFactory creates the child scope of each execution.
type ScopeFactory interface {
	Name() string
	New() (*scope.Scope, error)
}

// Listener is notified around the execution of a resolved job.
// The execution scope is available through ScopeFrom while the listener runs.
type Listener interface {
	JobToBeExecuted(ctx context.Context, jec *scheduler.JobExecutionContext)
	JobWasExecuted(ctx context.Context, jec *scheduler.JobExecutionContext, err error)
}

var _ scheduler.JobFactory = (*JobFactory)(nil)

// JobFactory is a scheduler.JobFactory that resolves every job from a new child scope.
type JobFactory struct {
	scopes        ScopeFactory
	registry      *Registry
	logger        scheduler.Logger
	listeners     []Listener
	meterProvider metric.MeterProvider
	metrics       *metrics
}

type Option func(*JobFactory)

func WithLogger(logger scheduler.Logger) Option {
	return func(f *JobFactory) {
		f.logger = logger
	}
}

func WithListener(listener Listener) Option {
	return func(f *JobFactory) {
		f.listeners = append(f.listeners, listener)
	}
}

// WithMeterProvider sets the provider of the factory metrics. Defaults to the global one.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(f *JobFactory) {
		f.meterProvider = provider
	}
}

func New(scopes ScopeFactory, registry *Registry, options ...Option) (*JobFactory, error) {
	if scopes == nil || registry == nil {
		return nil, fmt.Errorf("scope factory and registry are required: %w", scheduler.ErrInvalidArgument)
	}

	f := &JobFactory{
		scopes:        scopes,
		registry:      registry,
		logger:        scheduler.NopLogger(),
		meterProvider: otel.GetMeterProvider(),
	}
	for _, o := range options {
		o(f)
	}

	m, err := newMetrics(f.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create job factory metrics: %w", err)
	}
	f.metrics = m

	return f, nil
}

// NewJob returns a job that, when executed, resolves and runs the job of the bundle
// inside its own scope. Nothing is resolved here.
func (f *JobFactory) NewJob(bundle *scheduler.TriggerFiredBundle, sched scheduler.Scheduler) (scheduler.Job, error) {
	if bundle == nil {
		return nil, fmt.Errorf("trigger fired bundle is required: %w", scheduler.ErrInvalidArgument)
	}
	if sched == nil {
		return nil, fmt.Errorf("scheduler is required: %w", scheduler.ErrInvalidArgument)
	}

	return &executionHandle{
		factory: f,
		bundle:  bundle,
	}, nil
}

// ReturnJob does nothing. Resources are tied to the execution, not to the job.
func (f *JobFactory) ReturnJob(scheduler.Job) {}

// ScopeFrom returns the scope published in the execution context, if any.
func ScopeFrom(jec *scheduler.JobExecutionContext) (*scope.Scope, bool) {
	v, ok := jec.Get(ScopeKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*scope.Scope)
	return s, ok
}
