package jobfactory

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/quintans/dig-scheduler/jobfactory"

const (
	outcomeSuccess              = "success"
	outcomeInstantiationFailure = "instantiation_failure"
	outcomeExecutionFailure     = "execution_failure"
	outcomePanic                = "panic"
)

type metrics struct {
	executions      metric.Int64Counter
	activeScopes    metric.Int64UpDownCounter
	releaseFailures metric.Int64Counter
}

func newMetrics(provider metric.MeterProvider) (*metrics, error) {
	meter := provider.Meter(instrumentationName)

	executions, err := meter.Int64Counter(
		"jobfactory.executions",
		metric.WithDescription("Job executions by outcome."),
	)
	if err != nil {
		return nil, err
	}
	activeScopes, err := meter.Int64UpDownCounter(
		"jobfactory.scopes.active",
		metric.WithDescription("Execution scopes currently open."),
	)
	if err != nil {
		return nil, err
	}
	releaseFailures, err := meter.Int64Counter(
		"jobfactory.scopes.release_failures",
		metric.WithDescription("Execution scopes that failed to release their resources."),
	)
	if err != nil {
		return nil, err
	}

	return &metrics{
		executions:      executions,
		activeScopes:    activeScopes,
		releaseFailures: releaseFailures,
	}, nil
}

func (m *metrics) executed(ctx context.Context, jobType, outcome string) {
	m.executions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job.type", jobType),
		attribute.String("outcome", outcome),
	))
}

func (m *metrics) scopeOpened(ctx context.Context) {
	m.activeScopes.Add(ctx, 1)
}

func (m *metrics) scopeClosed(ctx context.Context, jobType string, failed bool) {
	m.activeScopes.Add(ctx, -1)
	if failed {
		m.releaseFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("job.type", jobType)))
	}
}
