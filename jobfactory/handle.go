package jobfactory

import (
	"context"
	"fmt"

	"github.com/quintans/dig-scheduler/scheduler"
	"github.com/quintans/dig-scheduler/scope"
)

// executionHandle is the job handed to the scheduler.
// Each Execute runs in a scope of its own.
type executionHandle struct {
	factory *JobFactory
	bundle  *scheduler.TriggerFiredBundle
}

// Execute opens a scope, resolves the job of the bundle from it and runs it.
// The scope is released on every exit path, panics included.
// Failing to open the scope or to resolve the job is reported as a
// *scheduler.InstantiationError. Errors of the job itself are returned as is.
func (h *executionHandle) Execute(ctx context.Context, jec *scheduler.JobExecutionContext) error {
	if jec == nil {
		return fmt.Errorf("job execution context is required: %w", scheduler.ErrInvalidArgument)
	}

	f := h.factory
	detail := h.bundle.JobDetail

	sc, err := f.scopes.New()
	if err != nil {
		f.metrics.executed(ctx, detail.Type, outcomeInstantiationFailure)
		return scheduler.NewInstantiationError(detail.Key, detail.Type, err)
	}
	f.metrics.scopeOpened(ctx)

	outcome := outcomePanic
	defer func() {
		h.release(ctx, jec, sc)
		f.metrics.executed(ctx, detail.Type, outcome)
	}()

	jec.Put(ScopeKey, sc)

	job, err := h.resolve(sc)
	if err != nil {
		outcome = outcomeInstantiationFailure
		return scheduler.NewInstantiationError(detail.Key, detail.Type, err)
	}
	f.logger.Debug("executing job '%s' of type '%s' in scope '%s'", detail.Key, detail.Type, sc)

	for _, l := range f.listeners {
		l.JobToBeExecuted(ctx, jec)
	}
	err = job.Execute(ctx, jec)
	for _, l := range f.listeners {
		l.JobWasExecuted(ctx, jec, err)
	}

	if err != nil {
		outcome = outcomeExecutionFailure
		return err
	}
	outcome = outcomeSuccess
	return nil
}

// resolve builds the job from the scope. A panicking resolver is a resolution failure.
func (h *executionHandle) resolve(sc *scope.Scope) (job scheduler.Job, err error) {
	defer func() {
		if r := recover(); r != nil {
			job = nil
			err = fmt.Errorf("job resolver panicked: %v", r)
		}
	}()
	return h.factory.registry.Resolve(h.bundle.JobDetail.Type, sc)
}

// release unpublishes the scope and releases it. Releasing always happens last,
// even if unpublishing panics.
func (h *executionHandle) release(ctx context.Context, jec *scheduler.JobExecutionContext, sc *scope.Scope) {
	f := h.factory
	detail := h.bundle.JobDetail

	defer func() {
		err := sc.Release()
		f.metrics.scopeClosed(ctx, detail.Type, err != nil)
		if err != nil {
			f.logger.Error("job '%s' of type '%s' leaked resources: %v", detail.Key, detail.Type, err)
		}
	}()

	jec.Remove(ScopeKey)
}
