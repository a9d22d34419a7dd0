// Package app assembles the job runner with fx.
package app

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/dig"
	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/quintans/dig-scheduler/internal/config"
	"github.com/quintans/dig-scheduler/jobfactory"
	"github.com/quintans/dig-scheduler/jobs"
	"github.com/quintans/dig-scheduler/scheduler"
	"github.com/quintans/dig-scheduler/scope"
	"github.com/quintans/dig-scheduler/trigger"
)

// Module provides every component of the job runner and starts the scheduler with the app.
func Module(cfg config.Config) fx.Option {
	return fx.Module("jobrunner",
		fx.Supply(cfg),
		fx.Provide(
			newLogOutput,
			newZerolog,
			newLogger,
			newMeterProvider,
			newRoot,
			newScopeFactory,
			newRegistry,
			newJobFactory,
			newStore,
			newScheduler,
		),
		fx.Invoke(registerRunner),
	)
}

// New returns the application for the configuration.
func New(cfg config.Config, opts ...fx.Option) *fx.App {
	return fx.New(append([]fx.Option{Module(cfg), fx.NopLogger}, opts...)...)
}

func newMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}

// Root is the application lifetime container the child scopes borrow from.
type Root struct {
	*dig.Container
}

func newRoot(logger scheduler.Logger) (Root, error) {
	c := dig.New()
	if err := c.Provide(func() scheduler.Logger { return logger }); err != nil {
		return Root{}, err
	}
	return Root{Container: c}, nil
}

func newScopeFactory(cfg config.Config, root Root) *scope.Factory {
	return scope.NewFactory(root.Container, cfg.Scope)
}

func newRegistry(cfg config.Config, root Root, scopes *scope.Factory) (*jobfactory.Registry, error) {
	registry := jobfactory.NewRegistry()
	err := jobs.Register(root.Container, scopes, registry, jobs.WithHTTPTimeout(cfg.HTTP.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}
	return registry, nil
}

type jobFactoryParams struct {
	fx.In

	Scopes        *scope.Factory
	Registry      *jobfactory.Registry
	Logger        scheduler.Logger
	MeterProvider metric.MeterProvider
	Listeners     []jobfactory.Listener `group:"listeners"`
}

func newJobFactory(p jobFactoryParams) (*jobfactory.JobFactory, error) {
	opts := []jobfactory.Option{
		jobfactory.WithLogger(p.Logger),
		jobfactory.WithMeterProvider(p.MeterProvider),
	}
	for _, l := range p.Listeners {
		opts = append(opts, jobfactory.WithListener(l))
	}
	return jobfactory.New(p.Scopes, p.Registry, opts...)
}

func newScheduler(cfg config.Config, store scheduler.JobStore, factory *jobfactory.JobFactory, logger scheduler.Logger) *scheduler.StdScheduler {
	return scheduler.NewStdScheduler(
		store,
		factory,
		scheduler.StdSchedulerHeartbeatOption(cfg.Scheduler.Heartbeat),
		scheduler.StdSchedulerMinBackoffOption(cfg.Scheduler.MinBackoff),
		scheduler.StdSchedulerMaxBackoffOption(cfg.Scheduler.MaxBackoff),
		scheduler.StdSchedulerJitterOption(cfg.Scheduler.Jitter),
		scheduler.StdSchedulerLoggerOption(logger),
	)
}

func registerRunner(lc fx.Lifecycle, cfg config.Config, sched *scheduler.StdScheduler, registry *jobfactory.Registry, logger scheduler.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := scheduleJobs(startCtx, sched, registry, cfg.Jobs); err != nil {
				return err
			}
			sched.Start(ctx)
			logger.Info("scheduler started with job types %v", registry.Types())
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			sched.Wait()
			logger.Info("scheduler stopped")
			return nil
		},
	})
}

// scheduleJobs schedules the configured jobs. Unknown job types are rejected before anything is stored.
func scheduleJobs(ctx context.Context, sched scheduler.Scheduler, registry *jobfactory.Registry, cfgs []config.JobConfig) error {
	known := map[string]bool{}
	for _, t := range registry.Types() {
		known[t] = true
	}

	var errs error
	triggers := make([]trigger.Trigger, len(cfgs))
	for i, jc := range cfgs {
		if !known[jc.Type] {
			errs = multierr.Append(errs, fmt.Errorf("job '%s': %w: '%s'", jc.Key, jobfactory.ErrJobTypeNotRegistered, jc.Type))
			continue
		}
		trg, err := newTrigger(jc)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("job '%s': %w", jc.Key, err))
			continue
		}
		triggers[i] = trg
	}
	if errs != nil {
		return errs
	}

	for i, jc := range cfgs {
		err := sched.ScheduleJob(
			ctx,
			scheduler.JobDetail{Key: jc.Key, Type: jc.Type},
			triggers[i],
			scheduler.WithPayload([]byte(jc.Payload)),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule job '%s': %w", jc.Key, err)
		}
	}
	return nil
}

func newTrigger(jc config.JobConfig) (trigger.Trigger, error) {
	if jc.Cron != "" {
		trg, err := trigger.NewCronTrigger(jc.Cron)
		if err != nil {
			return nil, err
		}
		return trg, nil
	}
	return trigger.NewSimpleTrigger(jc.Interval), nil
}
