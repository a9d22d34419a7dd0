package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/quintans/dig-scheduler/internal/lib"
	"github.com/quintans/dig-scheduler/trigger"
)

type KnownTasks struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewKnownTasks() *KnownTasks {
	return &KnownTasks{
		tasks: map[string]*Task{},
	}
}

func (m *KnownTasks) Add(slug string, task *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks[slug] = task
}

func (m *KnownTasks) Get(slug string) *Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.tasks[slug]
}

func (m *KnownTasks) Delete(slug string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tasks, slug)
}

func (m *KnownTasks) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks = map[string]*Task{}
}

// Task is what the scheduler keeps in memory for a trigger. Triggers and
// backoffs are not persisted, so every process must schedule the same jobs.
type Task struct {
	Detail  JobDetail
	Trigger trigger.Trigger
	Backoff trigger.Backoff
}

type ScheduledJob struct {
	Detail             JobDetail
	TriggerDescription string
	NextRunTime        time.Time
	State              TriggerState
	Retry              int
	Result             string
}

// A Scheduler is the Jobs orchestrator.
// Schedulers responsible for executing Jobs when their associated Triggers fire (when their scheduled time arrives).
type Scheduler interface {
	// start the scheduler
	Start(context.Context)
	// schedule the job with the specified trigger
	ScheduleJob(ctx context.Context, detail JobDetail, trigger trigger.Trigger, options ...ScheduleOption) error
	// get keys of all of the scheduled triggers
	GetJobSlugs(context.Context) ([]string, error)
	// get the scheduled job metadata
	GetScheduledJob(ctx context.Context, slug string) (*ScheduledJob, error)
	// put an error state trigger back to work
	ResumeTrigger(ctx context.Context, slug string) error
	// remove the job from the execution queue
	DeleteJob(ctx context.Context, slug string) error
	// clear all the scheduled jobs
	Clear(context.Context) error
}

var _ Scheduler = (*StdScheduler)(nil)

// StdScheduler implements the scheduler.Scheduler interface.
type StdScheduler struct {
	store      JobStore
	factory    JobFactory
	waiter     *lib.Waiter
	heartbeat  time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
	jitter     time.Duration
	logger     Logger

	// tracks tasks
	tasks *KnownTasks
	// tracks the loops and the running executions
	wg sync.WaitGroup
}

// NewStdScheduler returns a new StdScheduler that builds the jobs with the given factory.
func NewStdScheduler(store JobStore, factory JobFactory, options ...StdSchedulerOption) *StdScheduler {
	s := &StdScheduler{
		store:      store,
		factory:    factory,
		waiter:     lib.NewWaiter(),
		heartbeat:  10 * time.Second,
		minBackoff: 10 * time.Second,
		maxBackoff: 10 * time.Minute,
		logger:     NopLogger(),
		tasks:      NewKnownTasks(),
	}
	for _, f := range options {
		f(s)
	}

	return s
}

type StdSchedulerOption func(*StdScheduler)

func StdSchedulerHeartbeatOption(heartbeat time.Duration) StdSchedulerOption {
	return func(s *StdScheduler) {
		s.heartbeat = heartbeat
	}
}

func StdSchedulerMinBackoffOption(backoff time.Duration) StdSchedulerOption {
	return func(s *StdScheduler) {
		s.minBackoff = backoff
	}
}

func StdSchedulerMaxBackoffOption(backoff time.Duration) StdSchedulerOption {
	return func(s *StdScheduler) {
		s.maxBackoff = backoff
	}
}

func StdSchedulerJitterOption(jitter time.Duration) StdSchedulerOption {
	return func(s *StdScheduler) {
		s.jitter = jitter
	}
}

func StdSchedulerLoggerOption(logger Logger) StdSchedulerOption {
	return func(s *StdScheduler) {
		s.logger = logger
	}
}

type scheduleOptions struct {
	triggerKey string
	payload    []byte
	when       time.Time
	backoff    trigger.Backoff
}

type ScheduleOption func(*scheduleOptions)

// WithTriggerKey sets the slug of the trigger. Defaults to the job key.
func WithTriggerKey(key string) ScheduleOption {
	return func(o *scheduleOptions) {
		o.triggerKey = key
	}
}

func WithPayload(payload []byte) ScheduleOption {
	return func(o *scheduleOptions) {
		o.payload = payload
	}
}

// WithWhen sets the first fire time. Defaults to the trigger's next fire time.
func WithWhen(when time.Time) ScheduleOption {
	return func(o *scheduleOptions) {
		o.when = when
	}
}

// WithBackoff overrides the scheduler's exponential backoff for failed executions.
func WithBackoff(backoff trigger.Backoff) ScheduleOption {
	return func(o *scheduleOptions) {
		o.backoff = backoff
	}
}

// ScheduleJob uses the specified Trigger to schedule the Job.
// If the trigger is already stored (eg: by another process) only the in memory data is registered.
func (s *StdScheduler) ScheduleJob(ctx context.Context, detail JobDetail, trg trigger.Trigger, options ...ScheduleOption) error {
	if detail.Key == "" || detail.Type == "" {
		return fmt.Errorf("job key and type are required: %w", ErrInvalidArgument)
	}
	if trg == nil {
		return fmt.Errorf("trigger is required for job '%s': %w", detail.Key, ErrInvalidArgument)
	}

	opts := scheduleOptions{
		triggerKey: detail.Key,
	}
	for _, o := range options {
		o(&opts)
	}
	if opts.backoff == nil {
		opts.backoff = trigger.NewExponentialBackoff(
			trigger.IncBackoffOption(s.minBackoff),
			trigger.MaxBackoffOption(s.maxBackoff),
		)
	}
	if opts.when.IsZero() {
		var err error
		opts.when, err = trg.NextFireTime(time.Now())
		if err != nil {
			return fmt.Errorf("failed to calculate first run of '%s': %w", opts.triggerKey, err)
		}
	}

	err := s.store.Create(ctx, &StoreTask{
		Slug:    opts.triggerKey,
		JobKey:  detail.Key,
		Kind:    detail.Type,
		Payload: opts.payload,
		When:    opts.when,
		State:   StateNormal,
	})
	if err != nil && !errors.Is(err, ErrJobAlreadyExists) {
		return err
	}

	s.tasks.Add(opts.triggerKey, &Task{
		Detail:  detail,
		Trigger: trg,
		Backoff: opts.backoff,
	})
	s.reset()

	return nil
}

// Start starts the scheduler execution loop.
func (s *StdScheduler) Start(ctx context.Context) {
	// start scheduler execution loop
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.startExecutionLoop(ctx)
	}()

	if s.heartbeat > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.startHeartbeat(ctx)
		}()
	}
}

// Wait blocks until the loops started by Start have exited, after the context is cancelled,
// and all the running executions have finished.
func (s *StdScheduler) Wait() {
	s.wg.Wait()
}

// GetJobSlugs returns the keys of all of the scheduled triggers.
func (s *StdScheduler) GetJobSlugs(ctx context.Context) ([]string, error) {
	return s.store.GetSlugs(ctx)
}

// GetScheduledJob returns the ScheduledJob by the unique key.
func (s *StdScheduler) GetScheduledJob(ctx context.Context, slug string) (*ScheduledJob, error) {
	storedTask, err := s.store.Get(ctx, slug)
	if err != nil {
		return nil, err
	}

	sj := &ScheduledJob{
		Detail: JobDetail{
			Key:  storedTask.JobKey,
			Type: storedTask.Kind,
		},
		NextRunTime: storedTask.When,
		State:       storedTask.State,
		Retry:       storedTask.Retry,
		Result:      storedTask.Result,
	}
	task := s.tasks.Get(storedTask.Slug)
	if task != nil {
		sj.Detail = task.Detail
		sj.TriggerDescription = task.Trigger.Description()
	}
	return sj, nil
}

// ResumeTrigger puts a trigger in error state back in the normal state, to run as soon as possible.
func (s *StdScheduler) ResumeTrigger(ctx context.Context, slug string) error {
	err := s.store.Resume(ctx, slug, time.Now())
	if err != nil {
		return err
	}
	s.reset()
	return nil
}

// DeleteJob removes the job for the specified key from the scheduler if present.
func (s *StdScheduler) DeleteJob(ctx context.Context, slug string) error {
	err := s.store.Delete(ctx, slug)
	if err != nil {
		return err
	}
	s.tasks.Delete(slug)
	s.reset()

	return nil
}

// Clear removes all of the scheduled jobs.
func (s *StdScheduler) Clear(ctx context.Context) error {
	defer s.reset()
	s.tasks.Clear()
	// reset the jobs queue
	return s.store.Clear(ctx)
}

func (s *StdScheduler) startExecutionLoop(ctx context.Context) {
	for {
		// must be acquired before calculating, so that no reset is lost
		wake := s.waiter.Wait()
		st, run, err := s.calculateNextRun(ctx)
		if err != nil {
			s.logger.Error("failed to calculate next run: %v", err)
		}
		if run == nil {
			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-run.C:
			err := s.executeAndReschedule(ctx, st)
			if err != nil {
				s.logger.Error("failed to execute and reschedule task '%s': %+v", st.Slug, err)
			}
		case <-wake:
			run.Stop()
		case <-ctx.Done():
			run.Stop()
			s.logger.Info("Exit the execution loop.")
			return
		}
	}
}

func (s *StdScheduler) calculateNextRun(ctx context.Context) (*StoreTask, *time.Timer, error) {
	st, err := s.store.NextRun(ctx)
	if errors.Is(err, ErrJobNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	park := parkTime(st.When)
	if s.jitter > 0 {
		park += time.Duration(rand.Int63n(int64(s.jitter)))
	}
	return st, time.NewTimer(park), nil
}

func (s *StdScheduler) executeAndReschedule(ctx context.Context, st *StoreTask) error {
	locked, err := s.store.Lock(ctx, st)
	if errors.Is(err, ErrJobNotLocked) || errors.Is(err, ErrJobNotFound) {
		// another process got it first
		return nil
	}
	if err != nil {
		return err
	}

	task := s.tasks.Get(locked.Slug)
	if task == nil {
		s.logger.Warn("unknown task '%s' of type '%s'. Removing it.", locked.Slug, locked.Kind)
		return s.store.Delete(ctx, locked.Slug)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		slug := locked.Slug
		next := s.executeTask(ctx, task, locked)
		if next == nil {
			err := s.store.Delete(ctx, slug)
			if err != nil {
				s.logger.Error("failed to delete task '%s': %+v", slug, err)
			}
			s.tasks.Delete(slug)
			return
		}
		err := s.store.Release(ctx, next)
		if err != nil {
			s.logger.Error("failed to release task '%s': %+v", slug, err)
		}
		s.reset()
	}()

	return nil
}

// executeTask runs the task and returns the task to store back or nil if the task is finished.
func (s *StdScheduler) executeTask(ctx context.Context, task *Task, st *StoreTask) *StoreTask {
	bundle := &TriggerFiredBundle{
		JobDetail:         task.Detail,
		TriggerKey:        st.Slug,
		FireTime:          time.Now(),
		ScheduledFireTime: st.When,
		Payload:           st.Payload,
		Retry:             st.Retry,
	}

	jec, err := s.runJob(ctx, bundle)
	switch {
	case errors.Is(err, ErrInstantiation):
		s.logger.Error("trigger '%s' moved to error state: %v", st.Slug, err)
		st.Result = err.Error()
		st.State = StateError
		return st
	case err != nil:
		st.Result = err.Error()
		st.Retry++
		next, berr := task.Backoff.NextRetryTime(time.Now(), st.Retry)
		if berr != nil {
			s.logger.Warn("giving up on task '%s' after %d retries: %+v", st.Slug, st.Retry-1, err)
			return nil
		}
		s.logger.Warn("failed to execute task '%s'. Retrying at %s: %+v", st.Slug, next.Format(time.RFC3339), err)
		st.When = next
		return st
	}

	st.Retry = 0
	st.Result = jec.Result()
	st.Payload = jec.Payload()
	// reschedule the Job
	next, err := task.Trigger.NextFireTime(st.When)
	if err != nil {
		// will cause this to be removed from the job queue
		return nil
	}
	st.When = next

	return st
}

// runJob asks the factory for the job and executes it.
// A factory failure is reported as an instantiation failure.
func (s *StdScheduler) runJob(ctx context.Context, bundle *TriggerFiredBundle) (jec *JobExecutionContext, err error) {
	job, err := s.factory.NewJob(bundle, s)
	if err != nil {
		if errors.Is(err, ErrInstantiation) {
			return nil, err
		}
		return nil, NewInstantiationError(bundle.JobDetail.Key, bundle.JobDetail.Type, err)
	}
	defer s.factory.ReturnJob(job)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job '%s' panicked: %v", bundle.JobDetail.Key, r)
		}
	}()

	jec = NewJobExecutionContext(bundle, s)
	err = job.Execute(ctx, jec)
	return jec, err
}

func (s *StdScheduler) reset() {
	s.waiter.Poke()
}

func (s *StdScheduler) startHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return
		case <-ticker.C:
			s.reset()
		}
	}
}

func parkTime(ts time.Time) time.Duration {
	park := time.Until(ts)
	if park > 0 {
		return park
	}
	return 0
}
