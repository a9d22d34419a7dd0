package store_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quintans/dig-scheduler/scheduler"
	"github.com/quintans/dig-scheduler/trigger"
)

// testStore checks the behaviour every scheduler.JobStore must have.
func testStore(t *testing.T, store scheduler.JobStore) {
	ctx := context.Background()
	require.NoError(t, store.Clear(ctx))

	now := time.Now().UTC().Truncate(time.Second)
	first := &scheduler.StoreTask{Slug: "first", JobKey: "report", Kind: "email", Payload: []byte("a"), When: now.Add(time.Second)}
	second := &scheduler.StoreTask{Slug: "second", JobKey: "cleanup", Kind: "shell", When: now.Add(2 * time.Second)}

	require.NoError(t, store.Create(ctx, second))
	require.NoError(t, store.Create(ctx, first))
	err := store.Create(ctx, first)
	require.ErrorIs(t, err, scheduler.ErrJobAlreadyExists)

	slugs, err := store.GetSlugs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"first", "second"}, slugs)

	next, err := store.NextRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", next.Slug)
	assert.Equal(t, "report", next.JobKey)
	assert.Equal(t, "email", next.Kind)
	assert.Equal(t, []byte("a"), next.Payload)
	assert.Equal(t, scheduler.StateNormal, next.State)
	assert.True(t, next.When.Equal(first.When))

	// stale version
	stale := *next
	stale.Version++
	_, err = store.Lock(ctx, &stale)
	require.ErrorIs(t, err, scheduler.ErrJobNotLocked)

	locked, err := store.Lock(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, next.Version+1, locked.Version)

	// locked tasks are not returned and cannot be locked again
	next2, err := store.NextRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", next2.Slug)
	_, err = store.Lock(ctx, next)
	require.ErrorIs(t, err, scheduler.ErrJobNotLocked)

	// release into the error state
	locked.State = scheduler.StateError
	locked.Result = "missing dependency"
	require.NoError(t, store.Release(ctx, locked))

	errored, err := store.Get(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, scheduler.StateError, errored.State)
	assert.Equal(t, "missing dependency", errored.Result)
	assert.False(t, errored.IsOK())

	next, err = store.NextRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", next.Slug)
	_, err = store.Lock(ctx, errored)
	require.ErrorIs(t, err, scheduler.ErrJobNotLocked)

	// resume
	resumeAt := now.Add(-time.Second)
	require.NoError(t, store.Resume(ctx, "first", resumeAt))
	resumed, err := store.Get(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, scheduler.StateNormal, resumed.State)
	assert.Equal(t, 0, resumed.Retry)
	assert.True(t, resumed.When.Equal(resumeAt))

	next, err = store.NextRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", next.Slug)

	// resuming a healthy task does nothing
	require.NoError(t, store.Resume(ctx, "second", now))
	err = store.Resume(ctx, "unknown", now)
	require.ErrorIs(t, err, scheduler.ErrJobNotFound)

	// normal release, with a new schedule
	locked, err = store.Lock(ctx, next)
	require.NoError(t, err)
	locked.When = now.Add(time.Hour)
	locked.Payload = []byte("b")
	locked.Retry = 1
	require.NoError(t, store.Release(ctx, locked))

	released, err := store.Get(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), released.Payload)
	assert.Equal(t, 1, released.Retry)
	assert.True(t, released.When.Equal(now.Add(time.Hour)))

	next, err = store.NextRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", next.Slug)

	// delete
	require.NoError(t, store.Delete(ctx, "second"))
	err = store.Delete(ctx, "second")
	require.ErrorIs(t, err, scheduler.ErrJobNotFound)
	_, err = store.Get(ctx, "second")
	require.ErrorIs(t, err, scheduler.ErrJobNotFound)

	require.NoError(t, store.Clear(ctx))
	_, err = store.NextRun(ctx)
	require.ErrorIs(t, err, scheduler.ErrJobNotFound)
	slugs, err = store.GetSlugs(ctx)
	require.NoError(t, err)
	assert.Empty(t, slugs)
}

// testScheduler runs the scheduler engine against the store.
func testScheduler(t *testing.T, store scheduler.JobStore) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.Clear(ctx))

	var runs atomic.Int32
	factory := jobFactory{
		"count": jobFunc(func(_ context.Context, jec *scheduler.JobExecutionContext) error {
			runs.Add(1)
			return nil
		}),
		"broken": jobFunc(func(_ context.Context, jec *scheduler.JobExecutionContext) error {
			return scheduler.NewInstantiationError(jec.JobDetail().Key, jec.JobDetail().Type, errors.New("no constructor"))
		}),
	}
	sched := scheduler.NewStdScheduler(
		store,
		factory,
		scheduler.StdSchedulerMinBackoffOption(100*time.Millisecond),
		scheduler.StdSchedulerHeartbeatOption(200*time.Millisecond),
	)

	require.NoError(t, sched.ScheduleJob(ctx, scheduler.JobDetail{Key: "count", Type: "count"}, trigger.NewSimpleTrigger(300*time.Millisecond)))
	require.NoError(t, sched.ScheduleJob(ctx, scheduler.JobDetail{Key: "broken", Type: "broken"}, trigger.NewSimpleTrigger(300*time.Millisecond)))
	require.NoError(t, sched.ScheduleJob(ctx, scheduler.JobDetail{Key: "once", Type: "count"}, trigger.NewRunOnceTrigger(100*time.Millisecond)))
	sched.Start(ctx)

	require.Eventually(t, func() bool {
		return runs.Load() >= 4
	}, 5*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		st, err := store.Get(ctx, "broken")
		return err == nil && st.State == scheduler.StateError
	}, 5*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := store.Get(ctx, "once")
		return errors.Is(err, scheduler.ErrJobNotFound)
	}, 5*time.Second, 50*time.Millisecond)

	st, err := store.Get(ctx, "count")
	require.NoError(t, err)
	assert.Equal(t, scheduler.StateNormal, st.State)

	require.NoError(t, sched.DeleteJob(ctx, "count"))
	slugs, err := sched.GetJobSlugs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"broken"}, slugs)

	cancel()
	sched.Wait()
}

type jobFactory map[string]scheduler.Job

func (f jobFactory) NewJob(bundle *scheduler.TriggerFiredBundle, _ scheduler.Scheduler) (scheduler.Job, error) {
	job, ok := f[bundle.JobDetail.Type]
	if !ok {
		return nil, scheduler.ErrInvalidArgument
	}
	return job, nil
}

func (jobFactory) ReturnJob(scheduler.Job) {}

type jobFunc func(context.Context, *scheduler.JobExecutionContext) error

func (f jobFunc) Execute(ctx context.Context, jec *scheduler.JobExecutionContext) error {
	return f(ctx, jec)
}
