package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quintans/dig-scheduler/scheduler"
	"github.com/quintans/dig-scheduler/store/memory"
	"github.com/quintans/dig-scheduler/trigger"
)

func TestScheduler(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		store := memory.New()
		factory := newJobFactory(map[string]scheduler.Job{
			"counter": CounterJob{},
		})
		sched := scheduler.NewStdScheduler(store, factory)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err := sched.ScheduleJob(
			ctx,
			scheduler.JobDetail{Key: "print-interval", Type: "counter"},
			trigger.NewSimpleTrigger(3*time.Second),
			scheduler.WithPayload([]byte("Interval job")),
		)
		require.NoError(t, err)
		err = sched.ScheduleJob(
			ctx,
			scheduler.JobDetail{Key: "ad-hoc", Type: "counter"},
			trigger.NewRunOnceTrigger(5*time.Second),
		)
		require.NoError(t, err)

		sched.Start(ctx)

		slugs, err := sched.GetJobSlugs(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"print-interval", "ad-hoc"}, slugs)

		time.Sleep(10 * time.Second)

		slugs, err = sched.GetJobSlugs(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"print-interval"}, slugs)

		sj, err := sched.GetScheduledJob(ctx, "print-interval")
		require.NoError(t, err)
		assert.Equal(t, "counter", sj.Detail.Type)
		assert.Equal(t, "SimpleTrigger with the interval 3s.", sj.TriggerDescription)
		assert.Equal(t, scheduler.StateNormal, sj.State)

		st, err := store.Get(ctx, "print-interval")
		require.NoError(t, err)
		assert.Equal(t, "Interval job#3", string(st.Payload))
		assert.Equal(t, "3", st.Result)
		assert.True(t, st.IsOK())

		err = sched.DeleteJob(ctx, "print-interval")
		require.NoError(t, err)

		slugs, err = sched.GetJobSlugs(ctx)
		require.NoError(t, err)
		assert.Empty(t, slugs)

		assert.Equal(t, int32(4), factory.returned.Load())

		cancel()
		sched.Wait()
	})
}

func TestInstantiationFailureMovesTriggerToErrorState(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		store := memory.New()
		var broken atomic.Bool
		broken.Store(true)
		var calls atomic.Int32
		factory := newJobFactory(map[string]scheduler.Job{
			"report": jobFunc(func(_ context.Context, jec *scheduler.JobExecutionContext) error {
				calls.Add(1)
				if broken.Load() {
					return scheduler.NewInstantiationError(jec.JobDetail().Key, jec.JobDetail().Type, errors.New("missing mailer"))
				}
				return nil
			}),
		})
		sched := scheduler.NewStdScheduler(store, factory, scheduler.StdSchedulerHeartbeatOption(time.Second))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err := sched.ScheduleJob(ctx, scheduler.JobDetail{Key: "daily-report", Type: "report"}, trigger.NewSimpleTrigger(time.Second))
		require.NoError(t, err)
		sched.Start(ctx)

		time.Sleep(5 * time.Second)
		assert.Equal(t, int32(1), calls.Load())

		sj, err := sched.GetScheduledJob(ctx, "daily-report")
		require.NoError(t, err)
		assert.Equal(t, scheduler.StateError, sj.State)
		assert.Contains(t, sj.Result, "problem instantiating job 'daily-report' of type 'report'")
		assert.Contains(t, sj.Result, "missing mailer")

		broken.Store(false)
		err = sched.ResumeTrigger(ctx, "daily-report")
		require.NoError(t, err)

		time.Sleep(500 * time.Millisecond)
		assert.Equal(t, int32(2), calls.Load())

		st, err := store.Get(ctx, "daily-report")
		require.NoError(t, err)
		assert.Equal(t, scheduler.StateNormal, st.State)
		assert.True(t, st.IsOK())

		cancel()
		sched.Wait()
	})
}

func TestFactoryFailureMovesTriggerToErrorState(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		store := memory.New()
		factory := newJobFactory(nil)
		sched := scheduler.NewStdScheduler(store, factory)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err := sched.ScheduleJob(ctx, scheduler.JobDetail{Key: "ghost", Type: "unknown"}, trigger.NewSimpleTrigger(time.Second))
		require.NoError(t, err)
		sched.Start(ctx)

		time.Sleep(3 * time.Second)

		st, err := store.Get(ctx, "ghost")
		require.NoError(t, err)
		assert.Equal(t, scheduler.StateError, st.State)
		assert.Contains(t, st.Result, "no job for type 'unknown'")
		assert.False(t, st.IsOK())
		assert.Equal(t, int32(0), factory.returned.Load())

		cancel()
		sched.Wait()
	})
}

func TestFailedJobIsRetriedWithBackoff(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		store := memory.New()
		var calls atomic.Int32
		factory := newJobFactory(map[string]scheduler.Job{
			"flaky": jobFunc(func(_ context.Context, jec *scheduler.JobExecutionContext) error {
				if calls.Add(1) < 3 {
					return errors.New("boom")
				}
				jec.SetResult("done")
				return nil
			}),
		})
		sched := scheduler.NewStdScheduler(store, factory)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		start := time.Now()
		err := sched.ScheduleJob(
			ctx,
			scheduler.JobDetail{Key: "flaky", Type: "flaky"},
			trigger.NewSimpleTrigger(time.Hour),
			scheduler.WithWhen(start.Add(time.Second)),
			scheduler.WithBackoff(trigger.NewFixedBackoff(time.Second, 2*time.Second)),
		)
		require.NoError(t, err)
		sched.Start(ctx)

		time.Sleep(1500 * time.Millisecond)
		st, err := store.Get(ctx, "flaky")
		require.NoError(t, err)
		assert.Equal(t, 1, st.Retry)
		assert.Equal(t, "boom", st.Result)
		assert.True(t, start.Add(2*time.Second).Equal(st.When))
		assert.Equal(t, scheduler.StateNormal, st.State)

		time.Sleep(3 * time.Second)
		assert.Equal(t, int32(3), calls.Load())
		st, err = store.Get(ctx, "flaky")
		require.NoError(t, err)
		assert.Equal(t, 0, st.Retry)
		assert.Equal(t, "done", st.Result)
		assert.True(t, start.Add(4*time.Second+time.Hour).Equal(st.When))

		cancel()
		sched.Wait()
	})
}

func TestExhaustedBackoffRemovesTask(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		store := memory.New()
		factory := newJobFactory(map[string]scheduler.Job{
			"failing": jobFunc(func(context.Context, *scheduler.JobExecutionContext) error {
				return errors.New("disk full")
			}),
		})
		sched := scheduler.NewStdScheduler(store, factory)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err := sched.ScheduleJob(
			ctx,
			scheduler.JobDetail{Key: "cleanup", Type: "failing"},
			trigger.NewSimpleTrigger(time.Second),
			scheduler.WithBackoff(trigger.NewFixedBackoff()),
		)
		require.NoError(t, err)
		sched.Start(ctx)

		time.Sleep(2 * time.Second)

		_, err = store.Get(ctx, "cleanup")
		require.ErrorIs(t, err, scheduler.ErrJobNotFound)

		cancel()
		sched.Wait()
	})
}

func TestPanickingJobIsRetried(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		store := memory.New()
		factory := newJobFactory(map[string]scheduler.Job{
			"panic": jobFunc(func(context.Context, *scheduler.JobExecutionContext) error {
				panic("kaboom")
			}),
		})
		sched := scheduler.NewStdScheduler(store, factory, scheduler.StdSchedulerMinBackoffOption(time.Minute))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err := sched.ScheduleJob(ctx, scheduler.JobDetail{Key: "unstable", Type: "panic"}, trigger.NewSimpleTrigger(time.Second))
		require.NoError(t, err)
		sched.Start(ctx)

		time.Sleep(2 * time.Second)

		st, err := store.Get(ctx, "unstable")
		require.NoError(t, err)
		assert.Equal(t, 1, st.Retry)
		assert.Equal(t, scheduler.StateNormal, st.State)
		assert.Contains(t, st.Result, "kaboom")
		assert.Equal(t, int32(1), factory.returned.Load())

		cancel()
		sched.Wait()
	})
}

func TestConcurrentScheduling(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		store := memory.New()
		var calls atomic.Int32
		jobs := map[string]scheduler.Job{
			"print": jobFunc(func(context.Context, *scheduler.JobExecutionContext) error {
				calls.Add(1)
				return nil
			}),
		}
		sched1 := scheduler.NewStdScheduler(store, newJobFactory(jobs), scheduler.StdSchedulerHeartbeatOption(500*time.Millisecond))
		sched2 := scheduler.NewStdScheduler(store, newJobFactory(jobs), scheduler.StdSchedulerHeartbeatOption(500*time.Millisecond))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		detail := scheduler.JobDetail{Key: "print", Type: "print"}
		err := sched1.ScheduleJob(ctx, detail, trigger.NewSimpleTrigger(time.Second))
		require.NoError(t, err)
		err = sched2.ScheduleJob(ctx, detail, trigger.NewSimpleTrigger(time.Second))
		require.NoError(t, err)

		sched1.Start(ctx)
		sched2.Start(ctx)

		time.Sleep(3500 * time.Millisecond)
		assert.Equal(t, int32(3), calls.Load())

		cancel()
		sched1.Wait()
		sched2.Wait()
	})
}

func TestScheduleJobValidation(t *testing.T) {
	sched := scheduler.NewStdScheduler(memory.New(), newJobFactory(nil))

	err := sched.ScheduleJob(t.Context(), scheduler.JobDetail{Type: "print"}, trigger.NewSimpleTrigger(time.Second))
	require.ErrorIs(t, err, scheduler.ErrInvalidArgument)

	err = sched.ScheduleJob(t.Context(), scheduler.JobDetail{Key: "print"}, trigger.NewSimpleTrigger(time.Second))
	require.ErrorIs(t, err, scheduler.ErrInvalidArgument)

	err = sched.ScheduleJob(t.Context(), scheduler.JobDetail{Key: "print", Type: "print"}, nil)
	require.ErrorIs(t, err, scheduler.ErrInvalidArgument)
}

func TestResumeUnknownTrigger(t *testing.T) {
	sched := scheduler.NewStdScheduler(memory.New(), newJobFactory(nil))

	err := sched.ResumeTrigger(t.Context(), "nope")
	require.ErrorIs(t, err, scheduler.ErrJobNotFound)
}

type jobFactory struct {
	jobs     map[string]scheduler.Job
	returned atomic.Int32
}

func newJobFactory(jobs map[string]scheduler.Job) *jobFactory {
	return &jobFactory{jobs: jobs}
}

func (f *jobFactory) NewJob(bundle *scheduler.TriggerFiredBundle, _ scheduler.Scheduler) (scheduler.Job, error) {
	job, ok := f.jobs[bundle.JobDetail.Type]
	if !ok {
		return nil, fmt.Errorf("no job for type '%s'", bundle.JobDetail.Type)
	}
	return job, nil
}

func (f *jobFactory) ReturnJob(scheduler.Job) {
	f.returned.Add(1)
}

type jobFunc func(context.Context, *scheduler.JobExecutionContext) error

func (f jobFunc) Execute(ctx context.Context, jec *scheduler.JobExecutionContext) error {
	return f(ctx, jec)
}

// CounterJob appends an execution counter to the payload.
type CounterJob struct{}

func (CounterJob) Execute(_ context.Context, jec *scheduler.JobExecutionContext) error {
	payload := string(jec.Payload())
	splits := strings.Split(payload, "#")
	count := 1
	if len(splits) > 1 {
		c, err := strconv.Atoi(splits[1])
		if err != nil {
			return err
		}
		count = c + 1
	}
	jec.SetPayload(fmt.Appendf(nil, "%s#%d", splits[0], count))
	jec.SetResult(strconv.Itoa(count))
	return nil
}
