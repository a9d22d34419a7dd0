package scheduler

import (
	"context"
	"time"
)

// TriggerState is the state of a stored trigger.
type TriggerState string

const (
	// StateNormal triggers fire when their time arrives.
	StateNormal TriggerState = "NORMAL"
	// StateError triggers are not fired until they are resumed.
	// A trigger enters this state when its job could not be instantiated.
	StateError TriggerState = "ERROR"
)

// JobStore represents the store for the jobs to be executed
type JobStore interface {
	// Create schedule a new task
	Create(context.Context, *StoreTask) error
	// NextRun finds the next task to run. Locked and error state tasks are ignored.
	NextRun(context.Context) (*StoreTask, error)
	// Lock locks the task, failing with ErrJobNotLocked if it was changed meanwhile
	Lock(context.Context, *StoreTask) (*StoreTask, error)
	// Release releases the acquired lock and updates the data for the next run
	Release(context.Context, *StoreTask) error
	// Resume moves an error state task back to the normal state, to run at the given time
	Resume(ctx context.Context, slug string, when time.Time) error
	// GetSlugs gets all the slugs
	GetSlugs(context.Context) ([]string, error)
	// Get gets a stored task
	Get(ctx context.Context, slug string) (*StoreTask, error)
	// Delete deletes a stored task
	Delete(ctx context.Context, slug string) error
	// Clear all the tasks
	Clear(context.Context) error
}

// StoreTask is the persisted state of a scheduled trigger.
// Slug is the trigger key.
type StoreTask struct {
	Slug    string
	JobKey  string
	Kind    string
	Payload []byte
	When    time.Time
	Version int64
	Retry   int
	Result  string
	State   TriggerState
}

func (s *StoreTask) IsOK() bool {
	return s.Retry == 0 && s.State != StateError
}
