package trigger

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrExpired = errors.New("trigger has expired")

// Trigger is the Triggers interface.
// Triggers are the 'mechanism' by which Jobs are scheduled.
type Trigger interface {
	// NextFireTime returns the next time at which the Trigger is scheduled to fire.
	NextFireTime(prev time.Time) (time.Time, error)

	// Description returns a Trigger description.
	Description() string
}

// SimpleTrigger implements the Trigger interface; uses a time.Duration interval.
type SimpleTrigger struct {
	Interval time.Duration
}

// NewSimpleTrigger returns a new SimpleTrigger.
func NewSimpleTrigger(interval time.Duration) *SimpleTrigger {
	return &SimpleTrigger{interval}
}

// NextFireTime returns the next time at which the SimpleTrigger is scheduled to fire.
func (st *SimpleTrigger) NextFireTime(prev time.Time) (time.Time, error) {
	return prev.Add(st.Interval), nil
}

// Description returns a SimpleTrigger description.
func (st *SimpleTrigger) Description() string {
	return fmt.Sprintf("SimpleTrigger with the interval %s.", st.Interval)
}

// RunOnceTrigger implements the Trigger interface. Could be triggered only once.
type RunOnceTrigger struct {
	Delay time.Duration

	mu      sync.Mutex
	expired bool
}

// NewRunOnceTrigger returns a new RunOnceTrigger.
func NewRunOnceTrigger(delay time.Duration) *RunOnceTrigger {
	return &RunOnceTrigger{Delay: delay}
}

// NextFireTime returns the next time at which the RunOnceTrigger is scheduled to fire.
// Sets expired to true afterwards.
func (st *RunOnceTrigger) NextFireTime(prev time.Time) (time.Time, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.expired {
		return time.Time{}, ErrExpired
	}
	st.expired = true
	return prev.Add(st.Delay), nil
}

// Description returns a RunOnceTrigger description.
func (st *RunOnceTrigger) Description() string {
	st.mu.Lock()
	defer st.mu.Unlock()

	status := "valid"
	if st.expired {
		status = "expired"
	}

	return fmt.Sprintf("RunOnceTrigger (%s).", status)
}
