package scheduler

import (
	"sync"
)

// JobExecutionContext is handed to a Job when it executes.
// Besides the firing data it holds a key/value bag that cooperating
// components may use to exchange data during one execution.
type JobExecutionContext struct {
	bundle    *TriggerFiredBundle
	scheduler Scheduler

	mu      sync.RWMutex
	data    map[string]any
	result  string
	payload []byte
}

func NewJobExecutionContext(bundle *TriggerFiredBundle, sched Scheduler) *JobExecutionContext {
	return &JobExecutionContext{
		bundle:    bundle,
		scheduler: sched,
		data:      map[string]any{},
		payload:   bundle.Payload,
	}
}

func (c *JobExecutionContext) Bundle() *TriggerFiredBundle {
	return c.bundle
}

func (c *JobExecutionContext) JobDetail() JobDetail {
	return c.bundle.JobDetail
}

func (c *JobExecutionContext) Scheduler() Scheduler {
	return c.scheduler
}

func (c *JobExecutionContext) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = value
}

func (c *JobExecutionContext) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.data[key]
	return v, ok
}

func (c *JobExecutionContext) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
}

// SetResult sets the result stored with the trigger after a successful execution.
func (c *JobExecutionContext) SetResult(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.result = result
}

func (c *JobExecutionContext) Result() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.result
}

// Payload returns the payload for this execution.
func (c *JobExecutionContext) Payload() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.payload
}

// SetPayload replaces the payload stored with the trigger after a successful execution.
func (c *JobExecutionContext) SetPayload(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.payload = payload
}
