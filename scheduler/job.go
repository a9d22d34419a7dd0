package scheduler

import (
	"context"
	"time"
)

// Job is the interface to be implemented by structs which represent a 'job'
// to be performed.
type Job interface {
	// Execute Called by the Scheduler when a Trigger fires that is associated with the Job.
	Execute(ctx context.Context, jec *JobExecutionContext) error
}

// JobDetail identifies a job and the implementation that runs it.
type JobDetail struct {
	// Key identifies the job.
	Key string
	// Type is the name under which the job implementation is registered.
	Type string
	// Description is a human readable description of the job.
	Description string
}

// TriggerFiredBundle holds the data handed to a JobFactory when a trigger fires.
type TriggerFiredBundle struct {
	JobDetail         JobDetail
	TriggerKey        string
	FireTime          time.Time
	ScheduledFireTime time.Time
	Payload           []byte
	Retry             int
}

// JobFactory produces the Job instance to be executed for a fired trigger.
type JobFactory interface {
	// NewJob is called by the scheduler at fire time.
	NewJob(bundle *TriggerFiredBundle, sched Scheduler) (Job, error)
	// ReturnJob is called after the job returned by NewJob is no longer needed.
	ReturnJob(job Job)
}
