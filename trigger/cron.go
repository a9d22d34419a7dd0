package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CronTrigger implements the Trigger interface using a cron expression.
// Seconds are optional and descriptors like @hourly are accepted.
type CronTrigger struct {
	expression string
	schedule   cron.Schedule
}

// NewCronTrigger returns a new CronTrigger.
func NewCronTrigger(expr string) (*CronTrigger, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cron expression '%s': %w", expr, err)
	}

	return &CronTrigger{
		expression: expr,
		schedule:   schedule,
	}, nil
}

// Next returns the first activation time strictly after prev.
func (ct *CronTrigger) Next(prev time.Time) time.Time {
	return ct.schedule.Next(prev)
}

// NextFireTime returns the next time at which the CronTrigger is scheduled to fire.
func (ct *CronTrigger) NextFireTime(prev time.Time) (time.Time, error) {
	next := ct.schedule.Next(prev)
	if next.IsZero() {
		return time.Time{}, ErrExpired
	}
	return next, nil
}

// Description returns a CronTrigger description.
func (ct *CronTrigger) Description() string {
	return fmt.Sprintf("CronTrigger %s.", ct.expression)
}
