package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound      = errors.New("no job with the given Slug was found")
	ErrJobAlreadyExists = errors.New("job already exists")
	ErrJobNotLocked     = errors.New("job was changed by another process")
	ErrInvalidArgument  = errors.New("invalid argument")
	// ErrInstantiation matches, with errors.Is, every *InstantiationError.
	ErrInstantiation = errors.New("job instantiation failed")
)

// InstantiationError reports that the job of a fired trigger could not be built.
// The scheduler moves the trigger to StateError when a job fails with it.
type InstantiationError struct {
	JobKey  string
	JobType string
	Err     error
}

func NewInstantiationError(jobKey, jobType string, err error) *InstantiationError {
	return &InstantiationError{
		JobKey:  jobKey,
		JobType: jobType,
		Err:     err,
	}
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("problem instantiating job '%s' of type '%s': %v", e.JobKey, e.JobType, e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}

func (e *InstantiationError) Is(target error) bool {
	return target == ErrInstantiation
}
