// Package jobs has ready to use jobs, built for every execution from a child scope.
package jobs

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/dig"

	"github.com/quintans/dig-scheduler/jobfactory"
	"github.com/quintans/dig-scheduler/scheduler"
	"github.com/quintans/dig-scheduler/scope"
)

type options struct {
	httpTimeout time.Duration
}

type Option func(*options)

// WithHTTPTimeout sets the timeout of the client shared by the curl jobs.
func WithHTTPTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.httpTimeout = timeout
	}
}

// Register wires the jobs of this package.
//
// The root container must already provide a scheduler.Logger.
// The shared *http.Client is added to the root and both are shared with the scopes.
// Workspaces and jobs are built once per execution scope.
func Register(root *dig.Container, scopes *scope.Factory, registry *jobfactory.Registry, opts ...Option) error {
	o := options{
		httpTimeout: 30 * time.Second,
	}
	for _, f := range opts {
		f(&o)
	}

	err := root.Provide(func() *http.Client {
		return &http.Client{Timeout: o.httpTimeout}
	})
	if err != nil {
		return fmt.Errorf("failed to provide http client: %w", err)
	}

	if err := scope.Share[scheduler.Logger](scopes); err != nil {
		return err
	}
	if err := scope.Share[*http.Client](scopes); err != nil {
		return err
	}

	for _, ctor := range []any{NewWorkspace, NewShellJob, NewCurlJob} {
		if err := scopes.Provide(ctor); err != nil {
			return err
		}
	}

	if err := jobfactory.Bind[*ShellJob](registry, ShellType); err != nil {
		return err
	}
	return jobfactory.Bind[*CurlJob](registry, CurlType)
}
