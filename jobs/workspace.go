package jobs

import (
	"fmt"
	"os"

	"github.com/quintans/dig-scheduler/scope"
)

// Workspace is a scratch directory that lives as long as the execution scope.
type Workspace struct {
	Dir string
}

// NewWorkspace creates the directory and removes it when the scope is released.
func NewWorkspace(s *scope.Scope) (*Workspace, error) {
	dir, err := os.MkdirTemp("", "job-"+s.ID()+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace for scope '%s': %w", s, err)
	}
	err = s.OnRelease(func() error {
		return os.RemoveAll(dir)
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return &Workspace{Dir: dir}, nil
}
