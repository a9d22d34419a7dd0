package jobs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/quintans/dig-scheduler/scheduler"
)

const ShellType = "shell"

// ShellJob runs the trigger payload with "sh -c" inside the execution workspace.
// Consider the runtime.GOOS when scheduling the shell command.
type ShellJob struct {
	logger    scheduler.Logger
	workspace *Workspace
}

func NewShellJob(logger scheduler.Logger, workspace *Workspace) *ShellJob {
	return &ShellJob{
		logger:    logger,
		workspace: workspace,
	}
}

func (sh *ShellJob) Execute(ctx context.Context, jec *scheduler.JobExecutionContext) error {
	command := strings.TrimSpace(string(jec.Payload()))
	if command == "" {
		return fmt.Errorf("empty shell command for job '%s': %w", jec.JobDetail().Key, scheduler.ErrInvalidArgument)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = sh.workspace.Dir
	sh.logger.Debug("job '%s' running '%s' in %s", jec.JobDetail().Key, command, cmd.Dir)

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("shell command '%s' failed: %w: %s", command, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return fmt.Errorf("shell command '%s' failed: %w", command, err)
	}
	jec.SetResult(string(out))
	return nil
}
