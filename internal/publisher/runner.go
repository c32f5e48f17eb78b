package publisher

import (
	"context"
	"os/exec"
)

// Runner runs external tools.
type Runner interface {
	// CombinedOutput runs name and returns its stdout and stderr.
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)
	// Output runs name and returns its stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs tools as child processes, killed when ctx is done.
type ExecRunner struct{}

func (ExecRunner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
