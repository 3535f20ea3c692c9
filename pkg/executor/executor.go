package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrCommandFailed is returned when the command exits unsuccessfully or cannot start.
var ErrCommandFailed = errors.New("command failed")

type implExecutor struct{}

// New creates a new Executor instance.
func New() Executor {
	return &implExecutor{}
}

// Execute runs name with args. Stderr is captured and included in the error.
func (e *implExecutor) Execute(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		stderrText := strings.TrimSpace(stderr.String())
		if stderrText != "" {
			return "", fmt.Errorf("%w: '%s': %w\nstderr: %s", ErrCommandFailed, name, runErr, stderrText)
		}

		return "", fmt.Errorf("%w: '%s': %w", ErrCommandFailed, name, runErr)
	}

	return stdout.String(), nil
}
