package delivery

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// commandTimeout bounds a single delivery command invocation so a hung
// script can't wedge the queue manager indefinitely.
const commandTimeout = 5 * time.Minute

// commandResult carries a completed delivery command's outcome.
type commandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// runCommand executes argv[0] with argv[1:] in dir and waits for it to
// exit, capturing stdout/stderr (grounded on pkg/health/exec.go's
// ExecChecker.Check, generalized from a health-probe's boolean healthy/
// unhealthy result to a delivery command's exit-status table).
func runCommand(ctx context.Context, argv []string, dir string) (commandResult, error) {
	if len(argv) == 0 {
		return commandResult{}, fmt.Errorf("delivery: empty command")
	}

	execCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}

	if err == nil {
		res.ExitCode = 0
		return res, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, fmt.Errorf("delivery: exec %s: %w", argv[0], err)
}
