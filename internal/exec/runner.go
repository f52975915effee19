package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Name     string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s exited with status %d", e.Name, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Name, e.ExitCode, msg)
}

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct {
	// Shell runs scripts for RunShell. Defaults to "sh".
	Shell string
}

// NewRunner creates a new ExecRunner.
func NewRunner() *ExecRunner {
	return &ExecRunner{Shell: "sh"}
}

// Run executes a command, capturing stdout and stderr separately.
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("running %s: %w", c.Name, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Name: c.Name, ExitCode: res.ExitCode, Stderr: stderr.String()}
	}
	return res, fmt.Errorf("running %s: %w", c.Name, err)
}

// RunShell executes a shell script through "sh -c".
func (r *ExecRunner) RunShell(ctx context.Context, dir string, env []string, script string) (Result, error) {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}
	return r.Run(ctx, Command{Name: shell, Args: []string{"-c", script}, Dir: dir, Env: env})
}

// Verify ExecRunner implements CommandRunner at compile time.
var _ CommandRunner = (*ExecRunner)(nil)
