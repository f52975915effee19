// Package exec runs the external commands behind command-backed tools.
package exec

import (
	"context"
)

// Command describes one process invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory. Empty means the caller's.
	Dir string
	// Env is appended to the current environment as KEY=VALUE pairs.
	Env []string
	// Stdin is written to the process when non-nil.
	Stdin []byte
}

// Result is what a finished command produced.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes cmd. A non-zero exit is reported both in Result.ExitCode
	// and as an *ExitError.
	Run(ctx context.Context, cmd Command) (Result, error)

	// RunShell executes script through "sh -c" with env appended.
	RunShell(ctx context.Context, dir string, env []string, script string) (Result, error)
}
