// Package exec provides an interface for command execution.
package exec

import (
	"context"
)

// Result is the outcome of a command that started.
type Result struct {
	// Output is the combined stdout/stderr.
	Output []byte
	// ExitCode is the process exit status; -1 if it was killed.
	ExitCode int
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// RunEnv executes a command with extra environment variables.
	// A non-zero exit is reported in Result, not as an error; err is set only
	// when the command could not be started or ctx ended first.
	RunEnv(ctx context.Context, workDir string, env map[string]string, name string, args ...string) (Result, error)
}
