// Package engine runs single compile or test invocations inside throwaway
// docker containers with bounded resources, output and wall time.
package engine

import (
	"context"
	"time"
)

// Invocation describes one sandboxed command. It is never reused.
type Invocation struct {
	Image    string
	Command  string
	Stdin    []byte
	MemoryMB int
	CPUs     float64
	Timeout  time.Duration
}

// RunResult is the captured result of a finished invocation.
type RunResult struct {
	// Output is the diagnostic-aware selection of Stdout and Stderr.
	Output   string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Engine executes invocations. Implementations must be safe for concurrent use.
//
// Run returns a coded error for every non-normal outcome:
// TimeLimitExceeded, OutputLimitExceeded, SandboxSpawnFailed, SandboxStdinFailed,
// SandboxAbnormalExit, ValidationFailed for bound violations and JudgeSystemError
// when ctx is canceled. A normal exit, including a non-zero one, is not an error.
type Engine interface {
	Run(ctx context.Context, inv Invocation) (RunResult, error)
}

// selectOutput returns stderr for failing programs that wrote diagnostics,
// otherwise stdout, falling back to stderr when stdout is empty.
func selectOutput(exitCode int, stdout, stderr string) string {
	if exitCode != 0 && stderr != "" {
		return stderr
	}
	if stdout != "" {
		return stdout
	}
	return stderr
}
