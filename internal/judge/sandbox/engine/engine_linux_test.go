//go:build linux

package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codejudge/internal/judge/sandbox/engine"
	appErr "codejudge/pkg/errors"
)

// fakeDocker runs the trailing "sh -c <command>" locally and ignores container removal.
const fakeDocker = `#!/bin/sh
if [ "$1" = "rm" ]; then exit 0; fi
while [ $# -gt 3 ]; do shift; done
exec "$@"
`

func newFakeEngine(t *testing.T, mutate func(*engine.Config)) engine.Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docker")
	if err := os.WriteFile(path, []byte(fakeDocker), 0o755); err != nil {
		t.Fatalf("write fake docker: %v", err)
	}
	cfg := engine.Config{DockerCommand: path, KillTimeout: time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := engine.NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func invocation(command string) engine.Invocation {
	return engine.Invocation{Image: "busybox", Command: command, MemoryMB: 64, CPUs: 1, Timeout: 5 * time.Second}
}

func TestRunEchoesStdin(t *testing.T) {
	t.Parallel()
	e := newFakeEngine(t, nil)
	inv := invocation("cat")
	inv.Stdin = []byte("hello sandbox")

	res, err := e.Run(context.Background(), inv)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 0 || res.Output != "hello sandbox" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunNonZeroExitReturnsDiagnostics(t *testing.T) {
	t.Parallel()
	e := newFakeEngine(t, nil)

	res, err := e.Run(context.Background(), invocation("echo partial; echo boom >&2; exit 3"))
	if err != nil {
		t.Fatalf("non-zero exit must not be an error: %v", err)
	}
	if res.ExitCode != 3 || strings.TrimSpace(res.Output) != "boom" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if strings.TrimSpace(res.Stdout) != "partial" {
		t.Fatalf("stdout lost: %q", res.Stdout)
	}
}

func TestRunIgnoresUnreadStdin(t *testing.T) {
	t.Parallel()
	e := newFakeEngine(t, nil)
	inv := invocation("echo done")
	inv.Stdin = make([]byte, 4<<20)

	res, err := e.Run(context.Background(), inv)
	if err != nil {
		t.Fatalf("closed stdin must not fail the run: %v", err)
	}
	if strings.TrimSpace(res.Output) != "done" {
		t.Fatalf("unexpected output %q", res.Output)
	}
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()
	e := newFakeEngine(t, nil)
	inv := invocation("sleep 10")
	inv.Timeout = 300 * time.Millisecond

	start := time.Now()
	_, err := e.Run(context.Background(), inv)
	if !appErr.Is(err, appErr.TimeLimitExceeded) {
		t.Fatalf("expected TimeLimitExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout did not kill promptly: %v", elapsed)
	}
}

func TestRunOutputLimit(t *testing.T) {
	t.Parallel()
	e := newFakeEngine(t, func(c *engine.Config) { c.OutputLimitBytes = 4096 })

	_, err := e.Run(context.Background(), invocation("while :; do echo aaaaaaaaaaaaaaaa; done"))
	if !appErr.Is(err, appErr.OutputLimitExceeded) {
		t.Fatalf("expected OutputLimitExceeded, got %v", err)
	}
}

func TestRunOutputLimitCountsStderr(t *testing.T) {
	t.Parallel()
	e := newFakeEngine(t, func(c *engine.Config) { c.OutputLimitBytes = 4096 })

	_, err := e.Run(context.Background(), invocation("while :; do echo bbbbbbbbbbbbbbbb >&2; done"))
	if !appErr.Is(err, appErr.OutputLimitExceeded) {
		t.Fatalf("expected OutputLimitExceeded, got %v", err)
	}
}

func TestRunContextCanceled(t *testing.T) {
	t.Parallel()
	e := newFakeEngine(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := e.Run(ctx, invocation("sleep 10"))
	if !appErr.Is(err, appErr.JudgeSystemError) {
		t.Fatalf("expected JudgeSystemError, got %v", err)
	}
}

func TestRunAbnormalExit(t *testing.T) {
	t.Parallel()
	e := newFakeEngine(t, nil)

	_, err := e.Run(context.Background(), invocation("kill -9 $$"))
	if !appErr.Is(err, appErr.SandboxAbnormalExit) {
		t.Fatalf("expected SandboxAbnormalExit, got %v", err)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	t.Parallel()
	e, err := engine.NewEngine(engine.Config{DockerCommand: filepath.Join(t.TempDir(), "missing-docker")})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	_, err = e.Run(context.Background(), invocation("true"))
	if !appErr.Is(err, appErr.SandboxSpawnFailed) {
		t.Fatalf("expected SandboxSpawnFailed, got %v", err)
	}
}

func TestRunRejectsOutOfBoundsBeforeSpawning(t *testing.T) {
	t.Parallel()
	e := newFakeEngine(t, nil)
	inv := invocation("true")
	inv.MemoryMB = 1

	if _, err := e.Run(context.Background(), inv); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
}

func TestPrunerRunsStartupAndShutdownOnce(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	script := "#!/bin/sh\necho \"$@\" >> " + logPath + "\n"
	bin := filepath.Join(dir, "docker")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	p, err := engine.NewPruner(engine.PrunerConfig{DockerCommand: bin})
	if err != nil {
		t.Fatalf("new pruner: %v", err)
	}
	ctx := context.Background()
	p.Start(ctx)
	p.Start(ctx)
	p.Stop(ctx)
	p.Stop(ctx)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected startup and shutdown prunes, got %q", lines)
	}
	for _, line := range lines {
		if line != "system prune -f" {
			t.Fatalf("unexpected prune args %q", line)
		}
	}
}

func TestPrunerFinishesStartupPruneWhenStopped(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	script := "#!/bin/sh\nsleep 0.3\necho \"$1\" >> " + logPath + "\n"
	bin := filepath.Join(dir, "docker")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	p, err := engine.NewPruner(engine.PrunerConfig{DockerCommand: bin, Interval: time.Hour})
	if err != nil {
		t.Fatalf("new pruner: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()
	p.Stop(ctx)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(string(data)), "\n"); len(lines) != 2 {
		t.Fatalf("expected startup and shutdown prunes to complete, got %q", lines)
	}
}
