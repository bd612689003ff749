//go:build linux

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type dockerEngine struct {
	cfg   Config
	argv  []string
	extra []string
}

// NewEngine creates a docker CLI backed engine.
func NewEngine(cfg Config) (Engine, error) {
	cfg.applyDefaults()
	argv, err := splitCommand("docker command", cfg.DockerCommand)
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("docker command is empty")
	}
	extra, err := splitCommand("extra args", cfg.ExtraArgs)
	if err != nil {
		return nil, err
	}
	return &dockerEngine{cfg: cfg, argv: argv, extra: extra}, nil
}

func (e *dockerEngine) Run(ctx context.Context, inv Invocation) (RunResult, error) {
	if err := e.cfg.Bounds.Validate(inv); err != nil {
		return RunResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return RunResult{}, appErr.Wrapf(err, appErr.JudgeSystemError, "sandbox invocation canceled")
	}

	name := "judge-" + uuid.NewString()
	args := append(append([]string{}, e.argv[1:]...), dockerRunArgs(e.cfg, e.extra, name, inv)...)
	cmd := exec.Command(e.argv[0], args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
	cmd.WaitDelay = e.cfg.KillTimeout

	slot := newOutcomeSlot()
	var killOnce sync.Once
	var killed atomic.Bool
	kill := func() {
		killOnce.Do(func() {
			killed.Store(true)
			if cmd.Process != nil {
				_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
			}
			go e.removeContainer(name)
		})
	}

	limit := newOutputCap(e.cfg.OutputLimitBytes, func() {
		if slot.fail(appErr.Newf(appErr.OutputLimitExceeded, "output exceeded %d bytes", e.cfg.OutputLimitBytes)) {
			logger.Warn(ctx, "sandbox output limit exceeded", zap.String("container", name),
				zap.Int64("limit_bytes", e.cfg.OutputLimitBytes))
		}
		kill()
	})
	stdout, stderr := limit.writer(), limit.writer()
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return RunResult{}, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "open sandbox stdin failed")
	}

	logger.Debug(ctx, "sandbox invocation start", zap.String("container", name), zap.String("image", inv.Image),
		zap.Int("memory_mb", inv.MemoryMB), zap.Float64("cpus", inv.CPUs), zap.Duration("timeout", inv.Timeout))

	start := time.Now()
	if err := cmd.Start(); err != nil {
		logger.Warn(ctx, "sandbox spawn failed", zap.String("container", name), zap.Error(err),
			zap.Int("error_code", int(appErr.SandboxSpawnFailed)))
		return RunResult{}, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "start sandbox failed")
	}

	timer := time.AfterFunc(inv.Timeout, func() {
		if slot.fail(appErr.Newf(appErr.TimeLimitExceeded, "time limit of %s exceeded", inv.Timeout)) {
			logger.Warn(ctx, "sandbox time limit exceeded", zap.String("container", name), zap.Duration("timeout", inv.Timeout))
		}
		kill()
	})
	defer timer.Stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			slot.fail(appErr.Wrapf(ctx.Err(), appErr.JudgeSystemError, "sandbox invocation canceled"))
			kill()
		case <-done:
		}
	}()

	go func() {
		_, werr := io.Copy(stdin, bytes.NewReader(inv.Stdin))
		cerr := stdin.Close()
		if werr == nil {
			werr = cerr
		}
		if werr != nil && !isClosedPipe(werr) {
			if slot.fail(appErr.Wrapf(werr, appErr.SandboxStdinFailed, "write sandbox stdin failed")) {
				logger.Warn(ctx, "sandbox stdin failed", zap.String("container", name), zap.Error(werr),
					zap.Int("error_code", int(appErr.SandboxStdinFailed)))
			}
			kill()
		}
	}()

	waitErr := cmd.Wait()
	timer.Stop()
	elapsed := time.Since(start)

	res := RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
		Duration: elapsed,
	}
	state := cmd.ProcessState
	switch {
	case state != nil && state.Exited():
		res.ExitCode = state.ExitCode()
		res.Output = selectOutput(res.ExitCode, res.Stdout, res.Stderr)
		slot.resolve(outcome{result: res})
	case !killed.Load():
		if slot.fail(appErr.Newf(appErr.SandboxAbnormalExit, "sandbox terminated abnormally: %v", waitErr)) {
			logger.Warn(ctx, "sandbox abnormal exit", zap.String("container", name), zap.Error(waitErr),
				zap.Int("error_code", int(appErr.SandboxAbnormalExit)))
		}
		kill()
	}

	out, ok := slot.get()
	if !ok {
		// every kill path resolves the slot first
		out = outcome{err: appErr.Newf(appErr.JudgeSystemError, "sandbox finished without outcome")}
	}
	if out.err != nil {
		return res, out.err
	}
	if waitErr != nil && !errors.As(waitErr, new(*exec.ExitError)) {
		logger.Warn(ctx, "sandbox wait returned error after exit", zap.String("container", name), zap.Error(waitErr))
	}
	logger.Debug(ctx, "sandbox invocation finished", zap.String("container", name),
		zap.Int("exit_code", out.result.ExitCode), zap.Duration("elapsed", elapsed))
	return out.result, nil
}

// removeContainer force-removes a container whose CLI process was killed;
// killing the CLI alone leaves the container running.
func (e *dockerEngine) removeContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	args := append(append([]string{}, e.argv[1:]...), "rm", "-f", name)
	if out, err := exec.CommandContext(ctx, e.argv[0], args...).CombinedOutput(); err != nil {
		logger.Debug(ctx, "sandbox container removal failed", zap.String("container", name),
			zap.ByteString("output", out), zap.Error(err))
	}
}

func isClosedPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed)
}
