// Package runner builds compile and run invocations for one submission and
// hands them to the sandbox engine.
package runner

import (
	"context"
	"fmt"
	"path"
	"time"

	"codejudge/internal/judge/language"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/observer"
	"codejudge/internal/judge/sandbox/result"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultTempDir = "/tmp"

// Limits are the resources granted to one invocation.
type Limits struct {
	MemoryMB int           `yaml:"memoryMB"`
	CPUs     float64       `yaml:"cpus"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Merge returns l with every positive field of override applied.
func (l Limits) Merge(override Limits) Limits {
	if override.MemoryMB > 0 {
		l.MemoryMB = override.MemoryMB
	}
	if override.CPUs > 0 {
		l.CPUs = override.CPUs
	}
	if override.Timeout > 0 {
		l.Timeout = override.Timeout
	}
	return l
}

// DefaultCompileLimits allow a slower build than a single test run.
func DefaultCompileLimits() Limits {
	return Limits{MemoryMB: 256, CPUs: 1, Timeout: 15 * time.Second}
}

// DefaultRunLimits apply to each testcase unless overridden.
func DefaultRunLimits() Limits {
	return Limits{MemoryMB: 256, CPUs: 1, Timeout: 5 * time.Second}
}

// Config holds stage limits.
type Config struct {
	Compile Limits
	Run     Limits
	// TempDir is the directory inside the container used for source files.
	TempDir string
}

// CompileRequest describes one compilation task.
type CompileRequest struct {
	SubmissionID string
	Language     string
	Source       string
}

// RunRequest describes one testcase execution.
type RunRequest struct {
	SubmissionID string
	TestID       int64
	Language     string
	Source       string
	Input        string
	// Limits override the configured run limits when positive.
	Limits Limits
}

// Runner orchestrates compile and run workflows.
type Runner interface {
	Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error)
	Run(ctx context.Context, req RunRequest) (result.RunOutput, error)
}

// DefaultRunner renders language templates and executes them in the engine.
type DefaultRunner struct {
	engine   engine.Engine
	registry *language.Registry
	metrics  observer.MetricsRecorder
	cfg      Config
}

// NewRunner creates a runner. A nil metrics recorder disables metrics.
func NewRunner(eng engine.Engine, registry *language.Registry, metrics observer.MetricsRecorder, cfg Config) (*DefaultRunner, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("language registry is required")
	}
	if metrics == nil {
		metrics = observer.Noop{}
	}
	cfg.Compile = DefaultCompileLimits().Merge(cfg.Compile)
	cfg.Run = DefaultRunLimits().Merge(cfg.Run)
	if cfg.TempDir == "" {
		cfg.TempDir = defaultTempDir
	}
	return &DefaultRunner{engine: eng, registry: registry, metrics: metrics, cfg: cfg}, nil
}

func (r *DefaultRunner) tempPath() string {
	return path.Join(r.cfg.TempDir, "judge_"+uuid.NewString())
}

// Compile builds or syntax checks the source. Build failures, including
// sandbox failures during the build, are reported through CompileResult;
// only unknown languages, invalid limits and cancellation return an error.
func (r *DefaultRunner) Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error) {
	desc, err := r.registry.Resolve(req.Language)
	if err != nil {
		return result.CompileResult{}, err
	}
	inv := engine.Invocation{
		Image:    desc.Image,
		Command:  desc.CompileCommand(language.EncodeSource(req.Source), r.tempPath()),
		MemoryMB: r.cfg.Compile.MemoryMB,
		CPUs:     r.cfg.Compile.CPUs,
		Timeout:  r.cfg.Compile.Timeout,
	}

	res, err := r.engine.Run(ctx, inv)
	timeMs := res.Duration.Milliseconds()
	if err != nil {
		code := appErr.GetCode(err)
		if code == appErr.ValidationFailed || code == appErr.JudgeSystemError {
			return result.CompileResult{}, err
		}
		logger.Warn(ctx, "compile invocation failed",
			zap.String("language", desc.ID),
			zap.Int("error_code", int(code)),
			zap.Error(err),
		)
		r.metrics.ObserveCompile(ctx, desc.ID, false, timeMs)
		return result.CompileResult{OK: false, Log: err.Error(), TimeMs: timeMs}, nil
	}

	if res.ExitCode != 0 {
		log := res.Output
		if log == "" {
			log = fmt.Sprintf("compiler exited with code %d", res.ExitCode)
		}
		r.metrics.ObserveCompile(ctx, desc.ID, false, timeMs)
		return result.CompileResult{OK: false, Log: log, TimeMs: timeMs}, nil
	}
	r.metrics.ObserveCompile(ctx, desc.ID, true, timeMs)
	return result.CompileResult{OK: true, Log: res.Output, TimeMs: timeMs}, nil
}

// Run executes the program against one testcase input and returns its
// output. Any normal exit, zero or not, is returned as output to be compared;
// the engine already selects stderr for a non-zero exit with diagnostics.
// Sandbox failures keep their own codes.
func (r *DefaultRunner) Run(ctx context.Context, req RunRequest) (result.RunOutput, error) {
	desc, err := r.registry.Resolve(req.Language)
	if err != nil {
		return result.RunOutput{}, err
	}
	limits := r.cfg.Run.Merge(req.Limits)
	inv := engine.Invocation{
		Image:    desc.Image,
		Command:  desc.RunCommand(language.EncodeSource(req.Source), r.tempPath()),
		Stdin:    []byte(req.Input),
		MemoryMB: limits.MemoryMB,
		CPUs:     limits.CPUs,
		Timeout:  limits.Timeout,
	}

	res, err := r.engine.Run(ctx, inv)
	out := result.RunOutput{Output: res.Output, ExitCode: res.ExitCode, TimeMs: res.Duration.Milliseconds()}
	if err != nil {
		return out, err
	}
	if res.ExitCode != 0 {
		logger.Debug(ctx, "program exited with non-zero code",
			zap.Int64("test_id", req.TestID),
			zap.Int("exit_code", res.ExitCode),
		)
	}
	return out, nil
}
