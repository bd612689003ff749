package engine

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// PrunerConfig controls sandbox housekeeping.
type PrunerConfig struct {
	DockerCommand string
	// PruneArgs default to "system prune -f".
	PruneArgs string
	// Interval repeats the background prune; zero prunes only at start.
	Interval time.Duration
	Timeout  time.Duration
}

// Pruner reclaims idle containers, images, volumes and networks. Pruning is
// advisory and never sits on the invocation path.
type Pruner struct {
	argv     []string
	interval time.Duration
	timeout  time.Duration

	started  atomic.Bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPruner parses cfg into a Pruner.
func NewPruner(cfg PrunerConfig) (*Pruner, error) {
	if cfg.DockerCommand == "" {
		cfg.DockerCommand = defaultDockerCommand
	}
	if cfg.PruneArgs == "" {
		cfg.PruneArgs = "system prune -f"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	bin, err := splitCommand("docker command", cfg.DockerCommand)
	if err != nil {
		return nil, err
	}
	args, err := splitCommand("prune args", cfg.PruneArgs)
	if err != nil {
		return nil, err
	}
	if len(bin) == 0 {
		return nil, fmt.Errorf("docker command is empty")
	}
	return &Pruner{
		argv:     append(bin, args...),
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
	}, nil
}

// Start launches the background prune. Only the first call has an effect.
func (p *Pruner) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.prune(ctx, "startup")
		if p.interval <= 0 {
			return
		}
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				p.prune(ctx, "periodic")
			}
		}
	}()
}

// Stop halts background pruning and runs the terminal prune once. A prune
// already in flight is allowed to finish first.
func (p *Pruner) Stop(ctx context.Context) {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		p.prune(ctx, "shutdown")
	})
}

// prune runs one pass bounded by the prune timeout, never by caller cancellation.
func (p *Pruner) prune(ctx context.Context, phase string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	start := time.Now()
	out, err := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...).CombinedOutput()
	if err != nil {
		logger.Warn(ctx, "sandbox prune failed", zap.String("phase", phase), zap.Error(err),
			zap.ByteString("output", out))
		return
	}
	logger.Info(ctx, "sandbox prune finished", zap.String("phase", phase), zap.Duration("elapsed", time.Since(start)))
}
