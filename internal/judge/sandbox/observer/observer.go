// Package observer defines metrics hooks for sandbox execution.
package observer

import "context"

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64)
	ObserveRun(ctx context.Context, languageID string, verdict string, timeMs int64)
	ObserveJudge(ctx context.Context, languageID string, verdict string, elapsedMs int64)
}

// Noop discards all observations.
type Noop struct{}

func (Noop) ObserveCompile(context.Context, string, bool, int64) {}
func (Noop) ObserveRun(context.Context, string, string, int64) {}
func (Noop) ObserveJudge(context.Context, string, string, int64) {}
