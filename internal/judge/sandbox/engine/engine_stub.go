//go:build !linux

package engine

import (
	"context"

	appErr "codejudge/pkg/errors"
)

type stubEngine struct{}

// NewEngine returns an engine that refuses every invocation off linux.
func NewEngine(cfg Config) (Engine, error) {
	return stubEngine{}, nil
}

func (stubEngine) Run(ctx context.Context, inv Invocation) (RunResult, error) {
	return RunResult{}, appErr.Newf(appErr.JudgeSystemError, "sandbox engine is only supported on linux")
}
