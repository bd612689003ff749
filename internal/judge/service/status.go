package service

import (
	"context"
	"time"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox"
	"codejudge/internal/judge/sandbox/result"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// ReportStatus stores intermediate progress. Terminal updates are skipped
// because Judge stores the final status together with the result.
func (s *Service) ReportStatus(ctx context.Context, update sandbox.StatusUpdate) error {
	if update.Status.Terminal() || s.statusRepo == nil {
		return nil
	}
	return s.persistStatus(ctx, model.JudgeStatusResponse{
		SubmissionKey: update.SubmissionID,
		Status:        update.Status,
		Language:      update.Language,
		Progress: model.Progress{
			TotalTests: update.TotalTests,
			DoneTests:  update.DoneTests,
		},
		Timestamps: model.Timestamps{ReceivedAt: update.ReceivedAt},
	})
}

// GetStatus returns the live status of a submission.
func (s *Service) GetStatus(ctx context.Context, submissionKey string) (model.JudgeStatusResponse, error) {
	if s.statusRepo == nil {
		return model.JudgeStatusResponse{}, appErr.New(appErr.ServiceUnavailable).WithMessage("status store is not configured")
	}
	return s.statusRepo.Get(ctx, submissionKey)
}

func (s *Service) persistStatus(ctx context.Context, status model.JudgeStatusResponse) error {
	ctxStatus := ctx
	if s.statusTimeout > 0 {
		var cancel context.CancelFunc
		ctxStatus, cancel = context.WithTimeout(ctx, s.statusTimeout)
		defer cancel()
	}
	return s.statusRepo.Save(ctxStatus, status)
}

// saveStatus stores status when a store is configured; failures are logged.
func (s *Service) saveStatus(ctx context.Context, status model.JudgeStatusResponse) {
	if s.statusRepo == nil {
		return
	}
	if err := s.persistStatus(context.WithoutCancel(ctx), status); err != nil {
		logger.Warn(ctx, "update judge status failed",
			zap.String("status", string(status.Status)),
			zap.Error(err),
		)
	}
}

// handleFailure records a Failed status and returns err unchanged. A full
// worker pool leaves the status untouched since the task will be retried.
func (s *Service) handleFailure(ctx context.Context, req model.SubmissionRequest, err error) error {
	code := appErr.GetCode(err)
	logger.Warn(ctx, "judge failed", zap.Int("error_code", int(code)), zap.Error(err))
	if code == appErr.JudgeQueueFull {
		return err
	}
	s.saveStatus(ctx, model.JudgeStatusResponse{
		SubmissionKey: req.SubmissionKey,
		Status:        result.StatusFailed,
		Language:      req.Language,
		ErrorCode:     int(code),
		ErrorMessage:  err.Error(),
		Timestamps: model.Timestamps{
			ReceivedAt: req.ReceivedAt,
			FinishedAt: time.Now().Unix(),
		},
	})
	return err
}

// permanent reports whether retrying err cannot succeed.
func permanent(err error) bool {
	switch appErr.GetCode(err) {
	case appErr.InvalidParams, appErr.ValidationFailed, appErr.LanguageNotSupported,
		appErr.TestCaseNotFound, appErr.TestCaseInvalid, appErr.ProblemNotFound, appErr.CodeTooLarge:
		return true
	}
	return false
}
