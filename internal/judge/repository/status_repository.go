package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	statusKeyPrefix  = "judge:status:"
	defaultStatusTTL = 24 * time.Hour
)

// StatusRepository keeps the live judge status in the cache.
type StatusRepository struct {
	cache     cache.Cache
	ttl       time.Duration
	publisher StatusEventPublisher
}

// NewStatusRepository creates a new repository. publisher may be nil.
func NewStatusRepository(cacheClient cache.Cache, ttl time.Duration, publisher StatusEventPublisher) *StatusRepository {
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	return &StatusRepository{cache: cacheClient, ttl: ttl, publisher: publisher}
}

// Get returns status by submission key.
func (r *StatusRepository) Get(ctx context.Context, submissionKey string) (model.JudgeStatusResponse, error) {
	if submissionKey == "" {
		return model.JudgeStatusResponse{}, appErr.ValidationError("submission_key", "required")
	}
	if r.cache == nil {
		return model.JudgeStatusResponse{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, statusKeyPrefix+submissionKey)
	if err != nil {
		return model.JudgeStatusResponse{}, appErr.Wrapf(err, appErr.CacheError, "load status failed")
	}
	if val == "" {
		return model.JudgeStatusResponse{}, appErr.New(appErr.SubmissionNotFound).WithMessage("submission status not found")
	}
	var resp model.JudgeStatusResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return model.JudgeStatusResponse{}, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return resp, nil
}

// Save persists status. A terminal status is also published as a final
// event; publish failures are logged only.
func (r *StatusRepository) Save(ctx context.Context, status model.JudgeStatusResponse) error {
	if status.SubmissionKey == "" {
		return appErr.ValidationError("submission_key", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+status.SubmissionKey, string(data), r.ttl); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	if status.Status.Terminal() && r.publisher != nil {
		if err := r.publisher.PublishFinalStatus(ctx, status); err != nil {
			logger.Warn(ctx, "publish final status failed",
				zap.String("submission_key", status.SubmissionKey),
				zap.Error(err),
			)
		}
	}
	return nil
}
