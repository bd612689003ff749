package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"strings"
	"time"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/result"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const lockKeyPrefix = "judge:lock:"

// HandleMessage processes a judge task message. Invalid payloads and
// permanent failures are acknowledged; other failures are returned so the
// consumer retries them.
func (s *Service) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return nil
	}
	if msg.ID != "" {
		ctx = context.WithValue(ctx, contextkey.TraceID, msg.ID)
	}
	var payload model.JudgeMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		logger.Warn(ctx, "drop undecodable judge message", zap.Error(err))
		return nil
	}
	if payload.SubmissionKey == "" {
		payload.SubmissionKey = msg.ID
	}
	if payload.SubmissionKey == "" || payload.ProblemID <= 0 || payload.Language == "" ||
		(payload.Source == "" && payload.SourceKey == "") {
		logger.Warn(ctx, "drop judge message missing required fields",
			zap.String("submission_key", payload.SubmissionKey),
			zap.Int64("problem_id", payload.ProblemID),
		)
		return nil
	}
	ctx = context.WithValue(ctx, contextkey.SubmissionID, payload.SubmissionKey)

	if s.lock != nil {
		lockKey := lockKeyPrefix + payload.SubmissionKey
		token, ok, err := s.lock.TryLock(ctx, lockKey, s.lockTTL)
		if err != nil {
			return appErr.Wrapf(err, appErr.LockFailed, "acquire judge lock failed")
		}
		if !ok {
			logger.Info(ctx, "submission is already being judged")
			return nil
		}
		defer func() {
			if err := s.lock.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
				logger.Warn(ctx, "release judge lock failed", zap.Error(err))
			}
		}()
	}
	if s.alreadyFinished(ctx, payload.SubmissionKey) {
		logger.Info(ctx, "skip redelivered submission")
		return nil
	}

	req := model.SubmissionRequest{
		SubmissionKey: payload.SubmissionKey,
		ProblemID:     payload.ProblemID,
		UserID:        payload.UserID,
		Language:      payload.Language,
		Source:        payload.Source,
		ReceivedAt:    time.Now().Unix(),
	}
	if req.Source == "" {
		source, err := s.downloadSource(ctx, payload)
		if err != nil {
			err = s.handleFailure(ctx, req, err)
			if permanent(err) {
				return nil
			}
			return err
		}
		req.Source = source
	}

	_, err := s.Judge(ctx, req)
	switch {
	case err == nil:
		return nil
	case appErr.GetCode(err) == appErr.JudgeQueueFull && s.retryQueue != nil:
		return s.requeueForPoolFull(ctx, msg)
	case permanent(err):
		logger.Warn(ctx, "drop judge message with permanent failure", zap.Error(err))
		return nil
	default:
		return err
	}
}

func (s *Service) alreadyFinished(ctx context.Context, submissionKey string) bool {
	if s.statusRepo == nil {
		return false
	}
	status, err := s.statusRepo.Get(ctx, submissionKey)
	if err != nil {
		return false
	}
	return status.Status == result.StatusFinished
}

// downloadSource reads the source object, bounded by the source size limit,
// and verifies its sha256 when the message carries one.
func (s *Service) downloadSource(ctx context.Context, payload model.JudgeMessage) (string, error) {
	if s.storage == nil {
		return "", appErr.New(appErr.ServiceUnavailable).WithMessage("object storage is not configured")
	}
	ctxStorage := ctx
	if s.storageTimeout > 0 {
		var cancel context.CancelFunc
		ctxStorage, cancel = context.WithTimeout(ctx, s.storageTimeout)
		defer cancel()
	}
	reader, err := s.storage.GetObject(ctxStorage, s.sourceBucket, payload.SourceKey)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "download source failed")
	}
	defer reader.Close()

	hasher := sha256.New()
	data, err := io.ReadAll(io.TeeReader(io.LimitReader(reader, int64(s.maxSourceBytes)+1), hasher))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "read source failed")
	}
	if len(data) > s.maxSourceBytes {
		return "", appErr.New(appErr.CodeTooLarge).WithDetail("max_bytes", s.maxSourceBytes)
	}
	if payload.SourceHash != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(actual, payload.SourceHash) {
			return "", appErr.New(appErr.InvalidParams).WithMessage("source hash mismatch")
		}
	}
	return string(data), nil
}
