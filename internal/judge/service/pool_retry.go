package service

import (
	"context"
	"strconv"
	"time"

	"codejudge/internal/common/mq"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const poolRetryHeader = "x-pool-retry"

// RetryPolicy republishes judge messages that found the worker pool full.
type RetryPolicy struct {
	Topic           string
	DeadLetterTopic string
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
}

func (s *Service) requeueForPoolFull(ctx context.Context, msg *mq.Message) error {
	if s.retry.Topic == "" {
		return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
	}
	retryCount := parsePoolRetryCount(msg.Headers)
	if s.retry.MaxRetries > 0 && retryCount >= s.retry.MaxRetries {
		if s.retry.DeadLetterTopic == "" {
			logger.Warn(ctx, "worker pool retry exhausted without dead letter", zap.Int("retry_count", retryCount))
			return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
		}
		logger.Warn(ctx, "worker pool retry exhausted, sending to dead letter",
			zap.Int("retry_count", retryCount),
			zap.String("topic", s.retry.DeadLetterTopic),
		)
		return s.retryQueue.Publish(ctx, s.retry.DeadLetterTopic, cloneForRetry(msg, retryCount))
	}

	delay := poolBackoff(retryCount, s.retry.BaseDelay, s.retry.MaxDelay)
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	logger.Info(ctx, "worker pool requeue",
		zap.Int("retry_count", retryCount+1),
		zap.Duration("delay", delay),
		zap.String("topic", s.retry.Topic),
	)
	return s.retryQueue.Publish(ctx, s.retry.Topic, cloneForRetry(msg, retryCount+1))
}

func parsePoolRetryCount(headers map[string]string) int {
	raw, ok := headers[poolRetryHeader]
	if !ok {
		return 0
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func cloneForRetry(msg *mq.Message, retryCount int) *mq.Message {
	out := &mq.Message{
		ID:         msg.ID,
		Body:       msg.Body,
		Headers:    make(map[string]string, len(msg.Headers)+1),
		Timestamp:  time.Now(),
		MaxRetries: msg.MaxRetries,
		Expiration: msg.Expiration,
	}
	for k, v := range msg.Headers {
		out.Headers[k] = v
	}
	out.Headers[poolRetryHeader] = strconv.Itoa(retryCount)
	return out
}

// poolBackoff doubles base per retry, capped at max.
func poolBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
