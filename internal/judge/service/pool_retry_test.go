package service

import (
	"testing"
	"time"

	"codejudge/internal/common/mq"
	appErr "codejudge/pkg/errors"
)

func TestPoolBackoff(t *testing.T) {
	t.Parallel()
	cases := []struct {
		retry int
		base  time.Duration
		max   time.Duration
		want  time.Duration
	}{
		{0, 0, time.Second, 0},
		{0, 100 * time.Millisecond, time.Second, 100 * time.Millisecond},
		{2, 100 * time.Millisecond, time.Second, 400 * time.Millisecond},
		{5, 100 * time.Millisecond, time.Second, time.Second},
		{3, 100 * time.Millisecond, 0, 800 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := poolBackoff(tc.retry, tc.base, tc.max); got != tc.want {
			t.Fatalf("poolBackoff(%d, %v, %v) = %v, want %v", tc.retry, tc.base, tc.max, got, tc.want)
		}
	}
}

func TestParsePoolRetryCount(t *testing.T) {
	t.Parallel()
	if got := parsePoolRetryCount(nil); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := parsePoolRetryCount(map[string]string{poolRetryHeader: "-1"}); got != 0 {
		t.Fatalf("expected 0 for negative, got %d", got)
	}
	if got := parsePoolRetryCount(map[string]string{poolRetryHeader: "3"}); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestCloneForRetryKeepsOriginal(t *testing.T) {
	t.Parallel()
	msg := mq.NewMessage([]byte("body"))
	msg.ID = "k"
	msg.SetHeader("trace", "t")

	out := cloneForRetry(msg, 2)
	if out.Headers[poolRetryHeader] != "2" || out.Headers["trace"] != "t" || out.ID != "k" {
		t.Fatalf("unexpected clone: %+v", out)
	}
	if _, ok := msg.Headers[poolRetryHeader]; ok {
		t.Fatalf("original headers must not change")
	}
}

func TestPermanentErrors(t *testing.T) {
	t.Parallel()
	if permanent(nil) {
		t.Fatalf("nil error is not permanent")
	}
	for _, code := range []appErr.ErrorCode{appErr.InvalidParams, appErr.CodeTooLarge, appErr.TestCaseNotFound, appErr.LanguageNotSupported} {
		if !permanent(appErr.New(code)) {
			t.Fatalf("code %d should be permanent", code)
		}
	}
	for _, code := range []appErr.ErrorCode{appErr.JudgeSystemError, appErr.DatabaseError, appErr.JudgeQueueFull} {
		if permanent(appErr.New(code)) {
			t.Fatalf("code %d should be retried", code)
		}
	}
}
