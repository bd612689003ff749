package model

import "codejudge/internal/judge/sandbox/result"

// JudgeStatusResponse is the cached live status returned to API clients.
type JudgeStatusResponse struct {
	SubmissionKey string              `json:"submission_key"`
	Status        result.JudgeStatus  `json:"status"`
	Language      string              `json:"language"`
	Progress      Progress            `json:"progress"`
	Result        *result.JudgeResult `json:"result,omitempty"`
	Timestamps    Timestamps          `json:"timestamps"`
	ErrorCode     int                 `json:"error_code,omitempty"`
	ErrorMessage  string              `json:"error_message,omitempty"`
}

// Progress represents judge progress.
type Progress struct {
	TotalTests int `json:"total_tests"`
	DoneTests  int `json:"done_tests"`
}

// Timestamps are unix seconds.
type Timestamps struct {
	ReceivedAt int64 `json:"received_at"`
	FinishedAt int64 `json:"finished_at,omitempty"`
}

// StatusEventType represents the status event type.
type StatusEventType string

const (
	// StatusEventFinal indicates the final status event.
	StatusEventFinal StatusEventType = "final"
)

// StatusEvent carries status updates for async processing.
type StatusEvent struct {
	Type      StatusEventType     `json:"type"`
	Status    JudgeStatusResponse `json:"status"`
	CreatedAt int64               `json:"created_at"`
}
