package model

// JudgeMessage represents the Kafka payload for judge tasks.
// Source is inline; SourceKey points to an object in the source bucket instead.
type JudgeMessage struct {
	SubmissionKey string `json:"submission_key"`
	ProblemID     int64  `json:"problem_id"`
	UserID        int64  `json:"user_id"`
	Language      string `json:"language"`
	Source        string `json:"source,omitempty"`
	SourceKey     string `json:"source_key,omitempty"`
	SourceHash    string `json:"source_hash,omitempty"`
}

// SubmissionRequest is one judging request after intake.
type SubmissionRequest struct {
	SubmissionKey string
	ProblemID     int64
	UserID        int64
	Language      string
	Source        string
	ReceivedAt    int64
}

// SubmissionRecord is the terminal row written once per judging run.
type SubmissionRecord struct {
	SubmissionKey   string
	UserID          int64
	ProblemID       int64
	Language        string
	Source          string
	Status          string
	Verdict         string
	Score           int
	Total           int
	CompileLog      string
	RuntimeLog      string
	ExecutionTimeMs int64
}
