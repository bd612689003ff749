// Package result defines stage outcomes, verdicts and the judge result record.
package result

// JudgeStatus represents the lifecycle state of a submission.
type JudgeStatus string

const (
	StatusPending   JudgeStatus = "Pending"
	StatusCompiling JudgeStatus = "Compiling"
	StatusRunning   JudgeStatus = "Running"
	StatusFinished  JudgeStatus = "Finished"
	StatusFailed    JudgeStatus = "Failed"
)

// Terminal reports whether no further transitions follow s.
func (s JudgeStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Outcome is the user facing two-state verdict.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Verdict is the richer internal classification.
type Verdict string

const (
	VerdictAC  Verdict = "AC"
	VerdictWA  Verdict = "WA"
	VerdictTLE Verdict = "TLE"
	VerdictRE  Verdict = "RE"
	VerdictCE  Verdict = "CE"
	VerdictSE  Verdict = "SE"
)

// Outcome maps the internal verdict onto accepted/rejected.
func (v Verdict) Outcome() Outcome {
	if v == VerdictAC {
		return OutcomeAccepted
	}
	return OutcomeRejected
}

// CompileResult contains compilation outcomes.
type CompileResult struct {
	OK     bool
	Log    string
	TimeMs int64
}

// RunOutput is the captured output of one testcase run.
type RunOutput struct {
	Output   string
	ExitCode int
	TimeMs   int64
}

// TestcaseResult contains per-testcase execution outcomes.
type TestcaseResult struct {
	TestID  int64   `json:"test_id"`
	Sample  bool    `json:"sample"`
	Verdict Verdict `json:"verdict"`
	Weight  int     `json:"weight"`
	Score   int     `json:"score"`
	TimeMs  int64   `json:"time_ms"`
	// ErrorCode is set for failed runs, naming the sandbox or runtime failure.
	ErrorCode int `json:"error_code,omitempty"`
	ExitCode  int `json:"exit_code,omitempty"`
}

// JudgeResult is the terminal record of one judging run.
type JudgeResult struct {
	Score           int              `json:"score"`
	Total           int              `json:"total"`
	Status          Outcome          `json:"status"`
	Verdict         Verdict          `json:"verdict"`
	CompileLog      string           `json:"compile_log,omitempty"`
	RuntimeLog      string           `json:"runtime_log,omitempty"`
	ExecutionTimeMs int64            `json:"execution_time_ms"`
	Tests           []TestcaseResult `json:"tests,omitempty"`
	SubmissionID    *int64           `json:"submission_id,omitempty"`
}
