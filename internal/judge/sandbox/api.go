// Package sandbox runs a full judging pass for one submission: compile once,
// execute every testcase in id order and aggregate the verdict.
package sandbox

import "codejudge/internal/judge/sandbox/runner"

// JudgeRequest contains all data needed to judge one submission.
type JudgeRequest struct {
	// SubmissionID is the caller's key for progress reports and logs.
	SubmissionID string
	LanguageID   string
	Source       string
	Tests        []TestcaseSpec
	// Limits override the runner's run limits for every testcase.
	Limits     runner.Limits
	ReceivedAt int64
}

// TestcaseSpec describes one testcase. Weight nil means 1.
type TestcaseSpec struct {
	ID       int64
	Input    string
	Expected string
	Weight   *int
	Sample   bool
}

// EffectiveWeight returns the scoring weight of the testcase.
func (t TestcaseSpec) EffectiveWeight() int {
	if t.Weight == nil {
		return 1
	}
	return *t.Weight
}
