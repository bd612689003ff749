package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"codejudge/internal/judge/sandbox/observer"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/runner"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// Worker executes compile and run workflows for one submission at a time.
// Testcases run sequentially; a Worker may be shared by concurrent callers.
type Worker struct {
	runner         runner.Runner
	metrics        observer.MetricsRecorder
	statusReporter StatusReporter
}

// NewWorker creates a worker. A nil metrics recorder disables metrics.
func NewWorker(r runner.Runner, metrics observer.MetricsRecorder) *Worker {
	if metrics == nil {
		metrics = observer.Noop{}
	}
	return &Worker{runner: r, metrics: metrics}
}

// SetStatusReporter injects a status reporter for intermediate updates.
func (w *Worker) SetStatusReporter(reporter StatusReporter) {
	w.statusReporter = reporter
}

// Execute compiles the source once and runs every testcase in ascending id
// order, even after failures. A compile failure or an unsupported language
// yields a rejected result without running any testcase. Errors are returned
// only for invalid requests and cancellation.
func (w *Worker) Execute(ctx context.Context, req JudgeRequest) (result.JudgeResult, error) {
	if w.runner == nil {
		return result.JudgeResult{}, appErr.New(appErr.JudgeSystemError).WithMessage("worker runner is not initialized")
	}
	tests, total, err := prepareTests(req.Tests)
	if err != nil {
		return result.JudgeResult{}, err
	}

	res := result.JudgeResult{Total: total}
	start := time.Now()
	finish := func(verdict result.Verdict) result.JudgeResult {
		res.Verdict = verdict
		res.Status = verdict.Outcome()
		res.ExecutionTimeMs = time.Since(start).Milliseconds()
		w.metrics.ObserveJudge(ctx, req.LanguageID, string(verdict), res.ExecutionTimeMs)
		w.reportStatus(ctx, req, result.StatusFinished, len(tests), len(res.Tests))
		return res
	}

	w.reportStatus(ctx, req, result.StatusCompiling, len(tests), 0)
	compileRes, err := w.runner.Compile(ctx, runner.CompileRequest{
		SubmissionID: req.SubmissionID,
		Language:     req.LanguageID,
		Source:       req.Source,
	})
	if err != nil {
		if appErr.GetCode(err) != appErr.LanguageNotSupported {
			return result.JudgeResult{}, err
		}
		logger.Warn(ctx, "unsupported language rejected", zap.String("language", req.LanguageID))
		res.CompileLog = err.Error()
		return finish(result.VerdictCE), nil
	}
	res.CompileLog = compileRes.Log
	if !compileRes.OK {
		return finish(result.VerdictCE), nil
	}

	w.reportStatus(ctx, req, result.StatusRunning, len(tests), 0)
	verdict := result.VerdictAC
	var entries []string
	for _, tc := range tests {
		tr, entry, err := w.runTestcase(ctx, req, tc)
		if err != nil {
			return result.JudgeResult{}, err
		}
		res.Tests = append(res.Tests, tr)
		res.Score += tr.Score
		if entry != "" {
			entries = append(entries, entry)
			if verdict == result.VerdictAC {
				verdict = tr.Verdict
			}
		}
		w.reportStatus(ctx, req, result.StatusRunning, len(tests), len(res.Tests))
	}
	res.RuntimeLog = strings.Join(entries, "\n\n")
	return finish(verdict), nil
}

// runTestcase returns the per-testcase result and, for failures, the
// runtime log entry.
func (w *Worker) runTestcase(ctx context.Context, req JudgeRequest, tc TestcaseSpec) (result.TestcaseResult, string, error) {
	tr := result.TestcaseResult{
		TestID: tc.ID,
		Sample: tc.Sample,
		Weight: tc.EffectiveWeight(),
	}
	out, runErr := w.runner.Run(ctx, runner.RunRequest{
		SubmissionID: req.SubmissionID,
		TestID:       tc.ID,
		Language:     req.LanguageID,
		Source:       req.Source,
		Input:        tc.Input,
		Limits:       req.Limits,
	})
	tr.TimeMs = out.TimeMs
	if runErr == nil {
		tr.ExitCode = out.ExitCode
	}

	label := fmt.Sprintf("Testcase %d", tc.ID)
	if tc.Sample {
		label += " (sample)"
	}

	var entry string
	switch {
	case runErr != nil:
		if ctx.Err() != nil {
			return tr, "", appErr.Wrapf(ctx.Err(), appErr.JudgeSystemError, "judging canceled at testcase %d", tc.ID)
		}
		code := appErr.GetCode(runErr)
		tr.ErrorCode = int(code)
		if code == appErr.TimeLimitExceeded {
			tr.Verdict = result.VerdictTLE
			entry = label + ": Time Limit Exceeded"
		} else {
			tr.Verdict = result.VerdictRE
			entry = label + ": Runtime Error: " + runErr.Error()
		}
	case Matches(tc.Expected, out.Output):
		tr.Verdict = result.VerdictAC
		if !tc.Sample {
			tr.Score = tr.Weight
		}
	default:
		tr.Verdict = result.VerdictWA
		entry = fmt.Sprintf("%s: Wrong Answer\nExpected: %s\nActual: %s",
			label, strings.TrimSpace(tc.Expected), strings.TrimSpace(out.Output))
	}

	w.metrics.ObserveRun(ctx, req.LanguageID, string(tr.Verdict), tr.TimeMs)
	if tr.Verdict != result.VerdictAC {
		logger.Info(ctx, "testcase failed",
			zap.Int64("test_id", tc.ID),
			zap.Bool("sample", tc.Sample),
			zap.String("verdict", string(tr.Verdict)),
			zap.Int("error_code", tr.ErrorCode),
		)
	}
	return tr, entry, nil
}

// Matches compares outputs after trimming surrounding whitespace; nothing
// else is normalized.
func Matches(expected, actual string) bool {
	return strings.TrimSpace(expected) == strings.TrimSpace(actual)
}

// prepareTests validates weights and returns the testcases sorted by id with
// the sum of non-sample weights.
func prepareTests(in []TestcaseSpec) ([]TestcaseSpec, int, error) {
	if len(in) == 0 {
		return nil, 0, appErr.New(appErr.TestCaseNotFound).WithMessage("no testcases configured")
	}
	tests := make([]TestcaseSpec, len(in))
	copy(tests, in)
	sort.SliceStable(tests, func(i, j int) bool { return tests[i].ID < tests[j].ID })

	for _, tc := range tests {
		if tc.EffectiveWeight() < 0 {
			return nil, 0, appErr.ValidationError("weight", "negative").WithDetail("test_id", tc.ID)
		}
	}
	return tests, totalWeight(tests), nil
}

func totalWeight(tests []TestcaseSpec) int {
	total := 0
	for _, tc := range tests {
		if !tc.Sample {
			total += tc.EffectiveWeight()
		}
	}
	return total
}

func (w *Worker) reportStatus(ctx context.Context, req JudgeRequest, status result.JudgeStatus, totalTests, doneTests int) {
	if w.statusReporter == nil {
		return
	}
	receivedAt := req.ReceivedAt
	if receivedAt == 0 {
		receivedAt = time.Now().Unix()
	}
	update := StatusUpdate{
		SubmissionID: req.SubmissionID,
		Status:       status,
		Language:     req.LanguageID,
		TotalTests:   totalTests,
		DoneTests:    doneTests,
		ReceivedAt:   receivedAt,
	}
	if status.Terminal() {
		update.FinishedAt = time.Now().Unix()
	}
	if err := w.statusReporter.ReportStatus(ctx, update); err != nil {
		logger.Warn(ctx, "report judge status failed", zap.Error(err))
	}
}
