package sandbox_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"codejudge/internal/judge/language"
	"codejudge/internal/judge/sandbox"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/runner"
	appErr "codejudge/pkg/errors"
)

// scriptedEngine answers compile and run invocations through callbacks.
type scriptedEngine struct {
	mu       sync.Mutex
	compiles []engine.Invocation
	runs     []engine.Invocation
	compile  func(inv engine.Invocation) (engine.RunResult, error)
	run      func(inv engine.Invocation) (engine.RunResult, error)
}

func isCompile(inv engine.Invocation) bool {
	if strings.Contains(inv.Command, "py_compile") {
		return true
	}
	return !strings.Contains(inv.Command, ">/dev/null") && !strings.Contains(inv.Command, "python3 /")
}

func (s *scriptedEngine) Run(_ context.Context, inv engine.Invocation) (engine.RunResult, error) {
	s.mu.Lock()
	compile := isCompile(inv)
	if compile {
		s.compiles = append(s.compiles, inv)
	} else {
		s.runs = append(s.runs, inv)
	}
	s.mu.Unlock()

	if compile {
		if s.compile == nil {
			return engine.RunResult{}, nil
		}
		return s.compile(inv)
	}
	if s.run == nil {
		return engine.RunResult{}, nil
	}
	return s.run(inv)
}

type recordingReporter struct {
	mu      sync.Mutex
	updates []sandbox.StatusUpdate
}

func (r *recordingReporter) ReportStatus(_ context.Context, update sandbox.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
	return nil
}

func newWorker(t *testing.T, eng engine.Engine, cfg runner.Config) *sandbox.Worker {
	t.Helper()
	reg, err := language.NewRegistry(nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	r, err := runner.NewRunner(eng, reg, nil, cfg)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return sandbox.NewWorker(r, nil)
}

func weight(w int) *int { return &w }

func echo(out string) func(engine.Invocation) (engine.RunResult, error) {
	return func(engine.Invocation) (engine.RunResult, error) {
		return engine.RunResult{Output: out, Stdout: out}, nil
	}
}

func TestScenarioAcceptedPython(t *testing.T) {
	t.Parallel()
	eng := &scriptedEngine{run: echo("2\n")}
	w := newWorker(t, eng, runner.Config{})

	res, err := w.Execute(context.Background(), sandbox.JudgeRequest{
		SubmissionID: "sub-a",
		LanguageID:   "python",
		Source:       "print(1+1)",
		Tests:        []sandbox.TestcaseSpec{{ID: 1, Input: "", Expected: "2", Weight: weight(1)}},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != result.OutcomeAccepted || res.Score != 1 || res.Total != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.RuntimeLog != "" {
		t.Fatalf("unexpected runtime log: %q", res.RuntimeLog)
	}
	if len(eng.compiles) != 1 || len(eng.runs) != 1 {
		t.Fatalf("expected one compile and one run, got %d and %d", len(eng.compiles), len(eng.runs))
	}
}

func TestScenarioCompileErrorShortCircuits(t *testing.T) {
	t.Parallel()
	eng := &scriptedEngine{
		compile: func(engine.Invocation) (engine.RunResult, error) {
			return engine.RunResult{Output: "main.c:1:10: error: expected ';' before '}' token", ExitCode: 1}, nil
		},
	}
	w := newWorker(t, eng, runner.Config{})

	res, err := w.Execute(context.Background(), sandbox.JudgeRequest{
		LanguageID: "c",
		Source:     "int main() { return 0 }",
		Tests: []sandbox.TestcaseSpec{
			{ID: 1, Expected: "0", Weight: weight(2)},
			{ID: 2, Expected: "0", Weight: weight(3)},
			{ID: 3, Expected: "0", Sample: true},
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != result.OutcomeRejected || res.Verdict != result.VerdictCE {
		t.Fatalf("unexpected status: %+v", res)
	}
	if res.Score != 0 || res.Total != 5 {
		t.Fatalf("unexpected score %d/%d", res.Score, res.Total)
	}
	if res.CompileLog == "" || res.RuntimeLog != "" {
		t.Fatalf("unexpected logs: compile=%q runtime=%q", res.CompileLog, res.RuntimeLog)
	}
	if len(eng.runs) != 0 || len(res.Tests) != 0 {
		t.Fatalf("no testcase may run after a compile failure")
	}
}

func TestScenarioPartialScore(t *testing.T) {
	t.Parallel()
	eng := &scriptedEngine{
		run: func(inv engine.Invocation) (engine.RunResult, error) {
			if string(inv.Stdin) == "second" {
				return engine.RunResult{Output: "ok"}, nil
			}
			return engine.RunResult{Output: "nope"}, nil
		},
	}
	w := newWorker(t, eng, runner.Config{})

	res, err := w.Execute(context.Background(), sandbox.JudgeRequest{
		LanguageID: "cpp",
		Source:     "int main(){}",
		Tests: []sandbox.TestcaseSpec{
			{ID: 2, Input: "second", Expected: "ok", Weight: weight(7)},
			{ID: 1, Input: "first", Expected: "ok", Weight: weight(3)},
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != result.OutcomeRejected || res.Score != 7 || res.Total != 10 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Verdict != result.VerdictWA {
		t.Fatalf("unexpected verdict: %s", res.Verdict)
	}
	want := "Testcase 1: Wrong Answer\nExpected: ok\nActual: nope"
	if res.RuntimeLog != want {
		t.Fatalf("unexpected runtime log:\n%s", res.RuntimeLog)
	}
	if string(eng.runs[0].Stdin) != "first" || string(eng.runs[1].Stdin) != "second" {
		t.Fatalf("testcases must run in ascending id order")
	}
}

func TestScenarioTimeLimitExceeded(t *testing.T) {
	t.Parallel()
	eng := &scriptedEngine{
		run: func(inv engine.Invocation) (engine.RunResult, error) {
			return engine.RunResult{Duration: inv.Timeout}, appErr.New(appErr.TimeLimitExceeded)
		},
	}
	w := newWorker(t, eng, runner.Config{Run: runner.Limits{Timeout: 5000 * time.Millisecond}})

	res, err := w.Execute(context.Background(), sandbox.JudgeRequest{
		LanguageID: "c",
		Source:     "int main(){for(;;);}",
		Tests:      []sandbox.TestcaseSpec{{ID: 4, Expected: "1"}},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != result.OutcomeRejected || res.Verdict != result.VerdictTLE {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.RuntimeLog != "Testcase 4: Time Limit Exceeded" {
		t.Fatalf("unexpected runtime log: %q", res.RuntimeLog)
	}
	if eng.runs[0].Timeout != 5*time.Second {
		t.Fatalf("unexpected run timeout: %s", eng.runs[0].Timeout)
	}
	if res.Tests[0].ErrorCode != int(appErr.TimeLimitExceeded) {
		t.Fatalf("unexpected error code: %d", res.Tests[0].ErrorCode)
	}
}

func TestSamplesAreNeverScored(t *testing.T) {
	t.Parallel()
	w := newWorker(t, &scriptedEngine{run: echo("42")}, runner.Config{})

	res, err := w.Execute(context.Background(), sandbox.JudgeRequest{
		LanguageID: "python",
		Source:     "print(42)",
		Tests: []sandbox.TestcaseSpec{
			{ID: 1, Expected: "42", Weight: weight(5), Sample: true},
			{ID: 2, Expected: "42", Weight: weight(4)},
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != result.OutcomeAccepted || res.Score != 4 || res.Total != 4 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFailingSampleRejects(t *testing.T) {
	t.Parallel()
	eng := &scriptedEngine{
		run: func(inv engine.Invocation) (engine.RunResult, error) {
			if string(inv.Stdin) == "s" {
				return engine.RunResult{Output: "bad"}, nil
			}
			return engine.RunResult{Output: "good"}, nil
		},
	}
	w := newWorker(t, eng, runner.Config{})

	res, err := w.Execute(context.Background(), sandbox.JudgeRequest{
		LanguageID: "python",
		Source:     "x",
		Tests: []sandbox.TestcaseSpec{
			{ID: 1, Input: "s", Expected: "good", Sample: true},
			{ID: 2, Input: "t", Expected: "good", Weight: weight(2)},
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != result.OutcomeRejected || res.Score != 2 || res.Total != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.HasPrefix(res.RuntimeLog, "Testcase 1 (sample): Wrong Answer") {
		t.Fatalf("unexpected runtime log: %q", res.RuntimeLog)
	}
}

func TestEveryTestcaseRunsAfterFailures(t *testing.T) {
	t.Parallel()
	eng := &scriptedEngine{
		run: func(inv engine.Invocation) (engine.RunResult, error) {
			switch string(inv.Stdin) {
			case "crash":
				return engine.RunResult{}, appErr.New(appErr.SandboxAbnormalExit).WithMessage("Segmentation fault")
			case "flood":
				return engine.RunResult{}, appErr.New(appErr.OutputLimitExceeded)
			}
			return engine.RunResult{Output: "1"}, nil
		},
	}
	w := newWorker(t, eng, runner.Config{})

	res, err := w.Execute(context.Background(), sandbox.JudgeRequest{
		LanguageID: "c",
		Source:     "x",
		Tests: []sandbox.TestcaseSpec{
			{ID: 1, Input: "crash", Expected: "1"},
			{ID: 2, Input: "flood", Expected: "1"},
			{ID: 3, Input: "ok", Expected: "1"},
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(eng.runs) != 3 || len(res.Tests) != 3 {
		t.Fatalf("expected all testcases to run")
	}
	if res.Verdict != result.VerdictRE || res.Score != 1 || res.Total != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	entries := strings.Split(res.RuntimeLog, "\n\n")
	if len(entries) != 2 {
		t.Fatalf("expected two log entries, got %q", res.RuntimeLog)
	}
	if entries[0] != "Testcase 1: Runtime Error: Segmentation fault" {
		t.Fatalf("unexpected entry: %q", entries[0])
	}
	if entries[1] != "Testcase 2: Runtime Error: Output limit exceeded" {
		t.Fatalf("unexpected entry: %q", entries[1])
	}
	if res.Tests[1].ErrorCode != int(appErr.OutputLimitExceeded) {
		t.Fatalf("unexpected error code: %d", res.Tests[1].ErrorCode)
	}
}

func TestNonZeroExitIsJudgedByOutput(t *testing.T) {
	t.Parallel()
	eng := &scriptedEngine{
		run: func(inv engine.Invocation) (engine.RunResult, error) {
			if string(inv.Stdin) == "diag" {
				return engine.RunResult{Output: "panic: boom", Stderr: "panic: boom", ExitCode: 2}, nil
			}
			return engine.RunResult{Output: "2\n", Stdout: "2\n", ExitCode: 1}, nil
		},
	}
	w := newWorker(t, eng, runner.Config{})

	res, err := w.Execute(context.Background(), sandbox.JudgeRequest{
		LanguageID: "c",
		Source:     "x",
		Tests:      []sandbox.TestcaseSpec{{ID: 1, Expected: "2"}},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != result.OutcomeAccepted || res.Score != 1 || res.Total != 1 {
		t.Fatalf("correct output with exit code 1 must be accepted: %+v", res)
	}
	if res.Tests[0].ExitCode != 1 {
		t.Fatalf("expected exit code to be recorded, got %d", res.Tests[0].ExitCode)
	}

	res, err = w.Execute(context.Background(), sandbox.JudgeRequest{
		LanguageID: "c",
		Source:     "x",
		Tests:      []sandbox.TestcaseSpec{{ID: 1, Input: "diag", Expected: "2"}},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Verdict != result.VerdictWA {
		t.Fatalf("expected wrong answer, got %+v", res)
	}
	if res.RuntimeLog != "Testcase 1: Wrong Answer\nExpected: 2\nActual: panic: boom" {
		t.Fatalf("unexpected runtime log: %q", res.RuntimeLog)
	}
}

func TestComparisonIsTrimmedExactMatch(t *testing.T) {
	t.Parallel()
	cases := []struct {
		expected, actual string
		want             bool
	}{
		{"2", "2\n", true},
		{"  hello world \n", "hello world", true},
		{"5", "5.0", false},
		{"a b", "a  b", false},
		{"Yes", "yes", false},
	}
	for _, tc := range cases {
		if got := sandbox.Matches(tc.expected, tc.actual); got != tc.want {
			t.Fatalf("Matches(%q, %q) = %v, want %v", tc.expected, tc.actual, got, tc.want)
		}
	}
}

func TestUnsupportedLanguageRejectsWithoutSandbox(t *testing.T) {
	t.Parallel()
	eng := &scriptedEngine{}
	w := newWorker(t, eng, runner.Config{})

	res, err := w.Execute(context.Background(), sandbox.JudgeRequest{
		LanguageID: "brainfuck",
		Source:     "+",
		Tests:      []sandbox.TestcaseSpec{{ID: 1, Expected: "", Weight: weight(3)}, {ID: 2, Expected: ""}},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != result.OutcomeRejected || res.Verdict != result.VerdictCE {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Score != 0 || res.Total != 4 {
		t.Fatalf("unexpected score %d/%d", res.Score, res.Total)
	}
	if !strings.Contains(res.CompileLog, "brainfuck") {
		t.Fatalf("compile log should name the language: %q", res.CompileLog)
	}
	if len(eng.compiles)+len(eng.runs) != 0 {
		t.Fatalf("unsupported language must not reach the sandbox")
	}
}

func TestNoTestcasesIsStructuredError(t *testing.T) {
	t.Parallel()
	w := newWorker(t, &scriptedEngine{}, runner.Config{})
	_, err := w.Execute(context.Background(), sandbox.JudgeRequest{LanguageID: "c", Source: "x"})
	if appErr.GetCode(err) != appErr.TestCaseNotFound {
		t.Fatalf("expected TestCaseNotFound, got %v", err)
	}
	if err.Error() != "no testcases configured" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestNegativeWeightIsRejected(t *testing.T) {
	t.Parallel()
	w := newWorker(t, &scriptedEngine{}, runner.Config{})
	_, err := w.Execute(context.Background(), sandbox.JudgeRequest{
		LanguageID: "c",
		Source:     "x",
		Tests:      []sandbox.TestcaseSpec{{ID: 1, Weight: weight(-1)}},
	})
	if appErr.GetCode(err) != appErr.ValidationFailed {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
}

func TestZeroWeightCountsNothing(t *testing.T) {
	t.Parallel()
	w := newWorker(t, &scriptedEngine{run: echo("x")}, runner.Config{})
	res, err := w.Execute(context.Background(), sandbox.JudgeRequest{
		LanguageID: "c",
		Source:     "x",
		Tests:      []sandbox.TestcaseSpec{{ID: 1, Expected: "x", Weight: weight(0)}},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != result.OutcomeAccepted || res.Score != 0 || res.Total != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestIdempotentGrading(t *testing.T) {
	t.Parallel()
	w := newWorker(t, &scriptedEngine{run: echo("3")}, runner.Config{})
	req := sandbox.JudgeRequest{
		LanguageID: "python",
		Source:     "print(3)",
		Tests: []sandbox.TestcaseSpec{
			{ID: 1, Expected: "3", Weight: weight(2)},
			{ID: 2, Expected: "4", Weight: weight(5)},
		},
	}
	first, err := w.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	second, err := w.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if first.Status != second.Status || first.Score != second.Score || first.RuntimeLog != second.RuntimeLog {
		t.Fatalf("grading differs: %+v vs %+v", first, second)
	}
}

func TestCancellationAbortsJudging(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	eng := &scriptedEngine{
		run: func(engine.Invocation) (engine.RunResult, error) {
			cancel()
			return engine.RunResult{}, appErr.New(appErr.JudgeSystemError)
		},
	}
	w := newWorker(t, eng, runner.Config{})

	_, err := w.Execute(ctx, sandbox.JudgeRequest{
		LanguageID: "c",
		Source:     "x",
		Tests:      []sandbox.TestcaseSpec{{ID: 1}, {ID: 2}},
	})
	if appErr.GetCode(err) != appErr.JudgeSystemError {
		t.Fatalf("expected JudgeSystemError, got %v", err)
	}
	if len(eng.runs) != 1 {
		t.Fatalf("expected judging to stop after cancellation, ran %d", len(eng.runs))
	}
}

func TestStatusReportsProgress(t *testing.T) {
	t.Parallel()
	w := newWorker(t, &scriptedEngine{run: echo("1")}, runner.Config{})
	rep := &recordingReporter{}
	w.SetStatusReporter(rep)

	_, err := w.Execute(context.Background(), sandbox.JudgeRequest{
		SubmissionID: "sub-p",
		LanguageID:   "c",
		Source:       "x",
		Tests:        []sandbox.TestcaseSpec{{ID: 1, Expected: "1"}, {ID: 2, Expected: "1"}},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := []struct {
		status result.JudgeStatus
		done   int
	}{
		{result.StatusCompiling, 0},
		{result.StatusRunning, 0},
		{result.StatusRunning, 1},
		{result.StatusRunning, 2},
		{result.StatusFinished, 2},
	}
	if len(rep.updates) != len(want) {
		t.Fatalf("expected %d updates, got %d", len(want), len(rep.updates))
	}
	for i, u := range rep.updates {
		if u.Status != want[i].status || u.DoneTests != want[i].done || u.TotalTests != 2 {
			t.Fatalf("update %d = %+v", i, u)
		}
		if u.SubmissionID != "sub-p" {
			t.Fatalf("unexpected submission id: %s", u.SubmissionID)
		}
	}
	if rep.updates[len(rep.updates)-1].FinishedAt == 0 {
		t.Fatalf("finished update should carry FinishedAt")
	}
}
