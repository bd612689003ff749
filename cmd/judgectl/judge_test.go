package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codejudge/internal/judge/sandbox"
	"codejudge/internal/judge/sandbox/result"
)

type fakeExecutor struct {
	req sandbox.JudgeRequest
	res result.JudgeResult
}

func (f *fakeExecutor) Execute(_ context.Context, req sandbox.JudgeRequest) (result.JudgeResult, error) {
	f.req = req
	return f.res, nil
}

func writeTestsDir(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"manifest.json": `{"tests":[{"id":1,"input":"1.in","output":"1.out","sample":true},{"id":2,"input":"2.in","output":"2.out","weight":4}]}`,
		"1.in":          "1 1\n",
		"1.out":         "2\n",
		"2.in":          "2 3\n",
		"2.out":         "5\n",
		"main.py":       "print(sum(map(int, input().split())))\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir, filepath.Join(dir, "main.py")
}

func TestJudgeLocalAccepted(t *testing.T) {
	dir, src := writeTestsDir(t)
	exec := &fakeExecutor{res: result.JudgeResult{
		Score: 4, Total: 4, Status: result.OutcomeAccepted, Verdict: result.VerdictAC,
		Tests: []result.TestcaseResult{
			{TestID: 1, Sample: true, Verdict: result.VerdictAC},
			{TestID: 2, Verdict: result.VerdictAC, Weight: 4, Score: 4},
		},
	}}
	var out bytes.Buffer

	if err := judgeLocal(context.Background(), exec, runOptions{Language: "python", Source: src, TestsDir: dir}, &out); err != nil {
		t.Fatalf("judge: %v", err)
	}
	if len(exec.req.Tests) != 2 || exec.req.Tests[1].Expected != "5\n" || !exec.req.Tests[0].Sample {
		t.Fatalf("unexpected tests: %+v", exec.req.Tests)
	}
	if !strings.Contains(exec.req.Source, "print(sum") || exec.req.LanguageID != "python" {
		t.Fatalf("unexpected request: %+v", exec.req)
	}
	text := out.String()
	if !strings.Contains(text, "test 1 (sample)") || !strings.Contains(text, "4/4") {
		t.Fatalf("unexpected output:\n%s", text)
	}
}

func TestJudgeLocalRejected(t *testing.T) {
	dir, src := writeTestsDir(t)
	exec := &fakeExecutor{res: result.JudgeResult{
		Total: 4, Status: result.OutcomeRejected, Verdict: result.VerdictWA,
		RuntimeLog: "Testcase 2: Wrong Answer\nExpected: 5\nActual: 6",
	}}
	var out bytes.Buffer

	err := judgeLocal(context.Background(), exec, runOptions{Language: "python", Source: src, TestsDir: dir, PrintJSON: true}, &out)
	if !errors.Is(err, errRejected) {
		t.Fatalf("expected errRejected, got %v", err)
	}
	if !strings.Contains(out.String(), `"status": "rejected"`) {
		t.Fatalf("expected JSON output, got:\n%s", out.String())
	}
}

func TestJudgeLocalMissingManifest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.c")
	if err := os.WriteFile(src, []byte("int main(){}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := judgeLocal(context.Background(), &fakeExecutor{}, runOptions{Language: "c", Source: src, TestsDir: dir}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected manifest error")
	}
}
