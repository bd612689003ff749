package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/runner"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

var errRejected = errors.New("submission rejected")

type executor interface {
	Execute(ctx context.Context, req sandbox.JudgeRequest) (result.JudgeResult, error)
}

type runOptions struct {
	Language  string
	Source    string
	TestsDir  string
	Limits    runner.Limits
	PrintJSON bool
}

// judgeLocal judges one source file and prints the outcome. A rejected
// submission returns errRejected after printing.
func judgeLocal(ctx context.Context, exec executor, opts runOptions, out io.Writer) error {
	source, err := os.ReadFile(opts.Source)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	tests, err := model.LoadTestcases(opts.TestsDir)
	if err != nil {
		return err
	}
	specs := make([]sandbox.TestcaseSpec, 0, len(tests))
	for _, tc := range tests {
		specs = append(specs, sandbox.TestcaseSpec{
			ID:       tc.ID,
			Input:    tc.Input,
			Expected: tc.Output,
			Weight:   tc.Weight,
			Sample:   tc.IsSample,
		})
	}

	res, err := exec.Execute(ctx, sandbox.JudgeRequest{
		SubmissionID: uuid.NewString(),
		LanguageID:   opts.Language,
		Source:       string(source),
		Tests:        specs,
		Limits:       opts.Limits,
		ReceivedAt:   time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	if opts.PrintJSON {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	} else {
		printResult(out, filepath.Base(opts.Source), res)
	}
	if res.Status != result.OutcomeAccepted {
		return errRejected
	}
	return nil
}

func printResult(out io.Writer, name string, res result.JudgeResult) {
	for _, tr := range res.Tests {
		label := fmt.Sprintf("test %d", tr.TestID)
		if tr.Sample {
			label += " (sample)"
		}
		fmt.Fprintf(out, "%-20s %s %6d ms\n", label, verdictString(tr.Verdict), tr.TimeMs)
	}
	if res.CompileLog != "" && res.Verdict == result.VerdictCE {
		fmt.Fprintln(out, color.YellowString("compile log:"))
		fmt.Fprintln(out, res.CompileLog)
	}
	if res.RuntimeLog != "" {
		fmt.Fprintln(out, color.YellowString("runtime log:"))
		fmt.Fprintln(out, res.RuntimeLog)
	}
	status := color.GreenString(string(res.Status))
	if res.Status != result.OutcomeAccepted {
		status = color.RedString(string(res.Status))
	}
	fmt.Fprintf(out, "%s: %s %d/%d in %d ms\n", name, status, res.Score, res.Total, res.ExecutionTimeMs)
}

func verdictString(v result.Verdict) string {
	switch v {
	case result.VerdictAC:
		return color.GreenString("%-3s", v)
	case result.VerdictTLE:
		return color.YellowString("%-3s", v)
	default:
		return color.RedString("%-3s", v)
	}
}

func printLanguages(out io.Writer, langs []language.Descriptor) {
	for _, d := range langs {
		kind := "interpreted"
		if d.Compiled {
			kind = "compiled"
		}
		fmt.Fprintf(out, "%-8s %-20s %-12s %v\n", d.ID, d.Image, kind, d.Extensions)
	}
}
