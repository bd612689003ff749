package observer_test

import (
	"context"
	"testing"

	"codejudge/internal/judge/sandbox/observer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := observer.NewPrometheusRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()

	rec.ObserveCompile(ctx, "c", true, 120)
	rec.ObserveRun(ctx, "c", "AC", 10)
	rec.ObserveRun(ctx, "c", "WA", 12)
	rec.ObserveRun(ctx, "c", "WA", 11)
	rec.ObserveJudge(ctx, "c", "WA", 200)

	count, err := testutil.GatherAndCount(reg, "judge_testcase_runs_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected two verdict series, got %d", count)
	}
	if n, _ := testutil.GatherAndCount(reg, "judge_duration_ms"); n != 3 {
		t.Fatalf("expected compile, run and total histograms, got %d", n)
	}
}

func TestPrometheusRecorderDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := observer.NewPrometheusRecorder(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := observer.NewPrometheusRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
