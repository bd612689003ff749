package observer

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports sandbox observations as Prometheus metrics.
type PrometheusRecorder struct {
	compiles *prometheus.CounterVec
	runs     *prometheus.CounterVec
	judges   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the judge metrics on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_compiles_total",
			Help: "Total number of compile invocations",
		}, []string{"language", "ok"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_testcase_runs_total",
			Help: "Total number of testcase runs by verdict",
		}, []string{"language", "verdict"}),
		judges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_submissions_total",
			Help: "Total number of judged submissions by verdict",
		}, []string{"language", "verdict"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "judge_duration_ms",
			Help:    "Judge phase duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"language", "phase"}), // phase: compile, run, total
	}
	for _, c := range []prometheus.Collector{r.compiles, r.runs, r.judges, r.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveCompile(_ context.Context, languageID string, ok bool, timeMs int64) {
	r.compiles.WithLabelValues(languageID, strconv.FormatBool(ok)).Inc()
	r.duration.WithLabelValues(languageID, "compile").Observe(float64(timeMs))
}

func (r *PrometheusRecorder) ObserveRun(_ context.Context, languageID string, verdict string, timeMs int64) {
	r.runs.WithLabelValues(languageID, verdict).Inc()
	r.duration.WithLabelValues(languageID, "run").Observe(float64(timeMs))
}

func (r *PrometheusRecorder) ObserveJudge(_ context.Context, languageID string, verdict string, elapsedMs int64) {
	r.judges.WithLabelValues(languageID, verdict).Inc()
	r.duration.WithLabelValues(languageID, "total").Observe(float64(elapsedMs))
}
