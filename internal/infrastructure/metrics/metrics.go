package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"jan-server/tools/model-updater/internal/utils/platformerrors"
)

const (
	namespace = "jan"
	subsystem = "model_updater"
	jobName   = "model_updater"
)

// Recorder keeps the counters of a single run on a private registry, so the
// numbers can be pushed to a Pushgateway once the run has finished.
type Recorder struct {
	registry *prometheus.Registry

	recordsTotal  *prometheus.CounterVec
	updatesTotal  *prometheus.CounterVec
	writeDuration *prometheus.HistogramVec
	lastRun       prometheus.Gauge
}

// NewRecorder registers the run metrics.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		recordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "records_total",
				Help:      "Model records seen by the rule, by decision",
			},
			[]string{"decision"},
		),
		updatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "updates_total",
				Help:      "Model update writes, by result and error type",
			},
			[]string{"result", "error_type"},
		),
		writeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "write_duration_seconds",
				Help:      "Duration of model update writes",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		lastRun: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
		),
	}
}

// RecordDecision counts a record as "planned" or "skipped".
func (r *Recorder) RecordDecision(decision string) {
	if r == nil {
		return
	}
	r.recordsTotal.WithLabelValues(decision).Inc()
}

// RecordWrite counts one write outcome.
func (r *Recorder) RecordWrite(err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	result, errorType := "success", ""
	if err != nil {
		result, errorType = "failure", string(platformerrors.TypeOf(err))
	}
	r.updatesTotal.WithLabelValues(result, errorType).Inc()
	r.writeDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// Finish stamps the end of the run.
func (r *Recorder) Finish(at time.Time) {
	if r == nil {
		return
	}
	r.lastRun.Set(float64(at.Unix()))
}

// Push sends the run metrics to a Pushgateway, grouped by run ID.
func (r *Recorder) Push(ctx context.Context, gatewayURL, runID string) error {
	if r == nil || gatewayURL == "" {
		return nil
	}
	pusher := push.New(gatewayURL, jobName).
		Gatherer(r.registry).
		Grouping("run_id", runID)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
