package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	namespace = "ota_job"

	// pushJobName is the Pushgateway job label of every push.
	pushJobName = "create_ota_job"

	resultSuccess = "success"
	resultError   = "error"
)

// Recorder collects the metrics of a single run.
type Recorder struct {
	registry      *prometheus.Registry
	stageDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	lastSuccess   prometheus.Gauge
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage", "result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs by result.",
		}, []string{"result"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
	}

	r.registry.MustRegister(r.stageDuration, r.runs, r.lastSuccess)

	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Track starts timing stage; call the returned function with the stage error.
func (r *Recorder) Track(stage string) func(error) {
	started := time.Now()

	return func(err error) {
		r.stageDuration.WithLabelValues(stage, result(err)).Observe(time.Since(started).Seconds())
	}
}

// RunFinished counts the run outcome.
func (r *Recorder) RunFinished(err error) {
	r.runs.WithLabelValues(result(err)).Inc()

	if err == nil {
		r.lastSuccess.SetToCurrentTime()
	}
}

// Push sends the registry to the Pushgateway at gatewayURL, grouped by job id.
func (r *Recorder) Push(ctx context.Context, gatewayURL, jobID string) error {
	err := push.New(gatewayURL, pushJobName).
		Gatherer(r.registry).
		Grouping("ota_job_id", jobID).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}

	return nil
}

func result(err error) string {
	if err != nil {
		return resultError
	}

	return resultSuccess
}
