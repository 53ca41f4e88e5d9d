package scanner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess      = "success"
	resultFailed       = "failed"
	resultTimeout      = "timeout"
	resultLaunchFailed = "launch_failed"
	resultCanceled     = "canceled"
	resultError        = "error"
)

// Metrics records worker runs. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	logLines *prometheus.CounterVec
}

// NewMetrics creates the worker metrics and registers them with reg when reg
// is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "addinscan",
			Name:      "worker_runs_total",
			Help:      "Number of scan worker runs by command and result.",
		}, []string{"command", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "addinscan",
			Name:      "worker_run_duration_seconds",
			Help:      "Wall time of scan worker runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"command"}),
		logLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "addinscan",
			Name:      "worker_log_lines_total",
			Help:      "Number of output lines received from scan workers.",
		}, []string{"command"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.duration, m.logLines)
	}
	return m
}

func (m *Metrics) observe(command, result string, d time.Duration, lines int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(command, result).Inc()
	m.duration.WithLabelValues(command).Observe(d.Seconds())
	m.logLines.WithLabelValues(command).Add(float64(lines))
}
