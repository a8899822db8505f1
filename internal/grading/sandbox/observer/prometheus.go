package observer

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports sandbox observations as prometheus collectors.
type PrometheusRecorder struct {
	compiles     *prometheus.CounterVec
	runs         *prometheus.CounterVec
	runTime      *prometheus.HistogramVec
	runMemory    *prometheus.HistogramVec
	outputVolume *prometheus.CounterVec
}

// NewPrometheusRecorder creates the sandbox collectors and registers them with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pycode",
			Subsystem: "sandbox",
			Name:      "compiles_total",
			Help:      "Number of sandbox compilations by language and result.",
		}, []string{"language", "ok"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pycode",
			Subsystem: "sandbox",
			Name:      "runs_total",
			Help:      "Number of sandbox executions by language and status.",
		}, []string{"language", "status"}),
		runTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pycode",
			Subsystem: "sandbox",
			Name:      "run_cpu_seconds",
			Help:      "CPU time consumed by one sandbox execution.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"language"}),
		runMemory: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pycode",
			Subsystem: "sandbox",
			Name:      "run_memory_bytes",
			Help:      "Peak memory of one sandbox execution.",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 10),
		}, []string{"language"}),
		outputVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pycode",
			Subsystem: "sandbox",
			Name:      "output_bytes_total",
			Help:      "Bytes written to stdout by sandboxed programs.",
		}, []string{"language"}),
	}
	for _, c := range []prometheus.Collector{r.compiles, r.runs, r.runTime, r.runMemory, r.outputVolume} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveCompile(_ context.Context, languageID string, ok bool, _ int64, _ int64) {
	r.compiles.WithLabelValues(languageID, strconv.FormatBool(ok)).Inc()
}

func (r *PrometheusRecorder) ObserveRun(_ context.Context, languageID string, status string, timeMs int64, memoryKB int64, outputKB int64) {
	r.runs.WithLabelValues(languageID, status).Inc()
	r.runTime.WithLabelValues(languageID).Observe(float64(timeMs) / 1000)
	if memoryKB > 0 {
		r.runMemory.WithLabelValues(languageID).Observe(float64(memoryKB * 1024))
	}
	if outputKB > 0 {
		r.outputVolume.WithLabelValues(languageID).Add(float64(outputKB * 1024))
	}
}
