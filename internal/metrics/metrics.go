package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reviewclassifier/internal/domain"
)

// Collector owns the classifier's metrics on a private registry. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry      *prometheus.Registry
	chunksTotal   *prometheus.CounterVec
	recordsTotal  *prometheus.CounterVec
	jobPollsTotal *prometheus.CounterVec
	chunkDuration *prometheus.HistogramVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		chunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewclassifier_chunks_total",
				Help: "Count of processed chunks by outcome",
			},
			[]string{"strategy", "status"},
		),
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewclassifier_records_total",
				Help: "Count of classified records by outcome",
			},
			[]string{"outcome"},
		),
		jobPollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewclassifier_job_polls_total",
				Help: "Count of batch job status reads by observed status",
			},
			[]string{"status"},
		),
		chunkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reviewclassifier_chunk_duration_seconds",
				Help:    "Wall time from chunk submission to parsed results",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"strategy"},
		),
	}
	c.registry.MustRegister(c.chunksTotal, c.recordsTotal, c.jobPollsTotal, c.chunkDuration)
	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ChunkDone(strategy string, err error, elapsed time.Duration) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	c.chunksTotal.WithLabelValues(strategy, status).Inc()
	c.chunkDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

func (c *Collector) JobPolled(job domain.Job) {
	if c == nil {
		return
	}
	c.jobPollsTotal.WithLabelValues(string(job.Status)).Inc()
}

func (c *Collector) Records(counts map[domain.Outcome]int) {
	if c == nil {
		return
	}
	for outcome, n := range counts {
		c.recordsTotal.WithLabelValues(string(outcome)).Add(float64(n))
	}
}
