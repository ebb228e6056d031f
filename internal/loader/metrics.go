package loader

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "image_hub"

// Metrics 暴露流水线的 Prometheus 指标。
type Metrics struct {
	requests       *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec
	fetches        *prometheus.CounterVec
	decodeDuration *prometheus.HistogramVec
	decodeRetries  prometheus.Counter
}

// NewMetrics 创建并注册指标；reg 为空时只创建不注册。
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "loader",
			Name:      "requests_total",
			Help:      "Load requests by terminal result.",
		}, []string{"result"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "loader",
			Name:      "cache_hits_total",
			Help:      "Cache hits by layer (memory or disk).",
		}, []string{"layer"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "loader",
			Name:      "fetches_total",
			Help:      "Source fetches by scheme and outcome.",
		}, []string{"scheme", "outcome"}),
		decodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "loader",
			Name:      "decode_duration_seconds",
			Help:      "Time spent decoding images.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"format"}),
		decodeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "loader",
			Name:      "decode_retries_total",
			Help:      "Decode attempts retried after an out-of-memory plan.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	collectors := []prometheus.Collector{m.requests, m.cacheHits, m.fetches, m.decodeDuration, m.decodeRetries}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register loader metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observeResult(result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(result).Inc()
}

func (m *Metrics) observeHit(layer Source) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(string(layer)).Inc()
}

func (m *Metrics) observeFetch(scheme string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.fetches.WithLabelValues(scheme, outcome).Inc()
}

func (m *Metrics) observeDecode(format string, d time.Duration) {
	if m == nil {
		return
	}
	if format == "" {
		format = "unknown"
	}
	m.decodeDuration.WithLabelValues(format).Observe(d.Seconds())
}

func (m *Metrics) observeRetry() {
	if m == nil {
		return
	}
	m.decodeRetries.Inc()
}
