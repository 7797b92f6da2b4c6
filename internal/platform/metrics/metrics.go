package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 进程级 Prometheus 指标。方法对 nil 接收者安全，测试中可直接传 nil。
type Metrics struct {
	CacheLookups    *prometheus.CounterVec
	CacheComputes   *prometheus.CounterVec
	CacheBackendErr prometheus.Counter
	DedupEvents     *prometheus.CounterVec
	IndexDocuments  prometheus.Gauge
	IndexRebuilds   *prometheus.CounterVec
	IndexSearchSecs prometheus.Histogram
	KnowledgeQuery  *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// New 返回全局单例，重复调用不会重复注册。
func New() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "bob_cache_lookups_total",
				Help: "Response cache lookups by result (hit, miss)",
			}, []string{"result"}),
			CacheComputes: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "bob_cache_computes_total",
				Help: "Response cache computations by outcome (ok, uncached, error, timeout, shared)",
			}, []string{"outcome"}),
			CacheBackendErr: promauto.NewCounter(prometheus.CounterOpts{
				Name: "bob_cache_backend_errors_total",
				Help: "Cache backend failures absorbed as misses",
			}),
			DedupEvents: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "bob_dedup_events_total",
				Help: "Inbound events seen by the deduplicator (first, duplicate)",
			}, []string{"result"}),
			IndexDocuments: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "bob_index_documents",
				Help: "Documents currently held by the in-memory vector index",
			}),
			IndexRebuilds: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "bob_index_loads_total",
				Help: "Vector index loads by kind (snapshot, rebuild, failed)",
			}, []string{"kind"}),
			IndexSearchSecs: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "bob_index_search_seconds",
				Help:    "Vector index search latency",
				Buckets: prometheus.DefBuckets,
			}),
			KnowledgeQuery: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "bob_knowledge_queries_total",
				Help: "Knowledge queries by resolved mode",
			}, []string{"mode"}),
		}
	})
	return metricsInstance
}

func (m *Metrics) CacheHit() {
	if m == nil || m.CacheLookups == nil {
		return
	}
	m.CacheLookups.WithLabelValues("hit").Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil || m.CacheLookups == nil {
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) CacheCompute(outcome string) {
	if m == nil || m.CacheComputes == nil {
		return
	}
	m.CacheComputes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CacheBackendError() {
	if m == nil || m.CacheBackendErr == nil {
		return
	}
	m.CacheBackendErr.Inc()
}

func (m *Metrics) DedupSeen(duplicate bool) {
	if m == nil || m.DedupEvents == nil {
		return
	}
	if duplicate {
		m.DedupEvents.WithLabelValues("duplicate").Inc()
		return
	}
	m.DedupEvents.WithLabelValues("first").Inc()
}

func (m *Metrics) IndexSize(n int) {
	if m == nil || m.IndexDocuments == nil {
		return
	}
	m.IndexDocuments.Set(float64(n))
}

func (m *Metrics) IndexLoad(kind string) {
	if m == nil || m.IndexRebuilds == nil {
		return
	}
	m.IndexRebuilds.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveSearch(seconds float64) {
	if m == nil || m.IndexSearchSecs == nil {
		return
	}
	m.IndexSearchSecs.Observe(seconds)
}

func (m *Metrics) KnowledgeMode(mode string) {
	if m == nil || m.KnowledgeQuery == nil {
		return
	}
	m.KnowledgeQuery.WithLabelValues(mode).Inc()
}
