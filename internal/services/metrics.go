package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store labels used in metrics
const (
	storeChats     = "chats"
	storeMessages  = "messages"
	storeBriefing  = "briefing"
	storeSummaries = "summaries"
)

// Metrics holds the Prometheus metrics for the cache layer
type Metrics struct {
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	Refreshes        *prometheus.CounterVec
	InFlightRejected *prometheus.CounterVec
	BatchFailures    prometheus.Counter
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics. Call once at startup;
// services no-op their metric recording when this was never called.
func InitMetrics() *Metrics {
	metrics := &Metrics{
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chattriage_cache_hits_total",
			Help: "Cache reads served without a fetch, by store",
		}, []string{"store"}),

		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chattriage_cache_misses_total",
			Help: "Cache reads that triggered a fetch, by store",
		}, []string{"store"}),

		Refreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chattriage_cache_refreshes_total",
			Help: "Completed refresh attempts by store and result",
		}, []string{"store", "result"}), // result: "success" or "error"

		InFlightRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chattriage_inflight_rejected_total",
			Help: "Load triggers coalesced because a load was already in flight, by store",
		}, []string{"store"}),

		BatchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chattriage_batch_chat_failures_total",
			Help: "Individual chats that failed inside a batched message fetch",
		}),
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance, or nil if never initialized
func GetMetrics() *Metrics {
	return globalMetrics
}

func recordHit(store string) {
	if m := globalMetrics; m != nil {
		m.CacheHits.WithLabelValues(store).Inc()
	}
}

func recordMiss(store string) {
	if m := globalMetrics; m != nil {
		m.CacheMisses.WithLabelValues(store).Inc()
	}
}

func recordRefresh(store string, ok bool) {
	if m := globalMetrics; m != nil {
		result := "success"
		if !ok {
			result = "error"
		}
		m.Refreshes.WithLabelValues(store, result).Inc()
	}
}

func recordInFlightRejected(store string) {
	if m := globalMetrics; m != nil {
		m.InFlightRejected.WithLabelValues(store).Inc()
	}
}

func recordBatchFailure() {
	if m := globalMetrics; m != nil {
		m.BatchFailures.Inc()
	}
}
