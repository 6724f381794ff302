package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marlowe_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marlowe_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marlowe_turns_total",
		Help: "Total conversation turns processed",
	}, []string{"outcome"})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marlowe_llm_requests_total",
		Help: "Total LLM requests",
	}, []string{"model", "status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marlowe_llm_request_duration_seconds",
		Help:    "LLM request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"model"})

	ToolExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marlowe_tool_executions_total",
		Help: "Total tool executions by outcome",
	}, []string{"tool", "status"})

	ToolExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marlowe_tool_execution_duration_seconds",
		Help:    "Tool execution duration",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"tool"})

	MemorySearchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marlowe_memory_searches_total",
		Help: "Total semantic memory searches",
	}, []string{"status"})

	MemoriesPromotedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marlowe_memories_promoted_total",
		Help: "Interactions promoted to long-term memory",
	})

	DegradationMode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marlowe_degradation_mode",
		Help: "Current degradation mode (0=online 1=degraded 2=offline 3=error)",
	})

	OfflineQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marlowe_offline_queue_depth",
		Help: "Messages waiting in the offline queue",
	})

	OfflineQueueDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marlowe_offline_queue_dropped_total",
		Help: "Queued messages evicted to make room for new ones",
	})
)
