// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector 管线指标收集器
type Collector struct {
	// 检索指标
	retrievalTotal    *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec
	retrievalItems    *prometheus.HistogramVec

	// 融合/装配指标
	fusionDuration   prometheus.Histogram
	assembledTokens  *prometheus.HistogramVec
	droppedItems     prometheus.Counter
	truncatedItems   prometheus.Counter
	compressionRuns  prometheus.Counter
	rerankSkips      *prometheus.CounterVec
	summaryFallbacks prometheus.Counter

	// 引用验证指标
	citationsParsed     prometheus.Counter
	citationsUnresolved prometheus.Counter

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到给定 registry，
// registry 为 nil 时注册到默认 registry。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	col := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	col.retrievalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_total",
			Help:      "Total retrieval branch executions",
		},
		[]string{"branch", "outcome"},
	)

	col.retrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval branch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"branch"},
	)

	col.retrievalItems = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_items",
			Help:      "Number of items returned per retrieval branch",
			Buckets:   prometheus.LinearBuckets(0, 5, 10),
		},
		[]string{"branch"},
	)

	col.fusionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fusion_duration_seconds",
			Help:      "Hybrid fusion duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)

	col.assembledTokens = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assembled_tokens",
			Help:      "Tokens assembled into context per category",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		},
		[]string{"category"},
	)

	col.droppedItems = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "assembler_dropped_items_total",
		Help:      "Candidate items dropped for budget reasons",
	})

	col.truncatedItems = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "assembler_truncated_items_total",
		Help:      "Candidate items partially truncated to fit budget",
	})

	col.compressionRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "context_compression_total",
		Help:      "Best-effort LLM context compressions performed",
	})

	col.rerankSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_skips_total",
			Help:      "Rerank stage skips by reason",
		},
		[]string{"reason"},
	)

	col.summaryFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "summary_fallbacks_total",
		Help:      "Conversation summarizations that fell back to the recency window",
	})

	col.citationsParsed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "citations_parsed_total",
		Help:      "Citation markers parsed from answers",
	})

	col.citationsUnresolved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "citations_unresolved_total",
		Help:      "Citations that did not resolve to a provided source",
	})

	col.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache hits by cache name",
		},
		[]string{"cache"},
	)

	col.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache misses by cache name",
		},
		[]string{"cache"},
	)

	reg.MustRegister(
		col.retrievalTotal, col.retrievalDuration, col.retrievalItems,
		col.fusionDuration, col.assembledTokens,
		col.droppedItems, col.truncatedItems, col.compressionRuns,
		col.rerankSkips, col.summaryFallbacks,
		col.citationsParsed, col.citationsUnresolved,
		col.cacheHits, col.cacheMisses,
	)

	return col
}

// ObserveRetrieval 记录一次检索分支执行。
func (c *Collector) ObserveRetrieval(branch, outcome string, items int, duration time.Duration) {
	c.retrievalTotal.WithLabelValues(branch, outcome).Inc()
	c.retrievalDuration.WithLabelValues(branch).Observe(duration.Seconds())
	c.retrievalItems.WithLabelValues(branch).Observe(float64(items))
}

// ObserveFusion 记录融合耗时。
func (c *Collector) ObserveFusion(duration time.Duration) {
	c.fusionDuration.Observe(duration.Seconds())
}

// ObserveAssembly 记录装配结果。
func (c *Collector) ObserveAssembly(docTokens, webTokens, dropped int, truncated bool) {
	c.assembledTokens.WithLabelValues("document").Observe(float64(docTokens))
	c.assembledTokens.WithLabelValues("web").Observe(float64(webTokens))
	c.droppedItems.Add(float64(dropped))
	if truncated {
		c.truncatedItems.Inc()
	}
}

// ObserveCompression 记录一次上下文压缩。
func (c *Collector) ObserveCompression() { c.compressionRuns.Inc() }

// ObserveRerankSkip 记录一次 rerank 跳过。
func (c *Collector) ObserveRerankSkip(reason string) {
	c.rerankSkips.WithLabelValues(reason).Inc()
}

// ObserveSummaryFallback 记录一次摘要降级。
func (c *Collector) ObserveSummaryFallback() { c.summaryFallbacks.Inc() }

// ObserveCitations 记录引用解析结果。
func (c *Collector) ObserveCitations(parsed, unresolved int) {
	c.citationsParsed.Add(float64(parsed))
	c.citationsUnresolved.Add(float64(unresolved))
}

// ObserveCache 记录缓存命中情况。
func (c *Collector) ObserveCache(name string, hit bool) {
	if hit {
		c.cacheHits.WithLabelValues(name).Inc()
	} else {
		c.cacheMisses.WithLabelValues(name).Inc()
	}
}
