// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 对话轮次指标
	turnsTotal    *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	knowledgePool prometheus.Histogram

	// 外部检索指标（wikidata / wikipedia）
	lookupsTotal   *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec

	// 嵌入 / 生成模型指标
	modelRequestsTotal   *prometheus.CounterVec
	modelRequestDuration *prometheus.HistogramVec
	promptTokens         prometheus.Histogram

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 对话轮次指标
	c.turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of dialogue turns processed",
		},
		[]string{"status"}, // ok, no_knowledge, error
	)

	c.turnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"}, // extract, fetch, rank, generate, total
	)

	c.knowledgePool = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "knowledge_pool_sentences",
			Help:      "Number of candidate sentences pooled per turn",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		},
	)

	// 外部检索指标
	c.lookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kb_lookups_total",
			Help:      "Total number of knowledge lookups against external services",
		},
		[]string{"service", "operation", "status"}, // status: ok, not_found, unavailable, decode_error
	)

	c.lookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kb_lookup_duration_seconds",
			Help:      "Knowledge lookup duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "operation"},
	)

	// 模型指标
	c.modelRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_requests_total",
			Help:      "Total number of embedding/generation model requests",
		},
		[]string{"model", "kind", "status"}, // kind: embed, generate
	)

	c.modelRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_request_duration_seconds",
			Help:      "Embedding/generation request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model", "kind"},
	)

	c.promptTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_tokens",
			Help:      "Token count of assembled generation prompts",
			Buckets:   prometheus.ExponentialBuckets(8, 2, 10),
		},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 指标记录
// =============================================================================

// RecordTurn 记录一轮对话
func (c *Collector) RecordTurn(status string, total time.Duration, poolSize int) {
	c.turnsTotal.WithLabelValues(status).Inc()
	c.turnDuration.WithLabelValues("total").Observe(total.Seconds())
	c.knowledgePool.Observe(float64(poolSize))
}

// RecordStage 记录管线单阶段耗时
func (c *Collector) RecordStage(stage string, duration time.Duration) {
	c.turnDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordLookup 记录一次外部知识查询
func (c *Collector) RecordLookup(service, operation, status string, duration time.Duration) {
	c.lookupsTotal.WithLabelValues(service, operation, status).Inc()
	c.lookupDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordModelRequest 记录一次嵌入或生成请求
func (c *Collector) RecordModelRequest(model, kind, status string, duration time.Duration) {
	c.modelRequestsTotal.WithLabelValues(model, kind, status).Inc()
	c.modelRequestDuration.WithLabelValues(model, kind).Observe(duration.Seconds())
}

// RecordPromptTokens 记录组装后提示词的 token 数
func (c *Collector) RecordPromptTokens(n int) {
	c.promptTokens.Observe(float64(n))
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}
