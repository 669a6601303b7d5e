package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/wikichat/chat"
	"github.com/BaSui01/wikichat/config"
	"github.com/BaSui01/wikichat/extract"
	"github.com/BaSui01/wikichat/generate"
	"github.com/BaSui01/wikichat/internal/cache"
	"github.com/BaSui01/wikichat/internal/metrics"
	"github.com/BaSui01/wikichat/kb"
	"github.com/BaSui01/wikichat/rank"
	"github.com/BaSui01/wikichat/wiki"
)

// =============================================================================
// 📦 组件装配
// =============================================================================

// app 持有装配完成的管线组件，REPL 与服务模式共用。
type app struct {
	cfg       *config.Config
	extractor *extract.Extractor
	kb        *kb.Client
	wiki      *wiki.Fetcher
	ranker    *rank.Ranker
	generator generate.Generator
	assembler *chat.Assembler
	history   chat.History
	tokens    *chat.TokenCounter
	metrics   *metrics.Collector
	cache     cache.Store
	logger    *zap.Logger
}

// newApp 按配置装配全部组件。
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	collector := metrics.NewCollector("wikichat", logger)

	var store cache.Store
	if cfg.Cache.Enabled {
		redisStore, err := cache.NewRedisStore(cache.Config{
			Enabled:    true,
			Addr:       cfg.Cache.Addr,
			Password:   cfg.Cache.Password,
			DB:         cfg.Cache.DB,
			DefaultTTL: cfg.Cache.DefaultTTL,
			PoolSize:   cfg.Cache.PoolSize,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, using in-process cache", zap.Error(err))
			store = cache.NewMemoryStore(cfg.Cache.DefaultTTL)
		} else {
			store = redisStore
		}
	} else {
		store = cache.NewMemoryStore(cfg.Cache.DefaultTTL)
	}

	kbClient := kb.NewClient(kb.Config{
		BaseURL:        cfg.Wikidata.BaseURL,
		Language:       cfg.Wikidata.Language,
		Timeout:        cfg.Wikidata.Timeout,
		RetryCount:     cfg.Wikidata.RetryCount,
		RetryDelay:     cfg.Wikidata.RetryDelay,
		RateLimitRPS:   cfg.Wikidata.RateLimitRPS,
		RateLimitBurst: cfg.Wikidata.RateLimitBurst,
		UserAgent:      cfg.Wikidata.UserAgent,
		CacheTTL:       cfg.Cache.DefaultTTL,
	}, logger).WithCache(store).WithMetrics(collector)

	wikiFetcher := wiki.NewFetcher(wiki.Config{
		BaseURL:    cfg.Wikipedia.BaseURL,
		Site:       cfg.Wikipedia.Site,
		Timeout:    cfg.Wikipedia.Timeout,
		RetryCount: cfg.Wikipedia.RetryCount,
		RetryDelay: cfg.Wikipedia.RetryDelay,
		UserAgent:  cfg.Wikipedia.UserAgent,
		CacheTTL:   cfg.Cache.DefaultTTL,
	}, logger).WithCache(store).WithMetrics(collector)

	embedder := rank.NewHTTPEmbedder(rank.EmbedderConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
	}, logger).WithMetrics(collector)

	generator := generate.NewHTTPGenerator(generate.Config{
		BaseURL:      cfg.Generator.BaseURL,
		APIKey:       cfg.Generator.APIKey,
		Model:        cfg.Generator.Model(),
		MaxNewTokens: cfg.Generator.MaxNewTokens,
		MinNewTokens: cfg.Generator.MinNewTokens,
		TopP:         cfg.Generator.TopP,
		DoSample:     cfg.Generator.DoSample,
		Timeout:      cfg.Generator.Timeout,
	}, logger).WithMetrics(collector)

	history, err := openHistory(cfg.History, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		extractor: extract.NewExtractor(logger),
		kb:        kbClient,
		wiki:      wikiFetcher,
		ranker:    rank.NewRanker(embedder, logger),
		generator: generator,
		assembler: chat.NewAssembler(cfg.Pipeline.Instruction),
		history:   history,
		tokens:    chat.NewTokenCounter("cl100k_base", logger),
		metrics:   collector,
		cache:     store,
		logger:    logger,
	}, nil
}

// newSession 为一个会话创建编排器。
func (a *app) newSession(sessionID string) *chat.Session {
	return chat.NewSession(
		sessionID,
		chat.Config{
			KnowledgeEnabled:     a.cfg.Pipeline.KnowledgeEnabled,
			DialogueWindow:       a.cfg.Pipeline.DialogueWindow,
			TopSentences:         a.cfg.Pipeline.TopSentences,
			MaxEntityMatches:     a.cfg.Pipeline.MaxEntityMatches,
			MaxConcurrentFetches: a.cfg.Pipeline.MaxConcurrentFetches,
			Site:                 a.cfg.Wikipedia.Site,
		},
		a.extractor,
		a.kb,
		a.wiki,
		a.ranker,
		a.generator,
		a.assembler,
		a.history,
		a.tokens,
		a.logger,
	).WithMetrics(a.metrics)
}

// close 释放持有的资源。
func (a *app) close() {
	if err := a.history.Close(); err != nil {
		a.logger.Warn("failed to close history store", zap.Error(err))
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("failed to close cache", zap.Error(err))
	}
}

// openHistory 按驱动打开历史存储。
func openHistory(cfg config.HistoryConfig, logger *zap.Logger) (chat.History, error) {
	switch cfg.Driver {
	case "", "memory":
		return chat.NewMemoryHistory(), nil
	case "sqlite":
		return chat.NewSQLiteHistory(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unsupported history driver: %s (supported: memory, sqlite)", cfg.Driver)
	}
}
