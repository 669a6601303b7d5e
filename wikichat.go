// Package wikichat provides a top-level convenience entry point for creating
// knowledge-grounded chat sessions with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/wikichat"
//
//	session, err := wikichat.New()
//	session, err := wikichat.New(wikichat.WithSmallModel(), wikichat.WithOffline())
//
// The session talks to public Wikidata/Wikipedia endpoints and to locally
// hosted embedding and generation services using the default configuration;
// use [WithConfig] for full control.
package wikichat

import (
	"go.uber.org/zap"

	"github.com/BaSui01/wikichat/chat"
	"github.com/BaSui01/wikichat/config"
	"github.com/BaSui01/wikichat/extract"
	"github.com/BaSui01/wikichat/generate"
	"github.com/BaSui01/wikichat/kb"
	"github.com/BaSui01/wikichat/rank"
	"github.com/BaSui01/wikichat/wiki"
)

type options struct {
	cfg        *config.Config
	logger     *zap.Logger
	generator  generate.Generator
	embedder   rank.Embedder
	history    chat.History
	sessionID  string
	smallModel bool
	offline    bool
}

// Option configures the session created by [New].
type Option func(*options)

// WithConfig replaces the default configuration entirely.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithGenerator sets a pre-built reply generator.
func WithGenerator(g generate.Generator) Option {
	return func(o *options) { o.generator = g }
}

// WithEmbedder sets a pre-built sentence embedder.
func WithEmbedder(e rank.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithHistory sets a custom dialogue history store.
func WithHistory(h chat.History) Option {
	return func(o *options) { o.history = h }
}

// WithSessionID resumes an existing session.
func WithSessionID(id string) Option {
	return func(o *options) { o.sessionID = id }
}

// WithSmallModel selects the small generation model.
// Applied after the configuration is resolved, so it takes effect
// regardless of option order relative to [WithConfig].
func WithSmallModel() Option {
	return func(o *options) { o.smallModel = true }
}

// WithOffline disables knowledge retrieval; replies come from dialogue
// context alone. Order-independent, same as [WithSmallModel].
func WithOffline() Option {
	return func(o *options) { o.offline = true }
}

// New creates a [chat.Session] with the default pipeline.
func New(opts ...Option) (*chat.Session, error) {
	o := &options{cfg: config.DefaultConfig()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.smallModel {
		o.cfg.Generator.ModelSize = "small"
	}
	if o.offline {
		o.cfg.Pipeline.KnowledgeEnabled = false
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	cfg := o.cfg

	generator := o.generator
	if generator == nil {
		generator = generate.NewHTTPGenerator(generate.Config{
			BaseURL:      cfg.Generator.BaseURL,
			APIKey:       cfg.Generator.APIKey,
			Model:        cfg.Generator.Model(),
			MaxNewTokens: cfg.Generator.MaxNewTokens,
			MinNewTokens: cfg.Generator.MinNewTokens,
			TopP:         cfg.Generator.TopP,
			DoSample:     cfg.Generator.DoSample,
			Timeout:      cfg.Generator.Timeout,
		}, o.logger)
	}

	embedder := o.embedder
	if embedder == nil {
		embedder = rank.NewHTTPEmbedder(rank.EmbedderConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Embedding.Timeout,
		}, o.logger)
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
	}, o.logger)

	wikiFetcher := wiki.NewFetcher(wiki.Config{
		BaseURL:    cfg.Wikipedia.BaseURL,
		Site:       cfg.Wikipedia.Site,
		Timeout:    cfg.Wikipedia.Timeout,
		RetryCount: cfg.Wikipedia.RetryCount,
		RetryDelay: cfg.Wikipedia.RetryDelay,
		UserAgent:  cfg.Wikipedia.UserAgent,
		CacheTTL:   cfg.Cache.DefaultTTL,
	}, o.logger)

	return chat.NewSession(
		o.sessionID,
		chat.Config{
			KnowledgeEnabled:     cfg.Pipeline.KnowledgeEnabled,
			DialogueWindow:       cfg.Pipeline.DialogueWindow,
			TopSentences:         cfg.Pipeline.TopSentences,
			MaxEntityMatches:     cfg.Pipeline.MaxEntityMatches,
			MaxConcurrentFetches: cfg.Pipeline.MaxConcurrentFetches,
			Site:                 cfg.Wikipedia.Site,
		},
		extract.NewExtractor(o.logger),
		kbClient,
		wikiFetcher,
		rank.NewRanker(embedder, o.logger),
		generator,
		chat.NewAssembler(cfg.Pipeline.Instruction),
		o.history,
		chat.NewTokenCounter("cl100k_base", o.logger),
		o.logger,
	), nil
}
