package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/wikichat/extract"
	"github.com/BaSui01/wikichat/generate"
	"github.com/BaSui01/wikichat/internal/metrics"
	"github.com/BaSui01/wikichat/kb"
	"github.com/BaSui01/wikichat/rank"
	"github.com/BaSui01/wikichat/segment"
	"github.com/BaSui01/wikichat/types"
	"github.com/BaSui01/wikichat/wiki"
)

// Config 控制单轮编排行为。
type Config struct {
	KnowledgeEnabled     bool   `json:"knowledge_enabled"`      // 关闭后退化为纯对话模式
	DialogueWindow       int    `json:"dialogue_window"`        // prompt 中保留的最近对话轮数
	TopSentences         int    `json:"top_sentences"`          // 重排后保留的知识句数
	MaxEntityMatches     int    `json:"max_entity_matches"`     // 每个实体取前几个消歧候选
	MaxConcurrentFetches int    `json:"max_concurrent_fetches"` // 实体检索并发上限
	Site                 string `json:"site"`                   // Wikipedia sitelink key
}

// DefaultConfig 返回编排默认值。
func DefaultConfig() Config {
	return Config{
		KnowledgeEnabled:     true,
		DialogueWindow:       2,
		TopSentences:         8,
		MaxEntityMatches:     1,
		MaxConcurrentFetches: 4,
		Site:                 "enwiki",
	}
}

// TurnResult 一轮对话的产出。
type TurnResult struct {
	Reply        string                    // 生成的回复
	Knowledge    []types.KnowledgeSentence // 进入 prompt 的知识句，按相关度降序
	Prompt       string                    // 实际发送给生成模型的 prompt
	PromptTokens int                       // prompt 的 token 数
}

// Session 单个会话的对话编排器。
// 知识检索阶段的任何失败都只收窄知识池，绝不中断对话：
// 最坏情况下 prompt 不含 [KNOWLEDGE] 段，回复仍会生成。
type Session struct {
	id        string
	config    Config
	extractor *extract.Extractor
	kb        *kb.Client
	wiki      *wiki.Fetcher
	ranker    *rank.Ranker
	generator generate.Generator
	assembler *Assembler
	history   History
	tokens    *TokenCounter
	metrics   *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewSession 创建会话。sessionID 为空时自动生成。
func NewSession(
	sessionID string,
	config Config,
	extractor *extract.Extractor,
	kbClient *kb.Client,
	wikiFetcher *wiki.Fetcher,
	ranker *rank.Ranker,
	generator generate.Generator,
	assembler *Assembler,
	history History,
	tokens *TokenCounter,
	logger *zap.Logger,
) *Session {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if history == nil {
		history = NewMemoryHistory()
	}
	return &Session{
		id:        sessionID,
		config:    config,
		extractor: extractor,
		kb:        kbClient,
		wiki:      wikiFetcher,
		ranker:    ranker,
		generator: generator,
		assembler: assembler,
		history:   history,
		tokens:    tokens,
		tracer:    otel.Tracer("wikichat/chat"),
		logger:    logger.With(zap.String("session_id", sessionID)),
	}
}

// WithMetrics 挂载指标收集器。
func (s *Session) WithMetrics(m *metrics.Collector) *Session {
	s.metrics = m
	return s
}

// ID 返回会话标识。
func (s *Session) ID() string { return s.id }

// Respond 处理一轮用户输入并返回生成的回复。
func (s *Session) Respond(ctx context.Context, query string) (*TurnResult, error) {
	turnStart := time.Now()
	ctx, span := s.tracer.Start(ctx, "chat.turn",
		trace.WithAttributes(attribute.String("session.id", s.id)))
	defer span.End()

	if err := s.history.Append(ctx, types.DialogueTurn{
		ID:        uuid.NewString(),
		SessionID: s.id,
		Role:      types.RoleUser,
		Text:      query,
		CreatedAt: time.Now(),
	}); err != nil {
		s.recordTurn("error", turnStart, 0)
		return nil, err
	}

	knowledge := s.retrieveKnowledge(ctx, query)
	top := s.rankKnowledge(ctx, query, knowledge)

	window, err := s.history.Window(ctx, s.id, s.config.DialogueWindow)
	if err != nil {
		s.recordTurn("error", turnStart, len(knowledge))
		return nil, err
	}

	prompt := s.assembler.Build(window, JoinKnowledge(top))
	promptTokens := 0
	if s.tokens != nil {
		promptTokens = s.tokens.Count(prompt)
		if s.metrics != nil {
			s.metrics.RecordPromptTokens(promptTokens)
		}
	}

	genStart := time.Now()
	genCtx, genSpan := s.tracer.Start(ctx, "chat.generate")
	reply, err := s.generator.Generate(genCtx, prompt)
	genSpan.End()
	s.recordStage("generate", genStart)
	if err != nil {
		s.recordTurn("error", turnStart, len(knowledge))
		return nil, err
	}

	if err := s.history.Append(ctx, types.DialogueTurn{
		ID:        uuid.NewString(),
		SessionID: s.id,
		Role:      types.RoleAssistant,
		Text:      reply,
		CreatedAt: time.Now(),
	}); err != nil {
		s.recordTurn("error", turnStart, len(knowledge))
		return nil, err
	}

	s.recordTurn("ok", turnStart, len(knowledge))
	s.logger.Debug("turn completed",
		zap.Int("knowledge_pool", len(knowledge)),
		zap.Int("knowledge_selected", len(top)),
		zap.Int("prompt_tokens", promptTokens))

	return &TurnResult{
		Reply:        reply,
		Knowledge:    top,
		Prompt:       prompt,
		PromptTokens: promptTokens,
	}, nil
}

// Ask 单问单答：走完整知识检索与重排，但不读写会话历史。
func (s *Session) Ask(ctx context.Context, question string) (*TurnResult, error) {
	turnStart := time.Now()
	ctx, span := s.tracer.Start(ctx, "chat.ask",
		trace.WithAttributes(attribute.String("session.id", s.id)))
	defer span.End()

	knowledge := s.retrieveKnowledge(ctx, question)
	top := s.rankKnowledge(ctx, question, knowledge)

	prompt := s.assembler.BuildOneShot(question, JoinKnowledge(top))
	promptTokens := 0
	if s.tokens != nil {
		promptTokens = s.tokens.Count(prompt)
		if s.metrics != nil {
			s.metrics.RecordPromptTokens(promptTokens)
		}
	}

	genStart := time.Now()
	genCtx, genSpan := s.tracer.Start(ctx, "chat.generate")
	reply, err := s.generator.Generate(genCtx, prompt)
	genSpan.End()
	s.recordStage("generate", genStart)
	if err != nil {
		s.recordTurn("error", turnStart, len(knowledge))
		return nil, err
	}

	s.recordTurn("ok", turnStart, len(knowledge))
	return &TurnResult{
		Reply:        reply,
		Knowledge:    top,
		Prompt:       prompt,
		PromptTokens: promptTokens,
	}, nil
}

// Fact 直接查询实体某属性的结构化值（"Saturn" + "mass" → "568360 yottagram"）。
// 实体或属性无匹配、或实体缺该属性时返回 NOT_FOUND。
func (s *Session) Fact(ctx context.Context, entityText, propertyText string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "chat.fact",
		trace.WithAttributes(
			attribute.String("entity", entityText),
			attribute.String("property", propertyText)))
	defer span.End()

	matches, err := s.kb.SearchEntities(ctx, entityText)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", types.NewError(types.ErrNotFound,
			fmt.Sprintf("no entity matching %q", entityText))
	}

	property, err := s.kb.SearchProperty(ctx, propertyText)
	if err != nil {
		return "", err
	}

	value, found, err := s.kb.GetPropertyValue(ctx, matches[0].ID, property.ID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", types.NewError(types.ErrNotFound,
			fmt.Sprintf("%s has no %s", matches[0].Label, property.Label))
	}

	return value.String(), nil
}

// retrieveKnowledge 对查询中的每个实体并发抓取知识句。
// 单个实体的失败只记录日志并跳过，不影响其他实体。
// 结果按实体出现顺序、句子原文顺序稳定排列。
func (s *Session) retrieveKnowledge(ctx context.Context, query string) []types.KnowledgeSentence {
	if !s.config.KnowledgeEnabled || s.kb == nil || s.wiki == nil {
		return nil
	}

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "chat.retrieve")
	defer func() {
		span.End()
		s.recordStage("retrieve", start)
	}()

	entities := s.extractor.Entities(query)
	span.SetAttributes(attribute.Int("entities", len(entities)))
	if len(entities) == 0 {
		return nil
	}

	limit := s.config.MaxConcurrentFetches
	if limit <= 0 {
		limit = 1
	}

	// 每个实体占一个固定槽位，并发完成后按槽位顺序合并
	slots := make([][]types.KnowledgeSentence, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, entity := range entities {
		g.Go(func() error {
			sentences, err := s.fetchEntityKnowledge(gctx, entity.Text)
			if err != nil {
				s.logger.Debug("entity knowledge unavailable",
					zap.String("entity", entity.Text), zap.Error(err))
				return nil
			}
			slots[i] = sentences
			return nil
		})
	}
	// 工作协程从不返回错误，这里只等待全部完成
	_ = g.Wait()

	var pool []types.KnowledgeSentence
	for _, sentences := range slots {
		pool = append(pool, sentences...)
	}

	span.SetAttributes(attribute.Int("pool_size", len(pool)))
	return pool
}

// fetchEntityKnowledge 把一个实体解析为知识句：
// 消歧搜索取首个候选，经站点链接取条目引言，再切分为句子。
func (s *Session) fetchEntityKnowledge(ctx context.Context, entity string) ([]types.KnowledgeSentence, error) {
	matches, err := s.kb.SearchEntities(ctx, entity)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	limit := s.config.MaxEntityMatches
	if limit <= 0 {
		limit = 1
	}
	if limit > len(matches) {
		limit = len(matches)
	}

	var sentences []types.KnowledgeSentence
	for _, match := range matches[:limit] {
		title, err := s.kb.SitelinkTitle(ctx, match.ID, s.config.Site)
		if err != nil {
			if types.IsNotFound(err) {
				continue
			}
			return nil, err
		}

		summary, err := s.wiki.Summary(ctx, title)
		if err != nil {
			if types.IsNotFound(err) {
				continue
			}
			return nil, err
		}

		for i, text := range segment.Split(summary) {
			sentences = append(sentences, types.KnowledgeSentence{
				Entity: entity,
				Index:  i,
				Text:   text,
			})
		}
	}
	return sentences, nil
}

// rankKnowledge 语义重排知识池。编码服务不可用时降级为关键词重叠排序。
func (s *Session) rankKnowledge(ctx context.Context, query string, pool []types.KnowledgeSentence) []types.KnowledgeSentence {
	if len(pool) == 0 {
		return nil
	}

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "chat.rank")
	defer func() {
		span.End()
		s.recordStage("rank", start)
	}()

	if s.ranker != nil {
		top, err := s.ranker.TopN(ctx, query, pool, s.config.TopSentences)
		if err == nil {
			return top
		}
		s.logger.Warn("semantic reranking unavailable, using keyword fallback", zap.Error(err))
	}

	return rank.KeywordTopN(s.extractor.Words(query), pool, s.config.TopSentences)
}

func (s *Session) recordStage(stage string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordStage(stage, time.Since(start))
	}
}

func (s *Session) recordTurn(status string, start time.Time, poolSize int) {
	if s.metrics != nil {
		s.metrics.RecordTurn(status, time.Since(start), poolSize)
	}
}
