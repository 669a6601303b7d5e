package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/wikichat/extract"
	"github.com/BaSui01/wikichat/kb"
	"github.com/BaSui01/wikichat/rank"
	"github.com/BaSui01/wikichat/types"
	"github.com/BaSui01/wikichat/wiki"
)

// stubGenerator 记录收到的 prompt 并返回固定回复。
type stubGenerator struct {
	prompts []string
	reply   string
	err     error
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *stubGenerator) Model() string { return "stub-generator" }

// stubEmbedder 对含查询关键词的句子给高分向量。
type stubEmbedder struct {
	calls int
	err   error
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float64, len(texts))
	query := strings.ToLower(texts[0])
	for i, text := range texts {
		if i == 0 {
			out[i] = []float64{1, 0}
			continue
		}
		if strings.Contains(query, "mass") && strings.Contains(strings.ToLower(text), "mass") {
			out[i] = []float64{1, 0.1}
		} else {
			out[i] = []float64{0.1, 1}
		}
	}
	return out, nil
}

func (e *stubEmbedder) Model() string { return "stub-embedder" }

// fakeKnowledgeBackend 同时模拟 Wikidata 与 Wikipedia 两个端点。
func fakeKnowledgeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")

		switch q.Get("action") {
		case "wbsearchentities":
			if q.Get("type") == "property" {
				if q.Get("search") == "mass" {
					_ = json.NewEncoder(w).Encode(map[string]any{"search": []map[string]any{
						{"id": "P2067", "label": "mass"},
					}})
					return
				}
				_ = json.NewEncoder(w).Encode(map[string]any{"search": []map[string]any{}})
				return
			}
			if q.Get("search") == "Saturn" {
				_ = json.NewEncoder(w).Encode(map[string]any{"search": []map[string]any{
					{"id": "Q193", "label": "Saturn", "description": "planet"},
				}})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"search": []map[string]any{}})

		case "wbgetentities":
			switch q.Get("props") {
			case "claims":
				_ = json.NewEncoder(w).Encode(map[string]any{"entities": map[string]any{
					q.Get("ids"): map[string]any{"claims": map[string]any{
						"P2067": []map[string]any{{"mainsnak": map[string]any{
							"datavalue": map[string]any{"value": map[string]any{
								"amount": "+568360",
								"unit":   "http://www.wikidata.org/entity/Q613726",
							}},
						}}},
					}},
				}})
			case "labels":
				_ = json.NewEncoder(w).Encode(map[string]any{"entities": map[string]any{
					q.Get("ids"): map[string]any{"labels": map[string]any{
						"en": map[string]any{"value": "yottagram"},
					}},
				}})
			default:
				_ = json.NewEncoder(w).Encode(map[string]any{"entities": map[string]any{
					q.Get("ids"): map[string]any{"sitelinks": map[string]any{
						"enwiki": map[string]any{"title": "Saturn"},
					}},
				}})
			}

		case "query":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"query": map[string]any{"pages": map[string]any{
					"39702": map[string]any{
						"title": "Saturn",
						"extract": "Saturn is the sixth planet from the Sun. " +
							"The mass of Saturn is 568360 yottagram. " +
							"It is named after the Roman god of wealth.",
					},
				}},
			})

		default:
			http.Error(w, "unknown action", http.StatusBadRequest)
		}
	}))
}

type sessionFixture struct {
	session   *Session
	generator *stubGenerator
	embedder  *stubEmbedder
	history   *MemoryHistory
}

func newFixture(t *testing.T, baseURL string) *sessionFixture {
	t.Helper()

	kbCfg := kb.DefaultConfig()
	kbCfg.BaseURL = baseURL
	kbCfg.RetryCount = 0
	kbCfg.Timeout = 5 * time.Second

	wikiCfg := wiki.DefaultConfig()
	wikiCfg.BaseURL = baseURL
	wikiCfg.RetryCount = 0
	wikiCfg.Timeout = 5 * time.Second

	gen := &stubGenerator{reply: "Saturn weighs 568360 yottagram."}
	emb := &stubEmbedder{}
	history := NewMemoryHistory()

	session := NewSession(
		"test-session",
		DefaultConfig(),
		extract.NewExtractor(zap.NewNop()),
		kb.NewClient(kbCfg, zap.NewNop()),
		wiki.NewFetcher(wikiCfg, zap.NewNop()),
		rank.NewRanker(emb, zap.NewNop()),
		gen,
		NewAssembler(testInstruction),
		history,
		nil,
		zap.NewNop(),
	)
	return &sessionFixture{session: session, generator: gen, embedder: emb, history: history}
}

func TestSession_RespondWithKnowledge(t *testing.T) {
	t.Parallel()
	srv := fakeKnowledgeBackend(t)
	defer srv.Close()
	fx := newFixture(t, srv.URL)

	result, err := fx.session.Respond(context.Background(), "What is the mass of Saturn?")
	require.NoError(t, err)

	assert.Equal(t, "Saturn weighs 568360 yottagram.", result.Reply)
	require.NotEmpty(t, result.Knowledge)
	assert.Equal(t, "The mass of Saturn is 568360 yottagram.", result.Knowledge[0].Text,
		"most relevant sentence ranked first")

	require.Len(t, fx.generator.prompts, 1)
	prompt := fx.generator.prompts[0]
	assert.True(t, strings.HasPrefix(prompt, testInstruction))
	assert.Contains(t, prompt, "[CONTEXT] What is the mass of Saturn?")
	assert.Contains(t, prompt, "[KNOWLEDGE]")

	// 用户与助手两轮都已入库
	window, err := fx.history.Window(context.Background(), "test-session", 10)
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, types.RoleUser, window[0].Role)
	assert.Equal(t, types.RoleAssistant, window[1].Role)
}

func TestSession_AllRetrievalFailuresStillRespond(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	fx := newFixture(t, srv.URL)

	result, err := fx.session.Respond(context.Background(), "What is the mass of Saturn?")
	require.NoError(t, err, "retrieval failures never abort the turn")

	assert.Empty(t, result.Knowledge)
	assert.NotContains(t, result.Prompt, "[KNOWLEDGE]",
		"empty knowledge pool omits the knowledge segment")
	assert.Equal(t, "Saturn weighs 568360 yottagram.", result.Reply)
}

func TestSession_EmbedderFailureUsesKeywordFallback(t *testing.T) {
	t.Parallel()
	srv := fakeKnowledgeBackend(t)
	defer srv.Close()
	fx := newFixture(t, srv.URL)
	fx.embedder.err = types.NewError(types.ErrEmbedding, "encoder offline")

	result, err := fx.session.Respond(context.Background(), "What is the mass of Saturn?")
	require.NoError(t, err)

	require.NotEmpty(t, result.Knowledge)
	assert.Equal(t, "The mass of Saturn is 568360 yottagram.", result.Knowledge[0].Text,
		"keyword overlap fallback still surfaces the relevant sentence")
}

func TestSession_NoEntitiesSkipsRetrieval(t *testing.T) {
	t.Parallel()
	srv := fakeKnowledgeBackend(t)
	defer srv.Close()
	fx := newFixture(t, srv.URL)

	result, err := fx.session.Respond(context.Background(), "how are you today")
	require.NoError(t, err)

	assert.Empty(t, result.Knowledge)
	assert.Zero(t, fx.embedder.calls, "no candidates means no embedding request")
}

func TestSession_DialogueWindowLimit(t *testing.T) {
	t.Parallel()
	srv := fakeKnowledgeBackend(t)
	defer srv.Close()
	fx := newFixture(t, srv.URL)

	_, err := fx.session.Respond(context.Background(), "hello there friend")
	require.NoError(t, err)
	_, err = fx.session.Respond(context.Background(), "tell me something nice")
	require.NoError(t, err)

	// 默认窗口为 2：第二轮的 prompt 只含上一条回复与当前输入
	last := fx.generator.prompts[len(fx.generator.prompts)-1]
	assert.NotContains(t, last, "hello there friend")
	assert.Contains(t, last, "Saturn weighs 568360 yottagram. EOS tell me something nice")
}

func TestSession_KnowledgeDisabled(t *testing.T) {
	t.Parallel()
	srv := fakeKnowledgeBackend(t)
	defer srv.Close()
	fx := newFixture(t, srv.URL)
	fx.session.config.KnowledgeEnabled = false

	result, err := fx.session.Respond(context.Background(), "What is the mass of Saturn?")
	require.NoError(t, err)
	assert.Empty(t, result.Knowledge)
	assert.NotContains(t, result.Prompt, "[KNOWLEDGE]")
}

func TestSession_AskDoesNotTouchHistory(t *testing.T) {
	t.Parallel()
	srv := fakeKnowledgeBackend(t)
	defer srv.Close()
	fx := newFixture(t, srv.URL)

	result, err := fx.session.Ask(context.Background(), "What is the mass of Saturn?")
	require.NoError(t, err)

	assert.Contains(t, result.Prompt, "Question: What is the mass of Saturn? Answer:")
	assert.Contains(t, result.Prompt, "[KNOWLEDGE]")
	assert.NotEmpty(t, result.Knowledge)

	window, err := fx.history.Window(context.Background(), "test-session", 10)
	require.NoError(t, err)
	assert.Empty(t, window, "one-shot answers leave no history")
}

func TestSession_GeneratorErrorPropagates(t *testing.T) {
	t.Parallel()
	srv := fakeKnowledgeBackend(t)
	defer srv.Close()
	fx := newFixture(t, srv.URL)
	fx.generator.err = types.NewError(types.ErrGeneration, "inference down")

	_, err := fx.session.Respond(context.Background(), "What is the mass of Saturn?")
	assert.Equal(t, types.ErrGeneration, types.GetErrorCode(err))
}

func TestSession_GeneratedIDWhenEmpty(t *testing.T) {
	t.Parallel()
	srv := fakeKnowledgeBackend(t)
	defer srv.Close()

	fx := newFixture(t, srv.URL)
	anon := NewSession("", DefaultConfig(), extract.NewExtractor(nil),
		nil, nil, nil, fx.generator, NewAssembler(testInstruction), nil, nil, nil)
	assert.NotEmpty(t, anon.ID())
}

func TestSession_Fact(t *testing.T) {
	t.Parallel()
	srv := fakeKnowledgeBackend(t)
	defer srv.Close()
	fx := newFixture(t, srv.URL)

	value, err := fx.session.Fact(context.Background(), "Saturn", "mass")
	require.NoError(t, err)
	assert.Equal(t, "568360 yottagram", value)
}

func TestSession_FactUnknownEntity(t *testing.T) {
	t.Parallel()
	srv := fakeKnowledgeBackend(t)
	defer srv.Close()
	fx := newFixture(t, srv.URL)

	_, err := fx.session.Fact(context.Background(), "Xyzzy", "mass")
	assert.True(t, types.IsNotFound(err))
}

func TestSession_FactUnknownProperty(t *testing.T) {
	t.Parallel()
	srv := fakeKnowledgeBackend(t)
	defer srv.Close()
	fx := newFixture(t, srv.URL)

	_, err := fx.session.Fact(context.Background(), "Saturn", "smell")
	assert.True(t, types.IsNotFound(err))
}
