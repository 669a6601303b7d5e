// Package generate 封装对话回复生成：
// 调用 text-generation-inference 风格的 HTTP 推理端点，
// 按配置的采样参数生成回复文本。
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/wikichat/internal/metrics"
	"github.com/BaSui01/wikichat/internal/tlsutil"
	"github.com/BaSui01/wikichat/types"
)

// Generator 回复生成器。
type Generator interface {
	// Generate 对完整 prompt 生成一条回复。
	Generate(ctx context.Context, prompt string) (string, error)
	// Model 返回模型标识。
	Model() string
}

// Config 配置了生成端点与采样参数。
type Config struct {
	BaseURL      string        `json:"base_url"`
	APIKey       string        `json:"api_key"`
	Model        string        `json:"model"`
	MaxNewTokens int           `json:"max_new_tokens"`
	MinNewTokens int           `json:"min_new_tokens"`
	TopP         float64       `json:"top_p"`
	DoSample     bool          `json:"do_sample"`
	Timeout      time.Duration `json:"timeout"`
	RetryCount   int           `json:"retry_count"`
	RetryDelay   time.Duration `json:"retry_delay"`
}

// DefaultConfig 默认指向本地推理服务，采样参数取模型发布时的推荐值。
func DefaultConfig() Config {
	return Config{
		BaseURL:      "http://localhost:8082",
		Model:        "microsoft/GODEL-v1_1-large-seq2seq",
		MaxNewTokens: 512,
		MinNewTokens: 8,
		TopP:         0.9,
		DoSample:     true,
		Timeout:      120 * time.Second,
		RetryCount:   1,
		RetryDelay:   2 * time.Second,
	}
}

// HTTPGenerator 通过 /generate 接口调用推理服务。
// 模型就绪检查延迟到首次调用，用独立的超时上下文执行，
// 结果缓存后在后续调用中复用。
type HTTPGenerator struct {
	config  Config
	client  *http.Client
	metrics *metrics.Collector
	logger  *zap.Logger

	initMu   sync.Mutex
	initDone bool
	initErr  error
}

// NewHTTPGenerator 创建生成客户端。
func NewHTTPGenerator(config Config, logger *zap.Logger) *HTTPGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPGenerator{
		config: config,
		client: tlsutil.SecureHTTPClient(config.Timeout),
		logger: logger.With(zap.String("component", "generator")),
	}
}

// WithMetrics 挂载指标收集器。
func (g *HTTPGenerator) WithMetrics(m *metrics.Collector) *HTTPGenerator {
	g.metrics = m
	return g
}

// Model 返回模型标识。
func (g *HTTPGenerator) Model() string { return g.config.Model }

// Health 探测推理服务可用性。启动期调用可提前暴露配置错误。
func (g *HTTPGenerator) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.config.BaseURL+"/health", nil)
	if err != nil {
		return types.NewError(types.ErrModelInit, "failed to create health request").WithCause(err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return types.NewError(types.ErrModelInit,
			fmt.Sprintf("generation service unreachable at %s", g.config.BaseURL)).
			WithService("generator").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.NewError(types.ErrModelInit,
			fmt.Sprintf("generation service health check returned status %d", resp.StatusCode)).
			WithService("generator").WithHTTPStatus(resp.StatusCode)
	}

	g.logger.Info("generation service ready",
		zap.String("model", g.config.Model),
		zap.String("base_url", g.config.BaseURL))
	return nil
}

type generateRequest struct {
	Inputs     string             `json:"inputs"`
	Parameters generateParameters `json:"parameters"`
}

type generateParameters struct {
	MaxNewTokens int     `json:"max_new_tokens"`
	MinNewTokens int     `json:"min_new_tokens,omitempty"`
	TopP         float64 `json:"top_p,omitempty"`
	DoSample     bool    `json:"do_sample"`
}

type generateResponse struct {
	GeneratedText string `json:"generated_text"`
}

// ensureReady 在首次调用时探测推理服务，之后复用探测结论。
// 探测使用独立的超时上下文而非调用方上下文：
// 第一个请求被取消不能让后续所有请求都判定模型不可用。
func (g *HTTPGenerator) ensureReady() error {
	g.initMu.Lock()
	defer g.initMu.Unlock()
	if g.initDone {
		return g.initErr
	}

	timeout := g.config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := g.Health(ctx)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		// 探测本身被中断时不下结论，下次调用重新探测
		return err
	}
	g.initDone = true
	g.initErr = err
	return err
}

// Generate 对完整 prompt 生成一条回复，带重试。
func (g *HTTPGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := g.ensureReady(); err != nil {
		return "", err
	}

	payload, err := json.Marshal(generateRequest{
		Inputs: prompt,
		Parameters: generateParameters{
			MaxNewTokens: g.config.MaxNewTokens,
			MinNewTokens: g.config.MinNewTokens,
			TopP:         g.config.TopP,
			DoSample:     g.config.DoSample,
		},
	})
	if err != nil {
		return "", types.NewError(types.ErrInvalidRequest, "failed to encode generate request").WithCause(err)
	}

	var text string
	for attempt := 0; attempt <= g.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", types.NewError(types.ErrGeneration, "generation canceled").
					WithService("generator").WithCause(ctx.Err())
			case <-time.After(g.config.RetryDelay):
			}
			g.logger.Debug("retrying generation", zap.Int("attempt", attempt))
		}

		text, err = g.doGenerate(ctx, payload)
		if err == nil {
			return text, nil
		}
		if !types.IsRetryable(err) {
			return "", err
		}
		g.logger.Warn("generation attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	return "", err
}

func (g *HTTPGenerator) doGenerate(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.config.BaseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return "", types.NewError(types.ErrInvalidRequest, "failed to create request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.recordRequest("error", time.Since(start))
		return "", types.NewError(types.ErrGeneration, "generation request failed").
			WithService("generator").WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		g.recordRequest("error", time.Since(start))
		return "", types.NewError(types.ErrGeneration, "failed to read generation response").
			WithService("generator").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		g.recordRequest("error", time.Since(start))
		return "", types.NewError(types.ErrGeneration,
			fmt.Sprintf("generation service returned status %d", resp.StatusCode)).
			WithService("generator").WithHTTPStatus(resp.StatusCode).
			WithRetryable(resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		g.recordRequest("error", time.Since(start))
		return "", types.NewError(types.ErrDecode, "unexpected generation response").
			WithService("generator").WithCause(err)
	}

	g.recordRequest("ok", time.Since(start))
	return strings.TrimSpace(decoded.GeneratedText), nil
}

func (g *HTTPGenerator) recordRequest(status string, d time.Duration) {
	if g.metrics == nil {
		return
	}
	g.metrics.RecordModelRequest(g.config.Model, "generation", status, d)
}
