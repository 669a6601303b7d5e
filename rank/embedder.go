// Package rank 对候选知识句做语义重排：
// 用句向量模型编码查询与候选句，按余弦相似度选出最相关的前若干句。
package rank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/wikichat/internal/metrics"
	"github.com/BaSui01/wikichat/internal/tlsutil"
	"github.com/BaSui01/wikichat/types"
)

// Embedder 句向量编码器。
type Embedder interface {
	// Embed 为每个输入文本返回一个向量，顺序与输入一致。
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	// Model 返回模型标识，用于日志与指标。
	Model() string
}

// EmbedderConfig 配置了 OpenAI 兼容的 embeddings 端点。
type EmbedderConfig struct {
	BaseURL    string        `json:"base_url"`
	APIKey     string        `json:"api_key"`
	Model      string        `json:"model"`
	Dimensions int           `json:"dimensions"`
	Timeout    time.Duration `json:"timeout"`
}

// DefaultEmbedderConfig 默认指向本地推理服务。
func DefaultEmbedderConfig() EmbedderConfig {
	return EmbedderConfig{
		BaseURL:    "http://localhost:8081",
		Model:      "multi-qa-MiniLM-L6-cos-v1",
		Dimensions: 384,
		Timeout:    30 * time.Second,
	}
}

// HTTPEmbedder 通过 OpenAI 兼容的 /v1/embeddings 接口编码文本。
type HTTPEmbedder struct {
	config  EmbedderConfig
	client  *http.Client
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewHTTPEmbedder 创建 HTTP 编码器。
func NewHTTPEmbedder(config EmbedderConfig, logger *zap.Logger) *HTTPEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8081"
	}
	return &HTTPEmbedder{
		config: config,
		client: tlsutil.SecureHTTPClient(config.Timeout),
		logger: logger.With(zap.String("component", "embedder")),
	}
}

// WithMetrics 挂载指标收集器。
func (e *HTTPEmbedder) WithMetrics(m *metrics.Collector) *HTTPEmbedder {
	e.metrics = m
	return e
}

// Model 返回模型标识。
func (e *HTTPEmbedder) Model() string { return e.config.Model }

type embedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed 编码一批文本。
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(embedRequest{
		Input:      texts,
		Model:      e.config.Model,
		Dimensions: e.config.Dimensions,
	})
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to encode embed request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.config.BaseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to create request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		e.recordRequest("error", time.Since(start))
		return nil, types.NewError(types.ErrEmbedding, "embedding request failed").
			WithService("embedder").WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		e.recordRequest("error", time.Since(start))
		return nil, types.NewError(types.ErrEmbedding, "failed to read embedding response").
			WithService("embedder").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		e.recordRequest("error", time.Since(start))
		return nil, types.NewError(types.ErrEmbedding,
			fmt.Sprintf("embedding service returned status %d", resp.StatusCode)).
			WithService("embedder").WithHTTPStatus(resp.StatusCode).
			WithRetryable(resp.StatusCode >= 500)
	}

	var decoded embedResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		e.recordRequest("error", time.Since(start))
		return nil, types.NewError(types.ErrDecode, "unexpected embedding response").
			WithService("embedder").WithCause(err)
	}
	if len(decoded.Data) != len(texts) {
		e.recordRequest("error", time.Since(start))
		return nil, types.NewError(types.ErrEmbedding,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(decoded.Data))).
			WithService("embedder")
	}

	vectors := make([][]float64, len(texts))
	for _, d := range decoded.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, types.NewError(types.ErrDecode, "embedding index out of range").
				WithService("embedder")
		}
		vectors[d.Index] = d.Embedding
	}

	e.recordRequest("ok", time.Since(start))
	return vectors, nil
}

func (e *HTTPEmbedder) recordRequest(status string, d time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordModelRequest(e.config.Model, "embedding", status, d)
}
