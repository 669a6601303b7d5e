// Package wiki 从 Wikipedia 拉取条目引言（intro extract）作为知识文本来源。
package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/wikichat/internal/cache"
	"github.com/BaSui01/wikichat/internal/metrics"
	"github.com/BaSui01/wikichat/internal/tlsutil"
	"github.com/BaSui01/wikichat/types"
)

const serviceName = "wikipedia"

// Config 配置了 Wikipedia 摘要抓取。
type Config struct {
	BaseURL    string        `json:"base_url"`    // MediaWiki API base URL
	Site       string        `json:"site"`        // Wikidata sitelink key, e.g. "enwiki"
	Timeout    time.Duration `json:"timeout"`     // HTTP request timeout
	RetryCount int           `json:"retry_count"` // Number of retries on failure
	RetryDelay time.Duration `json:"retry_delay"` // Delay between retries
	UserAgent  string        `json:"user_agent"`  // Identifying UA per API etiquette
	CacheTTL   time.Duration `json:"cache_ttl"`   // TTL for cached summaries
}

// DefaultConfig 返回英文维基百科的默认配置。
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://en.wikipedia.org/w/api.php",
		Site:       "enwiki",
		Timeout:    15 * time.Second,
		RetryCount: 2,
		RetryDelay: time.Second,
		UserAgent:  "wikichat/1.0 (https://github.com/BaSui01/wikichat)",
		CacheTTL:   30 * time.Minute,
	}
}

// Fetcher 按条目标题抓取纯文本引言摘要。
type Fetcher struct {
	config  Config
	client  *http.Client
	cache   cache.Store
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewFetcher 创建摘要抓取器。
func NewFetcher(config Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		config: config,
		client: tlsutil.SecureHTTPClientWithUA(config.Timeout, config.UserAgent),
		logger: logger.With(zap.String("component", "wiki_fetcher")),
	}
}

// WithCache 挂载摘要缓存。
func (f *Fetcher) WithCache(store cache.Store) *Fetcher {
	f.cache = store
	return f
}

// WithMetrics 挂载指标收集器。
func (f *Fetcher) WithMetrics(m *metrics.Collector) *Fetcher {
	f.metrics = m
	return f
}

// Summary 按条目标题返回引言段的纯文本。
// 自动跟随重定向；条目缺失或引言为空时返回 NOT_FOUND。
func (f *Fetcher) Summary(ctx context.Context, title string) (string, error) {
	cacheKey := "wiki:summary:" + title
	var cached string
	if f.cacheGet(ctx, cacheKey, &cached) {
		return cached, nil
	}

	params := url.Values{
		"action":      {"query"},
		"prop":        {"extracts"},
		"exintro":     {"1"},
		"explaintext": {"1"},
		"redirects":   {"1"},
		"titles":      {title},
		"format":      {"json"},
	}

	start := time.Now()
	body, err := f.doRequest(ctx, params)
	f.recordLookup(err, time.Since(start))
	if err != nil {
		return "", err
	}

	var resp struct {
		Query struct {
			Pages map[string]struct {
				Title   string `json:"title"`
				Extract string `json:"extract"`
				Missing *struct{} `json:"missing"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", types.NewError(types.ErrDecode, "unexpected extract response").
			WithService(serviceName).WithCause(err)
	}

	// 单标题查询的 pages 映射只含一个条目
	for _, page := range resp.Query.Pages {
		if page.Missing != nil || page.Extract == "" {
			return "", types.NewError(types.ErrNotFound,
				fmt.Sprintf("no extract for %q", title)).WithService(serviceName)
		}
		f.logger.Debug("summary fetched",
			zap.String("title", title),
			zap.Int("chars", len(page.Extract)))
		f.cacheSet(ctx, cacheKey, page.Extract)
		return page.Extract, nil
	}

	return "", types.NewError(types.ErrNotFound,
		fmt.Sprintf("page %q not found", title)).WithService(serviceName)
}

// doRequest 执行带重试的 GET 请求。
func (f *Fetcher) doRequest(ctx context.Context, params url.Values) ([]byte, error) {
	requestURL := f.config.BaseURL + "?" + params.Encode()

	var body []byte
	var err error
	for attempt := 0; attempt <= f.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, types.NewError(types.ErrServiceUnavailable, "request canceled").
					WithService(serviceName).WithCause(ctx.Err())
			case <-time.After(f.config.RetryDelay):
			}
		}

		body, err = f.fetch(ctx, requestURL)
		if err == nil {
			return body, nil
		}
		if !types.IsRetryable(err) {
			return nil, err
		}
		f.logger.Warn("wikipedia request failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, err
}

func (f *Fetcher) fetch(ctx context.Context, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to create request").
			WithService(serviceName).WithCause(err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "wikipedia request failed").
			WithService(serviceName).WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		code := types.ErrServiceUnavailable
		retryable := resp.StatusCode >= 500
		if resp.StatusCode == http.StatusTooManyRequests {
			code = types.ErrRateLimited
			retryable = true
		}
		return nil, types.NewError(code,
			fmt.Sprintf("wikipedia returned status %d", resp.StatusCode)).
			WithService(serviceName).WithHTTPStatus(resp.StatusCode).WithRetryable(retryable)
	}

	return io.ReadAll(resp.Body)
}

func (f *Fetcher) cacheGet(ctx context.Context, key string, dest any) bool {
	if f.cache == nil {
		return false
	}
	if err := f.cache.GetJSON(ctx, key, dest); err != nil {
		if f.metrics != nil {
			f.metrics.RecordCacheMiss(serviceName)
		}
		return false
	}
	if f.metrics != nil {
		f.metrics.RecordCacheHit(serviceName)
	}
	return true
}

func (f *Fetcher) cacheSet(ctx context.Context, key string, value any) {
	if f.cache == nil {
		return
	}
	if err := f.cache.SetJSON(ctx, key, value, f.config.CacheTTL); err != nil {
		f.logger.Debug("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (f *Fetcher) recordLookup(err error, d time.Duration) {
	if f.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case types.IsNotFound(err):
		status = "not_found"
	case err != nil:
		status = "unavailable"
	}
	f.metrics.RecordLookup(serviceName, "get_extract", status, d)
}
