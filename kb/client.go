// Package kb 封装对 Wikidata 结构化知识服务的查询：
// 实体搜索、标签解析、属性取值与属性搜索。
package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/wikichat/internal/cache"
	"github.com/BaSui01/wikichat/internal/metrics"
	"github.com/BaSui01/wikichat/internal/tlsutil"
	"github.com/BaSui01/wikichat/types"
)

const serviceName = "wikidata"

// Config 配置了 Wikidata 客户端。
type Config struct {
	BaseURL        string        `json:"base_url"`         // API base URL
	Language       string        `json:"language"`         // Search/label language
	Timeout        time.Duration `json:"timeout"`          // HTTP request timeout
	RetryCount     int           `json:"retry_count"`      // Number of retries on failure
	RetryDelay     time.Duration `json:"retry_delay"`      // Delay between retries
	RateLimitRPS   float64       `json:"rate_limit_rps"`   // Outbound request rate cap
	RateLimitBurst int           `json:"rate_limit_burst"` // Rate limiter burst
	UserAgent      string        `json:"user_agent"`       // Identifying UA per API etiquette
	CacheTTL       time.Duration `json:"cache_ttl"`        // TTL for cached lookups
}

// DefaultConfig 返回 Wikidata 查询的合理默认值。
func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://www.wikidata.org/w/api.php",
		Language:       "en",
		Timeout:        15 * time.Second,
		RetryCount:     2,
		RetryDelay:     time.Second,
		RateLimitRPS:   5,
		RateLimitBurst: 10,
		UserAgent:      "wikichat/1.0 (https://github.com/BaSui01/wikichat)",
		CacheTTL:       30 * time.Minute,
	}
}

// Client Wikidata 知识库客户端。
// 单个查询失败只影响该次查找；网络/服务故障以 SERVICE_UNAVAILABLE
// 上报，由调用方决定跳过还是中止。
type Client struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	cache   cache.Store
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewClient 创建 Wikidata 客户端。
func NewClient(config Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	rps := config.RateLimitRPS
	if rps <= 0 {
		rps = 5
	}
	burst := config.RateLimitBurst
	if burst <= 0 {
		burst = 10
	}
	return &Client{
		config:  config,
		client:  tlsutil.SecureHTTPClientWithUA(config.Timeout, config.UserAgent),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.With(zap.String("component", "kb_client")),
	}
}

// WithCache 挂载知识缓存。缓存故障降级为直连查询。
func (c *Client) WithCache(store cache.Store) *Client {
	c.cache = store
	return c
}

// WithMetrics 挂载指标收集器。
func (c *Client) WithMetrics(m *metrics.Collector) *Client {
	c.metrics = m
	return c
}

// =============================================================================
// 实体搜索
// =============================================================================

// SearchEntities 对自由文本做实体消歧搜索，按服务端相关度排序返回。
// 空结果是合法输出（未知词条）。
func (c *Client) SearchEntities(ctx context.Context, text string) ([]types.KBEntry, error) {
	cacheKey := "kb:search:" + strings.ToLower(text)
	var cached []types.KBEntry
	if c.cacheGet(ctx, cacheKey, &cached) {
		return cached, nil
	}

	params := url.Values{
		"action":   {"wbsearchentities"},
		"search":   {text},
		"language": {c.config.Language},
		"format":   {"json"},
	}

	body, err := c.doRequest(ctx, "search_entities", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Search []struct {
			ID          string `json:"id"`
			Label       string `json:"label"`
			Description string `json:"description"`
		} `json:"search"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, types.NewError(types.ErrDecode, "unexpected entity search response").
			WithService(serviceName).WithCause(err)
	}

	entries := make([]types.KBEntry, 0, len(resp.Search))
	for _, s := range resp.Search {
		entries = append(entries, types.KBEntry{
			ID:          s.ID,
			Label:       s.Label,
			Description: s.Description,
		})
	}

	c.logger.Debug("entity search completed",
		zap.String("text", text),
		zap.Int("matches", len(entries)))

	c.cacheSet(ctx, cacheKey, entries)
	return entries, nil
}

// SearchProperty 将自然语言属性短语（"mass"、"hair color"）映射到属性 ID。
// 无匹配时返回 NOT_FOUND。
func (c *Client) SearchProperty(ctx context.Context, text string) (types.KBEntry, error) {
	cacheKey := "kb:prop:" + strings.ToLower(text)
	var cached types.KBEntry
	if c.cacheGet(ctx, cacheKey, &cached) {
		return cached, nil
	}

	params := url.Values{
		"action":   {"wbsearchentities"},
		"search":   {text},
		"type":     {"property"},
		"language": {c.config.Language},
		"format":   {"json"},
	}

	body, err := c.doRequest(ctx, "search_property", params)
	if err != nil {
		return types.KBEntry{}, err
	}

	var resp struct {
		Search []struct {
			ID          string `json:"id"`
			Label       string `json:"label"`
			Description string `json:"description"`
		} `json:"search"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.KBEntry{}, types.NewError(types.ErrDecode, "unexpected property search response").
			WithService(serviceName).WithCause(err)
	}
	if len(resp.Search) == 0 {
		return types.KBEntry{}, types.NewError(types.ErrNotFound,
			fmt.Sprintf("no property matching %q", text)).WithService(serviceName)
	}

	entry := types.KBEntry{
		ID:          resp.Search[0].ID,
		Label:       resp.Search[0].Label,
		Description: resp.Search[0].Description,
	}
	c.cacheSet(ctx, cacheKey, entry)
	return entry, nil
}

// =============================================================================
// 标签与属性值
// =============================================================================

// GetLabel 解析实体引用为人类可读标签。
// 引用可以是裸 ID（"Q613726"）或 URI 形式
// （"http://www.wikidata.org/entity/Q613726"），统一取末段归一化。
func (c *Client) GetLabel(ctx context.Context, ref string) (string, error) {
	id := NormalizeRef(ref)

	cacheKey := "kb:label:" + id
	var cached string
	if c.cacheGet(ctx, cacheKey, &cached) {
		return cached, nil
	}

	params := url.Values{
		"action":    {"wbgetentities"},
		"ids":       {id},
		"props":     {"labels"},
		"languages": {c.config.Language},
		"format":    {"json"},
	}

	body, err := c.doRequest(ctx, "get_label", params)
	if err != nil {
		return "", err
	}

	var resp struct {
		Entities map[string]struct {
			Labels map[string]struct {
				Value string `json:"value"`
			} `json:"labels"`
		} `json:"entities"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", types.NewError(types.ErrDecode, "unexpected label response").
			WithService(serviceName).WithCause(err)
	}

	entity, ok := resp.Entities[id]
	if !ok {
		return "", types.NewError(types.ErrNotFound,
			fmt.Sprintf("entity %s not found", id)).WithService(serviceName)
	}
	label, ok := entity.Labels[c.config.Language]
	if !ok || label.Value == "" {
		return "", types.NewError(types.ErrNotFound,
			fmt.Sprintf("no %s label for %s", c.config.Language, id)).WithService(serviceName)
	}

	c.cacheSet(ctx, cacheKey, label.Value)
	return label.Value, nil
}

// SitelinkTitle 取实体在某个站点（如 "enwiki"）上的条目标题。
// 实体没有对应站点链接时返回 NOT_FOUND。
func (c *Client) SitelinkTitle(ctx context.Context, entityID, site string) (string, error) {
	cacheKey := "kb:sitelink:" + site + ":" + entityID
	var cached string
	if c.cacheGet(ctx, cacheKey, &cached) {
		return cached, nil
	}

	params := url.Values{
		"action":     {"wbgetentities"},
		"ids":        {entityID},
		"props":      {"sitelinks"},
		"sitefilter": {site},
		"format":     {"json"},
	}

	body, err := c.doRequest(ctx, "get_sitelink", params)
	if err != nil {
		return "", err
	}

	var resp struct {
		Entities map[string]struct {
			Sitelinks map[string]struct {
				Title string `json:"title"`
			} `json:"sitelinks"`
		} `json:"entities"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", types.NewError(types.ErrDecode, "unexpected sitelink response").
			WithService(serviceName).WithCause(err)
	}

	entity, ok := resp.Entities[entityID]
	if !ok {
		return "", types.NewError(types.ErrNotFound,
			fmt.Sprintf("entity %s not found", entityID)).WithService(serviceName)
	}
	link, ok := entity.Sitelinks[site]
	if !ok || link.Title == "" {
		return "", types.NewError(types.ErrNotFound,
			fmt.Sprintf("entity %s has no %s sitelink", entityID, site)).WithService(serviceName)
	}

	c.cacheSet(ctx, cacheKey, link.Title)
	return link.Title, nil
}

// snakValue Wikidata claim 的 mainsnak.datavalue.value 部分。
// 形状随数据类型变化，故全部字段可选。
type snakValue struct {
	Amount string `json:"amount"`
	Time   string `json:"time"`
	ID     string `json:"id"`
	Unit   string `json:"unit"`
}

// GetPropertyValue 取实体某属性的主值。
// 实体没有该属性时返回 (零值, false, nil)，这是预期的 absent 结果；
// 响应形状异常按同样的 absent 处理（对单个字段的解码失败回退）。
func (c *Client) GetPropertyValue(ctx context.Context, entityID, propertyID string) (types.PropertyValue, bool, error) {
	params := url.Values{
		"action": {"wbgetentities"},
		"ids":    {entityID},
		"props":  {"claims"},
		"format": {"json"},
	}

	body, err := c.doRequest(ctx, "get_property", params)
	if err != nil {
		return types.PropertyValue{}, false, err
	}

	var resp struct {
		Entities map[string]struct {
			Claims map[string][]struct {
				Mainsnak struct {
					Datavalue struct {
						Value json.RawMessage `json:"value"`
					} `json:"datavalue"`
				} `json:"mainsnak"`
			} `json:"claims"`
		} `json:"entities"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Debug("property response decode failed, treating as absent",
			zap.String("entity", entityID), zap.String("property", propertyID), zap.Error(err))
		return types.PropertyValue{}, false, nil
	}

	entity, ok := resp.Entities[entityID]
	if !ok {
		return types.PropertyValue{}, false, nil
	}
	claims, ok := entity.Claims[propertyID]
	if !ok || len(claims) == 0 {
		return types.PropertyValue{}, false, nil
	}

	raw := claims[0].Mainsnak.Datavalue.Value
	if len(raw) == 0 {
		return types.PropertyValue{}, false, nil
	}

	value, unitRef, ok := c.decodeSnak(ctx, raw)
	if !ok {
		return types.PropertyValue{}, false, nil
	}

	pv := types.PropertyValue{Value: value}

	// 单位标签解析失败时静默回退为无单位值
	if unitRef != "" && unitRef != "1" {
		if unitLabel, err := c.GetLabel(ctx, unitRef); err == nil {
			pv.Unit = unitLabel
		}
	}

	return pv, true, nil
}

// decodeSnak 按负载形状解码属性值：
// amount 去掉前导 "+"；time 原样透传；实体引用递归解析为标签；
// 其余按原始字面量处理。
func (c *Client) decodeSnak(ctx context.Context, raw json.RawMessage) (value, unitRef string, ok bool) {
	var sv snakValue
	if err := json.Unmarshal(raw, &sv); err == nil {
		switch {
		case sv.Amount != "":
			return strings.TrimPrefix(sv.Amount, "+"), sv.Unit, true
		case sv.Time != "":
			return sv.Time, sv.Unit, true
		case sv.ID != "":
			label, err := c.GetLabel(ctx, sv.ID)
			if err != nil {
				c.logger.Debug("linked entity label lookup failed", zap.String("id", sv.ID), zap.Error(err))
				return "", "", false
			}
			return label, sv.Unit, true
		}
	}

	// 字符串字面量（monolingual text、external id 等）
	var literal string
	if err := json.Unmarshal(raw, &literal); err == nil {
		return literal, "", true
	}

	c.logger.Debug("unrecognized datavalue shape", zap.ByteString("value", raw))
	return "", "", false
}

// NormalizeRef 将 URI 形式的实体引用归一化为裸 ID。
func NormalizeRef(ref string) string {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// =============================================================================
// HTTP 执行
// =============================================================================

// doRequest 执行带限速与重试的 GET 请求。
func (c *Client) doRequest(ctx context.Context, operation string, params url.Values) ([]byte, error) {
	requestURL := c.config.BaseURL + "?" + params.Encode()
	start := time.Now()

	var body []byte
	var err error
	for attempt := 0; attempt <= c.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				c.recordLookup(operation, ctxError(ctx), time.Since(start))
				return nil, ctxError(ctx)
			case <-time.After(c.config.RetryDelay):
			}
			c.logger.Debug("retrying wikidata request",
				zap.String("operation", operation), zap.Int("attempt", attempt))
		}

		body, err = c.fetch(ctx, requestURL)
		if err == nil {
			break
		}
		if !types.IsRetryable(err) {
			break
		}
		c.logger.Warn("wikidata request failed",
			zap.String("operation", operation), zap.Int("attempt", attempt), zap.Error(err))
	}

	c.recordLookup(operation, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return body, nil
}

// fetch 单次 HTTP 往返。
func (c *Client) fetch(ctx context.Context, requestURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctxError(ctx)
		}
		// 等待时长会超出尚未到期的 deadline 时，限速器直接拒绝
		return nil, types.NewError(types.ErrUpstreamTimeout, "rate limit wait exceeds request deadline").
			WithService(serviceName).WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to create request").
			WithService(serviceName).WithCause(err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "wikidata request failed").
			WithService(serviceName).WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(resp.StatusCode, serviceName)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "failed to read response body").
			WithService(serviceName).WithRetryable(true).WithCause(err)
	}
	return body, nil
}

// mapHTTPError 将 HTTP 状态映射到结构化错误。
func mapHTTPError(status int, service string) *types.Error {
	code := types.ErrServiceUnavailable
	retryable := status >= 500

	switch status {
	case http.StatusTooManyRequests:
		code = types.ErrRateLimited
		retryable = true
	case http.StatusBadRequest:
		code = types.ErrInvalidRequest
	case http.StatusNotFound:
		code = types.ErrNotFound
	case http.StatusGatewayTimeout:
		code = types.ErrUpstreamTimeout
		retryable = true
	}

	return types.NewError(code, fmt.Sprintf("%s returned status %d", service, status)).
		WithService(service).WithHTTPStatus(status).WithRetryable(retryable)
}

func ctxError(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return types.NewError(types.ErrUpstreamTimeout, "request deadline exceeded").
			WithService(serviceName).WithCause(ctx.Err())
	}
	return types.NewError(types.ErrServiceUnavailable, "request canceled").
		WithService(serviceName).WithCause(ctx.Err())
}

// =============================================================================
// 缓存与指标
// =============================================================================

func (c *Client) cacheGet(ctx context.Context, key string, dest any) bool {
	if c.cache == nil {
		return false
	}
	if err := c.cache.GetJSON(ctx, key, dest); err != nil {
		if c.metrics != nil {
			c.metrics.RecordCacheMiss(serviceName)
		}
		return false
	}
	if c.metrics != nil {
		c.metrics.RecordCacheHit(serviceName)
	}
	return true
}

func (c *Client) cacheSet(ctx context.Context, key string, value any) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetJSON(ctx, key, value, c.config.CacheTTL); err != nil {
		c.logger.Debug("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Client) recordLookup(operation string, err error, d time.Duration) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case types.IsNotFound(err):
		status = "not_found"
	case types.GetErrorCode(err) == types.ErrDecode:
		status = "decode_error"
	case err != nil:
		status = "unavailable"
	}
	c.metrics.RecordLookup(serviceName, operation, status, d)
}
