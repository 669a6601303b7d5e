// =============================================================================
// 📦 WikiChat 配置结构
// =============================================================================
// 统一配置定义，覆盖检索管线、外部服务、模型端点与运维组件
// =============================================================================
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config 是 wikichat 的完整配置结构
type Config struct {
	// Pipeline 检索-生成管线配置
	Pipeline PipelineConfig `yaml:"pipeline" env:"PIPELINE"`

	// Wikidata 结构化知识库客户端配置
	Wikidata WikidataConfig `yaml:"wikidata" env:"WIKIDATA"`

	// Wikipedia 百科摘要客户端配置
	Wikipedia WikipediaConfig `yaml:"wikipedia" env:"WIKIPEDIA"`

	// Embedding 嵌入模型端点配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Generator 生成模型端点配置
	Generator GeneratorConfig `yaml:"generator" env:"GENERATOR"`

	// Cache 知识缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// History 对话历史存储配置
	History HistoryConfig `yaml:"history" env:"HISTORY"`

	// Server HTTP 前端配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// PipelineConfig 检索-生成管线配置
type PipelineConfig struct {
	// 是否启用知识检索（关闭后等价于离线纯对话模式）
	KnowledgeEnabled bool `yaml:"knowledge_enabled" env:"KNOWLEDGE_ENABLED"`
	// 送入生成的对话尾窗轮数
	DialogueWindow int `yaml:"dialogue_window" env:"DIALOGUE_WINDOW"`
	// 排序后保留的知识句数上限
	TopSentences int `yaml:"top_sentences" env:"TOP_SENTENCES"`
	// 每个实体保留的消歧候选数
	MaxEntityMatches int `yaml:"max_entity_matches" env:"MAX_ENTITY_MATCHES"`
	// 实体级并行抓取上限
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches" env:"MAX_CONCURRENT_FETCHES"`
	// 生成任务指令
	Instruction string `yaml:"instruction" env:"INSTRUCTION"`
}

// WikidataConfig Wikidata API 客户端配置
type WikidataConfig struct {
	// API base URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 标签/搜索语言
	Language string `yaml:"language" env:"LANGUAGE"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 失败重试次数
	RetryCount int `yaml:"retry_count" env:"RETRY_COUNT"`
	// 重试间隔
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// 请求速率上限（每秒）
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 速率突发额度
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// User-Agent（Wikimedia API 礼仪要求）
	UserAgent string `yaml:"user_agent" env:"USER_AGENT"`
}

// WikipediaConfig Wikipedia API 客户端配置
type WikipediaConfig struct {
	// API base URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 站点代码（决定取哪个语言版本的 sitelink）
	Site string `yaml:"site" env:"SITE"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 失败重试次数
	RetryCount int `yaml:"retry_count" env:"RETRY_COUNT"`
	// 重试间隔
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// User-Agent
	UserAgent string `yaml:"user_agent" env:"USER_AGENT"`
}

// EmbeddingConfig 嵌入模型端点配置（OpenAI 兼容 /v1/embeddings）
type EmbeddingConfig struct {
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	Model      string        `yaml:"model" env:"MODEL"`
	Dimensions int           `yaml:"dimensions" env:"DIMENSIONS"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// GeneratorConfig 生成模型端点配置（text-generation-inference 风格 /generate）
type GeneratorConfig struct {
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	// 模型规格：small / large
	ModelSize string `yaml:"model_size" env:"MODEL_SIZE"`
	// 两种规格对应的模型名
	SmallModel string `yaml:"small_model" env:"SMALL_MODEL"`
	LargeModel string `yaml:"large_model" env:"LARGE_MODEL"`
	// 采样参数
	MaxNewTokens int     `yaml:"max_new_tokens" env:"MAX_NEW_TOKENS"`
	MinNewTokens int     `yaml:"min_new_tokens" env:"MIN_NEW_TOKENS"`
	TopP         float64 `yaml:"top_p" env:"TOP_P"`
	DoSample     bool    `yaml:"do_sample" env:"DO_SAMPLE"`

	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Model 根据 ModelSize 返回生效的模型名
func (g GeneratorConfig) Model() string {
	if g.ModelSize == "small" {
		return g.SmallModel
	}
	return g.LargeModel
}

// CacheConfig 知识缓存配置
type CacheConfig struct {
	// 是否使用 Redis（关闭时退回进程内 TTL 缓存）
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Redis 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
}

// HistoryConfig 对话历史存储配置
type HistoryConfig struct {
	// 驱动：memory / sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// sqlite 数据库路径
	Path string `yaml:"path" env:"PATH"`
}

// ServerConfig HTTP 前端配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Pipeline.DialogueWindow <= 0 {
		errs = append(errs, "dialogue_window must be positive")
	}
	if c.Pipeline.TopSentences <= 0 {
		errs = append(errs, "top_sentences must be positive")
	}
	if c.Pipeline.MaxEntityMatches <= 0 {
		errs = append(errs, "max_entity_matches must be positive")
	}
	if c.Generator.ModelSize != "small" && c.Generator.ModelSize != "large" {
		errs = append(errs, "model_size must be small or large")
	}
	if c.Generator.TopP <= 0 || c.Generator.TopP > 1 {
		errs = append(errs, "top_p must be in (0, 1]")
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.History.Driver != "memory" && c.History.Driver != "sqlite" {
		errs = append(errs, "history driver must be memory or sqlite")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
