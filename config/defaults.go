// =============================================================================
// 📦 WikiChat 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultInstruction 默认生成任务指令
const DefaultInstruction = "Instruction: given a dialog context and related knowledge, " +
	"you need to answer the question based on the knowledge."

// DefaultUserAgent 外呼 Wikimedia API 使用的 User-Agent
const DefaultUserAgent = "wikichat/1.0 (https://github.com/BaSui01/wikichat)"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Pipeline:  DefaultPipelineConfig(),
		Wikidata:  DefaultWikidataConfig(),
		Wikipedia: DefaultWikipediaConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Generator: DefaultGeneratorConfig(),
		Cache:     DefaultCacheConfig(),
		History:   DefaultHistoryConfig(),
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultPipelineConfig 返回默认管线配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		KnowledgeEnabled:     true,
		DialogueWindow:       2,
		TopSentences:         8,
		MaxEntityMatches:     1,
		MaxConcurrentFetches: 4,
		Instruction:          DefaultInstruction,
	}
}

// DefaultWikidataConfig 返回默认 Wikidata 客户端配置
func DefaultWikidataConfig() WikidataConfig {
	return WikidataConfig{
		BaseURL:        "https://www.wikidata.org/w/api.php",
		Language:       "en",
		Timeout:        15 * time.Second,
		RetryCount:     2,
		RetryDelay:     time.Second,
		RateLimitRPS:   5,
		RateLimitBurst: 10,
		UserAgent:      DefaultUserAgent,
	}
}

// DefaultWikipediaConfig 返回默认 Wikipedia 客户端配置
func DefaultWikipediaConfig() WikipediaConfig {
	return WikipediaConfig{
		BaseURL:    "https://en.wikipedia.org/w/api.php",
		Site:       "enwiki",
		Timeout:    15 * time.Second,
		RetryCount: 2,
		RetryDelay: time.Second,
		UserAgent:  DefaultUserAgent,
	}
}

// DefaultEmbeddingConfig 返回默认嵌入端点配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		BaseURL:    "http://localhost:8081",
		Model:      "multi-qa-MiniLM-L6-cos-v1",
		Dimensions: 384,
		Timeout:    30 * time.Second,
	}
}

// DefaultGeneratorConfig 返回默认生成端点配置
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		BaseURL:      "http://localhost:8082",
		ModelSize:    "large",
		SmallModel:   "microsoft/GODEL-v1_1-base-seq2seq",
		LargeModel:   "microsoft/GODEL-v1_1-large-seq2seq",
		MaxNewTokens: 512,
		MinNewTokens: 8,
		TopP:         0.9,
		DoSample:     true,
		Timeout:      120 * time.Second,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:    false,
		Addr:       "localhost:6379",
		DB:         0,
		DefaultTTL: 30 * time.Minute,
		PoolSize:   10,
	}
}

// DefaultHistoryConfig 返回默认历史存储配置
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Driver: "memory",
		Path:   "wikichat_history.db",
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "console",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "wikichat",
		SampleRate:   1.0,
	}
}
