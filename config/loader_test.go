package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Pipeline.KnowledgeEnabled)
	assert.Equal(t, 2, cfg.Pipeline.DialogueWindow)
	assert.Equal(t, 8, cfg.Pipeline.TopSentences)
	assert.Equal(t, 1, cfg.Pipeline.MaxEntityMatches)
	assert.Equal(t, "large", cfg.Generator.ModelSize)
	assert.Equal(t, cfg.Generator.LargeModel, cfg.Generator.Model())
}

func TestLoader_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
pipeline:
  knowledge_enabled: false
  top_sentences: 4
wikidata:
  language: de
  timeout: 5s
generator:
  model_size: small
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.False(t, cfg.Pipeline.KnowledgeEnabled)
	assert.Equal(t, 4, cfg.Pipeline.TopSentences)
	assert.Equal(t, "de", cfg.Wikidata.Language)
	assert.Equal(t, 5*time.Second, cfg.Wikidata.Timeout)
	assert.Equal(t, cfg.Generator.SmallModel, cfg.Generator.Model())
	// untouched sections keep defaults
	assert.Equal(t, 2, cfg.Pipeline.DialogueWindow)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	t.Setenv("WIKICHAT_PIPELINE_TOP_SENTENCES", "16")
	t.Setenv("WIKICHAT_CACHE_ENABLED", "true")
	t.Setenv("WIKICHAT_WIKIDATA_RETRY_DELAY", "250ms")
	t.Setenv("WIKICHAT_GENERATOR_TOP_P", "0.5")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Pipeline.TopSentences)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Wikidata.RetryDelay)
	assert.InDelta(t, 0.5, cfg.Generator.TopP, 1e-9)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Wikidata.BaseURL, cfg.Wikidata.BaseURL)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero window", func(c *Config) { c.Pipeline.DialogueWindow = 0 }},
		{"zero topn", func(c *Config) { c.Pipeline.TopSentences = 0 }},
		{"bad model size", func(c *Config) { c.Generator.ModelSize = "medium" }},
		{"bad top_p", func(c *Config) { c.Generator.TopP = 1.5 }},
		{"bad history driver", func(c *Config) { c.History.Driver = "postgres" }},
		{"bad port", func(c *Config) { c.Server.HTTPPort = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
