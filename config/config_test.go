package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/poiesic/gleaner/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "./gleaner.db", cfg.DBPath)
	assert.Equal(t, "openai", cfg.EmbeddingProvider)
	assert.Equal(t, 25*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 1, cfg.FetchRetries)
	assert.Equal(t, time.Second, cfg.FetchBackoffBase)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "gleaner:wakeup", cfg.RedisWakeKey)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"GLEANER_DB_PATH":            "/var/lib/gleaner",
		"GLEANER_TENANT_ID":          "T1",
		"GLEANER_EMBEDDING_PROVIDER": "ollama",
		"GLEANER_EMBEDDING_HOST":     "http://ollama:11434",
		"GLEANER_FETCH_TIMEOUT":      "3s",
		"GLEANER_FETCH_RETRIES":      "4",
		"GLEANER_USER_AGENT":         "gleaner-test",
		"GLEANER_CHUNK_SIZE":         "500",
		"GLEANER_CHUNK_OVERLAP":      "50",
		"GLEANER_KEEP_HTML":          "true",
		"GLEANER_LOG_LEVEL":          "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/gleaner", cfg.DBPath)
	assert.Equal(t, "T1", cfg.TenantID)
	assert.True(t, cfg.KeepHTML)

	fetchOpts := cfg.Fetch()
	assert.Equal(t, 3*time.Second, fetchOpts.Timeout)
	assert.Equal(t, 4, fetchOpts.Retries)
	assert.Equal(t, "gleaner-test", fetchOpts.UserAgent)

	aiCfg := cfg.AI()
	require.NoError(t, aiCfg.Validate())
	assert.Equal(t, ai.ProviderOllama, aiCfg.Provider)
	assert.Equal(t, "http://ollama:11434", aiCfg.EmbeddingHost)

	assert.Len(t, cfg.Splitter(), 2)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"bad duration", map[string]string{"GLEANER_FETCH_TIMEOUT": "soon"}},
		{"bad int", map[string]string{"GLEANER_CHUNK_SIZE": "big"}},
		{"zero chunk size", map[string]string{"GLEANER_CHUNK_SIZE": "0"}},
		{"overlap too large", map[string]string{"GLEANER_CHUNK_SIZE": "100", "GLEANER_CHUNK_OVERLAP": "100"}},
		{"negative retries", map[string]string{"GLEANER_FETCH_RETRIES": "-1"}},
		{"zero concurrency", map[string]string{"GLEANER_CONCURRENCY": "0"}},
		{"bad log level", map[string]string{"GLEANER_LOG_LEVEL": "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFrom(tt.vars)
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
