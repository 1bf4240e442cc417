package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "openai", cfg.ExtractionProvider)
	assert.Equal(t, 3, cfg.IngestExtractMaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.IngestLease)
	assert.Equal(t, 2*time.Second, cfg.IngestPollInterval)
	assert.Equal(t, "labreport:uploads", cfg.Stream.Stream)
	assert.Equal(t, 5*time.Second, cfg.Stream.Block)
	assert.Equal(t, 10*time.Second, cfg.Temporal.NamespaceMaxWait)
	assert.False(t, cfg.Temporal.Enabled())
	assert.Equal(t, "labreport", cfg.Otel.ServiceName)
	assert.InDelta(t, 0.1, cfg.Otel.SampleRatio, 1e-9)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PORT=9000\nOPENAI_MODEL=gpt-file\nTEMPORAL_ADDRESS=temporal:7233\n"), 0o600))

	t.Setenv("OPENAI_MODEL", "gpt-env")
	t.Setenv("INGEST_LEASE", "90s")
	t.Setenv("INGEST_STREAM_BATCH_SIZE", "25")

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "gpt-env", cfg.OpenAIModel)
	assert.Equal(t, 90*time.Second, cfg.IngestLease)
	assert.Equal(t, int64(25), cfg.Stream.BatchSize)
	assert.True(t, cfg.Temporal.Enabled())
}

func TestLoadConfigMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("PORT", "7070")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("EXTRACTION_PROVIDER", "gemini")
	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXTRACTION_PROVIDER")

	cfg := Config{ExtractionProvider: "LangChain", IngestExtractMaxAttempts: 0}
	require.Error(t, cfg.Validate())
	cfg.IngestExtractMaxAttempts = 1
	require.NoError(t, cfg.Validate())
}

func TestCORSOriginList(t *testing.T) {
	cfg := Config{CORSOrigins: " https://a.example , ,https://b.example"}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOriginList())
	assert.Nil(t, Config{}.CORSOriginList())
}
