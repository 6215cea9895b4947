package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 5, cfg.Context.MaxLevels)
	assert.Equal(t, 100, cfg.Query.DefaultLimit)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "openai", cfg.LLM.Primary.Provider)
	assert.Equal(t, "gemini", cfg.LLM.Fallback.Provider)
	assert.Equal(t, "./cargas", cfg.Certificates.UploadDir)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONTEXT_MAX_LEVELS", "3")
	t.Setenv("LLM_PRIMARY_PROVIDER", "GEMINI")
	t.Setenv("LLM_TIMEOUT", "10s")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Context.MaxLevels)
	assert.Equal(t, "gemini", cfg.LLM.Primary.Provider)
	assert.Equal(t, 10*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("bogus", time.Minute))
	assert.Equal(t, 2*time.Second, parseDuration("2s", time.Minute))
}
