package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "./projects", cfg.ProjectsDir)
	assert.True(t, cfg.RequireApproval)
	assert.Equal(t, int64(204800), cfg.PreviewMaxBytes)
	assert.Equal(t, 120*time.Second, cfg.GenerationTimeout)
	assert.Equal(t, 8, cfg.AgentMaxTurns)
	assert.Equal(t, "none", cfg.AuthMode)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("REQUIRE_APPROVAL", "false")
	t.Setenv("GENERATION_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.False(t, cfg.RequireApproval)
	assert.Equal(t, 5*time.Second, cfg.GenerationTimeout)
}

func TestGenerationEnabled(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.GenerationEnabled())
	cfg.AnthropicAPIKey = "sk-test"
	assert.True(t, cfg.GenerationEnabled())
}
