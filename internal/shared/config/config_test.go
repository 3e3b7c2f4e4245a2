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

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "ffmpeg", cfg.Render.FFmpegPath)
	assert.Equal(t, time.Duration(0), cfg.Render.EncodeTimeout)
	assert.Equal(t, 10*time.Second, cfg.Render.KillGrace)
	assert.Equal(t, 50, cfg.Render.BatchMaxJobs)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("ENCODE_TIMEOUT", "90")
	t.Setenv("SWEEP_MAX_AGE", "30m")
	t.Setenv("FONT_DIRS", "/fonts/a, /fonts/b,")
	t.Setenv("PUBLIC_BASE_URL", "https://cdn.example.com/")
	t.Setenv("PUBLISH_RENDERS", "yes")
	t.Setenv("BATCH_CONCURRENCY", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 90*time.Second, cfg.Render.EncodeTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Render.SweepMaxAge)
	assert.Equal(t, []string{"/fonts/a", "/fonts/b"}, cfg.Render.FontDirs)
	assert.Equal(t, "https://cdn.example.com", cfg.Storage.PublicBaseURL)
	assert.True(t, cfg.Render.Publish)
	assert.Equal(t, 2, cfg.Render.BatchConcurrency)
}
