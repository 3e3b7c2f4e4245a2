package render

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextconvert/compositor/internal/modules/composition"
	"github.com/nextconvert/compositor/internal/shared/config"
	"github.com/nextconvert/compositor/internal/shared/metrics"
	"github.com/nextconvert/compositor/internal/shared/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromConfigDryRunPublishes(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewService(config.StorageConfig{
		Backend:       "local",
		BasePath:      filepath.Join(root, "store"),
		PublicBaseURL: "https://cdn.example.com",
	})
	require.NoError(t, err)

	src := filepath.Join(root, "clip.mp4")
	require.NoError(t, os.WriteFile(src, []byte("clip"), 0644))

	renderer, workspaces, err := NewFromConfig(config.RenderConfig{
		WorkRoot:   filepath.Join(root, "work"),
		OutputRoot: filepath.Join(root, "out"),
		Publish:    true,
	}, SetupOptions{Storage: store, DryRun: true, Metrics: metrics.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "work"), workspaces.Root())

	comp, err := composition.New(composition.Composition{
		Scenes: []composition.Scene{{BackgroundSource: src, Duration: 2}},
	})
	require.NoError(t, err)

	res, err := renderer.Render(context.Background(), "job-1", comp, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "out", "job-1.mp4"), res.OutputPath)
	assert.Contains(t, res.OutputURL, "https://cdn.example.com/renders/")
	assert.Nil(t, res.Media)
}

func TestNewFromConfigUsesFFmpeg(t *testing.T) {
	root := t.TempDir()
	renderer, _, err := NewFromConfig(config.RenderConfig{
		FFmpegPath: "/opt/ffmpeg/bin/ffmpeg",
		WorkRoot:   filepath.Join(root, "work"),
		OutputRoot: filepath.Join(root, "out"),
		Publish:    true,
		Thumbnails: true,
	}, SetupOptions{})
	require.NoError(t, err)

	enc, ok := renderer.cfg.Encoder.(*FFmpegEncoder)
	require.True(t, ok)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", enc.ffmpegPath)
	assert.NotNil(t, renderer.cfg.Prober)
	assert.Same(t, enc, renderer.cfg.Thumbnailer)
	assert.Nil(t, renderer.cfg.Publisher, "publishing needs storage")
}
