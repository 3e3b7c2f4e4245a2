package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextconvert/compositor/internal/shared/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderKey(t *testing.T) {
	ts := time.Date(2026, 3, 7, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	assert.Equal(t, "renders/2026/03/08/job-1.mp4", RenderKey(ts, "job-1.mp4"))
}

func TestContentType(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"renders/2026/01/02/job-1.mp4", "video/mp4"},
		{"renders/2026/01/02/job-1.JPG", "image/jpeg"},
		{"music/bed.mp3", "audio/mpeg"},
		{"blobs/raw", "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentType(tt.key))
		})
	}
}

func TestLocalBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	_, err = b.Put(ctx, "assets/clip.mp4", strings.NewReader("data"))
	require.NoError(t, err)

	ok, err := b.Exists(ctx, "assets/clip.mp4")
	require.NoError(t, err)
	assert.True(t, ok)

	size, err := b.GetSize(ctx, "assets/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)

	rc, err := b.Open(ctx, "assets/clip.mp4")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "data", string(data))

	keys, err := b.List(ctx, "assets/")
	require.NoError(t, err)
	assert.Equal(t, []string{"assets/clip.mp4"}, keys)

	_, err = b.Open(ctx, "assets/missing.mp4")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalBackendConfinesKeys(t *testing.T) {
	root := t.TempDir()
	b, err := NewLocalBackend(filepath.Join(root, "store"))
	require.NoError(t, err)

	p, err := b.Put(context.Background(), "../../escape.txt", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "store", "escape.txt"), p)

	_, err = b.Put(context.Background(), "/", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestPublish(t *testing.T) {
	dir := t.TempDir()
	b, err := NewLocalBackend(filepath.Join(dir, "store"))
	require.NoError(t, err)

	src := filepath.Join(dir, "job-1.mp4")
	require.NoError(t, os.WriteFile(src, []byte("video"), 0644))

	tests := []struct {
		name    string
		baseURL string
		wantURL string
	}{
		{"public url", "https://cdn.example.com/", "https://cdn.example.com/renders/2026/01/02/job-1.mp4"},
		{"backend location", "", filepath.Join(dir, "store", "renders", "2026", "01", "02", "job-1.mp4")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServiceWithBackend(b, tt.baseURL)
			s.now = func() time.Time { return time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC) }

			obj, err := s.Publish(context.Background(), src)
			require.NoError(t, err)
			assert.Equal(t, "renders/2026/01/02/job-1.mp4", obj.Key)
			assert.Equal(t, tt.wantURL, obj.URL)
			assert.Equal(t, int64(5), obj.Size)
		})
	}
}

func TestNewServiceRejectsUnknownBackend(t *testing.T) {
	_, err := NewService(config.StorageConfig{Backend: "ftp", BasePath: t.TempDir()})
	assert.Error(t, err)
}
