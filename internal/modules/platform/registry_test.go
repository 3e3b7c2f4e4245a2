package platform

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextconvert/compositor/internal/shared/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileFor(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name     string
		id       string
		expected Profile
	}{
		{
			name:     "vertical short-form",
			id:       "tiktok",
			expected: Profile{ID: "tiktok", Width: 1080, Height: 1920, FPS: 30, VideoBitrate: "8M", AudioBitrate: "192k", Codec: "libx264", Preset: "medium"},
		},
		{
			name:     "widescreen",
			id:       "youtube",
			expected: Profile{ID: "youtube", Width: 1920, Height: 1080, FPS: 60, VideoBitrate: "12M", AudioBitrate: "320k", Codec: "libx264", Preset: "slow"},
		},
		{
			name:     "high resolution",
			id:       "4k",
			expected: Profile{ID: "4k", Width: 3840, Height: 2160, FPS: 60, VideoBitrate: "45M", AudioBitrate: "320k", Codec: "libx265", Preset: "slower"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := r.ProfileFor(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p)
		})
	}
}

func TestProfileForUnknownPlatform(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	r := DefaultRegistry()
	_, err := r.ProfileFor("unknown-platform")

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUnknownPlatform))
	assert.Equal(t, apperr.KindUnknownPlatform, apperr.KindOf(err))

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "lookup must not touch the filesystem")
}

func TestRegistryIsImmutable(t *testing.T) {
	r := DefaultRegistry()

	extended, err := r.With(Profile{ID: "square", Width: 1080, Height: 1080, FPS: 30, Codec: "libx264"})
	require.NoError(t, err)

	_, err = r.ProfileFor("square")
	assert.Error(t, err)

	p, err := extended.ProfileFor("square")
	require.NoError(t, err)
	assert.Equal(t, 1080, p.Width)
	assert.Contains(t, extended.IDs(), "tiktok")
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		valid   bool
	}{
		{"valid", Profile{ID: "a", Width: 2, Height: 2, FPS: 1, Codec: "libx264"}, true},
		{"missing id", Profile{Width: 2, Height: 2, FPS: 1, Codec: "libx264"}, false},
		{"odd width", Profile{ID: "a", Width: 3, Height: 2, FPS: 1, Codec: "libx264"}, false},
		{"zero fps", Profile{ID: "a", Width: 2, Height: 2, Codec: "libx264"}, false},
		{"missing codec", Profile{ID: "a", Width: 2, Height: 2, FPS: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.toml")
	content := `
[[profile]]
id = "linkedin"
width = 1080
height = 1080
fps = 30
video_bitrate = "5M"
audio_bitrate = "192k"
codec = "libx264"
preset = "medium"

[[profile]]
id = "youtube"
width = 1920
height = 1080
fps = 30
video_bitrate = "10M"
audio_bitrate = "256k"
codec = "libx264"
preset = "medium"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	r, err := LoadOverrides(path, DefaultRegistry())
	require.NoError(t, err)

	linkedin, err := r.ProfileFor("linkedin")
	require.NoError(t, err)
	assert.Equal(t, "5M", linkedin.VideoBitrate)

	youtube, err := r.ProfileFor("youtube")
	require.NoError(t, err)
	assert.Equal(t, 30, youtube.FPS)

	t.Run("empty path returns base", func(t *testing.T) {
		base := DefaultRegistry()
		same, err := LoadOverrides("", base)
		require.NoError(t, err)
		assert.Same(t, base, same)
	})

	t.Run("invalid profile rejected", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.toml")
		require.NoError(t, os.WriteFile(bad, []byte("[[profile]]\nid = \"x\"\nwidth = 0\n"), 0644))
		_, err := LoadOverrides(bad, DefaultRegistry())
		assert.Error(t, err)
	})
}
