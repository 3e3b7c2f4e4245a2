package composition

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextconvert/compositor/internal/shared/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validComposition() Composition {
	return Composition{
		Platform: "tiktok",
		Scenes: []Scene{
			{BackgroundSource: "https://cdn.example.com/a.mp4", Duration: 2.0},
			{BackgroundSource: "https://cdn.example.com/b.mp4", Duration: 3.5, Captions: []CaptionStyle{
				{Text: "Hello", StartTime: 0.5, EndTime: 3.0},
			}},
			{BackgroundSource: "https://cdn.example.com/c.mp4", Duration: 1.0},
		},
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	c, err := New(validComposition())
	require.NoError(t, err)

	assert.Equal(t, "mp4", c.OutputFormat)
	assert.Equal(t, 0.3, c.Volume())
	assert.InDelta(t, 6.5, c.TotalDuration(), 1e-9)

	caption := c.Scenes[1].Captions[0]
	assert.Equal(t, DefaultFont, caption.Font)
	assert.Equal(t, DefaultFontSize, caption.Size)
	assert.Equal(t, DefaultFontColor, caption.Color)
	assert.Equal(t, PositionCenter, caption.Position)
	assert.Equal(t, AnimationFade, caption.Animation)
	assert.Equal(t, DefaultOutlineColor, caption.OutlineColor)
}

func TestNewDoesNotAliasInput(t *testing.T) {
	in := validComposition()
	c, err := New(in)
	require.NoError(t, err)

	in.Scenes[1].Captions[0].Text = "changed"
	assert.Equal(t, "Hello", c.Scenes[1].Captions[0].Text)
	assert.Empty(t, in.Scenes[1].Captions[0].Font)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Composition)
	}{
		{"no scenes", func(c *Composition) { c.Scenes = nil }},
		{"zero duration", func(c *Composition) { c.Scenes[0].Duration = 0 }},
		{"negative duration", func(c *Composition) { c.Scenes[0].Duration = -1 }},
		{"no background anywhere", func(c *Composition) {
			for i := range c.Scenes {
				c.Scenes[i].BackgroundSource = ""
			}
		}},
		{"caption ends after scene", func(c *Composition) { c.Scenes[1].Captions[0].EndTime = 3.6 }},
		{"caption starts before zero", func(c *Composition) { c.Scenes[1].Captions[0].StartTime = -0.1 }},
		{"empty caption window", func(c *Composition) {
			c.Scenes[1].Captions[0].StartTime = 1
			c.Scenes[1].Captions[0].EndTime = 1
		}},
		{"unknown position", func(c *Composition) { c.Scenes[1].Captions[0].Position = "left" }},
		{"unknown animation", func(c *Composition) { c.Scenes[1].Captions[0].Animation = "spin" }},
		{"empty caption text", func(c *Composition) { c.Scenes[1].Captions[0].Text = "  " }},
		{"unsupported format", func(c *Composition) { c.OutputFormat = "gif" }},
		{"music too loud", func(c *Composition) {
			v := 1.5
			c.MusicVolume = &v
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validComposition()
			tt.mutate(&c)
			_, err := New(c)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrInvalidComposition), err.Error())
		})
	}

	t.Run("scene without background is allowed when another has one", func(t *testing.T) {
		c := validComposition()
		c.Scenes[2].BackgroundSource = ""
		_, err := New(c)
		assert.NoError(t, err)
	})

	t.Run("caption window may end exactly at scene end", func(t *testing.T) {
		c := validComposition()
		c.Scenes[1].Captions[0].EndTime = 3.5
		_, err := New(c)
		assert.NoError(t, err)
	})
}

func TestOmittedCaptionWindowSpansScene(t *testing.T) {
	c := validComposition()
	c.Scenes[0].Captions = []CaptionStyle{{Text: "whole scene"}}

	out, err := New(c)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.Scenes[0].Captions[0].StartTime)
	assert.Equal(t, 2.0, out.Scenes[0].Captions[0].EndTime)
}

func TestCaptionVisible(t *testing.T) {
	c := CaptionStyle{StartTime: 1.0, EndTime: 2.5}

	tests := []struct {
		t       float64
		visible bool
	}{
		{0.999, false},
		{1.0, true},
		{1.7, true},
		{2.499, true},
		{2.5, false},
		{3.0, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.visible, c.Visible(tt.t), "t=%v", tt.t)
	}
}

func TestParse(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		data := []byte(`{
			"platform": "youtube",
			"musicTrack": "https://cdn.example.com/music.mp3",
			"musicVolume": 0.2,
			"globalEffects": ["vignette"],
			"outputFormat": "mp4",
			"resolution": {"width": 1920, "height": 1080},
			"scenes": [
				{"backgroundSource": "bg.mp4", "duration": 4,
				 "captions": [{"text": "Hi", "position": "top", "animation": "bounce", "startTime": 0, "endTime": 2}]}
			]
		}`)

		c, err := Parse(data, FormatJSON)
		require.NoError(t, err)
		assert.Equal(t, "youtube", c.Platform)
		assert.Equal(t, 0.2, c.Volume())
		assert.Equal(t, PositionTop, c.Scenes[0].Captions[0].Position)
		assert.Equal(t, AnimationBounce, c.Scenes[0].Captions[0].Animation)
	})

	t.Run("yaml", func(t *testing.T) {
		data := []byte(`
platform: instagram
scenes:
  - backgroundSource: bg.mp4
    voiceoverSource: vo.mp3
    duration: 3
    effects: [grain, blur]
`)
		c, err := Parse(data, FormatYAML)
		require.NoError(t, err)
		assert.Equal(t, "instagram", c.Platform)
		assert.Equal(t, []string{"grain", "blur"}, c.Scenes[0].Effects)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		_, err := Parse([]byte(`{"scenes": [], "bogus": 1}`), FormatJSON)
		assert.True(t, errors.Is(err, apperr.ErrInvalidComposition))
	})
}

func TestParseRejectsNonFiniteNumbers(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"nan caption start", "    captions: [{text: Hi, startTime: .nan, endTime: 1}]\n"},
		{"nan caption end", "    captions: [{text: Hi, startTime: 0, endTime: .nan}]\n"},
		{"infinite caption end", "    captions: [{text: Hi, startTime: 0, endTime: .inf}]\n"},
		{"nan music volume", "musicVolume: .nan\n"},
		{"infinite music volume", "musicVolume: .inf\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := "scenes:\n  - backgroundSource: bg.mp4\n    duration: 2\n"
			if strings.HasPrefix(tt.doc, "    ") {
				doc += tt.doc
			} else {
				doc = tt.doc + doc
			}

			_, err := Parse([]byte(doc), FormatYAML)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrInvalidComposition), err.Error())
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "comp.yml")
	require.NoError(t, os.WriteFile(path, []byte("scenes:\n  - backgroundSource: a.mp4\n    duration: 1\n"), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPlatform, c.Platform)
	assert.Equal(t, FormatYAML, FormatForPath(path))
	assert.Equal(t, FormatJSON, FormatForPath("x.json"))
}
