package composition

import (
	"fmt"
	"math"
	"strings"

	"github.com/nextconvert/compositor/internal/shared/apperr"
)

// Position is the vertical caption anchor.
type Position string

const (
	PositionTop    Position = "top"
	PositionCenter Position = "center"
	PositionBottom Position = "bottom"
)

// Animation is the caption animation kind.
type Animation string

const (
	AnimationNone   Animation = "none"
	AnimationFade   Animation = "fade"
	AnimationSlide  Animation = "slide"
	AnimationBounce Animation = "bounce"
)

// Defaults applied to omitted fields
const (
	DefaultPlatform     = "tiktok"
	DefaultOutputFormat = "mp4"
	DefaultMusicVolume  = 0.3
	DefaultFont         = "Impact"
	DefaultFontSize     = 72
	DefaultFontColor    = "white"
	DefaultOutlineColor = "black"
)

var supportedFormats = map[string]bool{
	"mp4": true,
	"mov": true,
	"mkv": true,
}

// CaptionStyle is one timed text overlay within a scene. Times are relative
// to the scene start and the caption is visible in [StartTime, EndTime).
type CaptionStyle struct {
	Text         string    `json:"text" yaml:"text"`
	Font         string    `json:"font,omitempty" yaml:"font,omitempty"`
	Size         int       `json:"size,omitempty" yaml:"size,omitempty"`
	Color        string    `json:"color,omitempty" yaml:"color,omitempty"`
	Position     Position  `json:"position,omitempty" yaml:"position,omitempty"`
	Animation    Animation `json:"animation,omitempty" yaml:"animation,omitempty"`
	OutlineColor string    `json:"outlineColor,omitempty" yaml:"outlineColor,omitempty"`
	OutlineWidth int       `json:"outlineWidth,omitempty" yaml:"outlineWidth,omitempty"`
	Shadow       bool      `json:"shadow,omitempty" yaml:"shadow,omitempty"`
	StartTime    float64   `json:"startTime" yaml:"startTime"`
	EndTime      float64   `json:"endTime" yaml:"endTime"`
}

// Visible reports whether the caption is drawn at scene-relative time t.
func (c CaptionStyle) Visible(t float64) bool {
	return t >= c.StartTime && t < c.EndTime
}

// Scene is one timed segment of the composition.
type Scene struct {
	BackgroundSource string         `json:"backgroundSource,omitempty" yaml:"backgroundSource,omitempty"`
	VoiceoverSource  string         `json:"voiceoverSource,omitempty" yaml:"voiceoverSource,omitempty"`
	Duration         float64        `json:"duration" yaml:"duration"`
	Effects          []string       `json:"effects,omitempty" yaml:"effects,omitempty"`
	Captions         []CaptionStyle `json:"captions,omitempty" yaml:"captions,omitempty"`
}

// Resolution is informational; the platform profile decides the canvas.
type Resolution struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Composition is the declarative description of one output video.
type Composition struct {
	Platform      string      `json:"platform,omitempty" yaml:"platform,omitempty"`
	Scenes        []Scene     `json:"scenes" yaml:"scenes"`
	MusicTrack    string      `json:"musicTrack,omitempty" yaml:"musicTrack,omitempty"`
	MusicVolume   *float64    `json:"musicVolume,omitempty" yaml:"musicVolume,omitempty"`
	GlobalEffects []string    `json:"globalEffects,omitempty" yaml:"globalEffects,omitempty"`
	OutputFormat  string      `json:"outputFormat,omitempty" yaml:"outputFormat,omitempty"`
	Resolution    *Resolution `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	Logo          string      `json:"logo,omitempty" yaml:"logo,omitempty"`
}

// New applies defaults to c and validates the result. The returned
// composition shares no slices with c.
func New(c Composition) (*Composition, error) {
	out := c.clone()
	out.applyDefaults()
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Volume returns the music mix volume.
func (c *Composition) Volume() float64 {
	if c.MusicVolume == nil {
		return DefaultMusicVolume
	}
	return *c.MusicVolume
}

// TotalDuration is the sum of scene durations.
func (c *Composition) TotalDuration() float64 {
	var total float64
	for _, s := range c.Scenes {
		total += s.Duration
	}
	return total
}

// Validate checks the composition invariants.
func (c *Composition) Validate() error {
	if len(c.Scenes) == 0 {
		return apperr.InvalidComposition("composition has no scenes")
	}
	if !supportedFormats[c.OutputFormat] {
		return apperr.InvalidComposition("unsupported output format %q", c.OutputFormat)
	}
	if c.MusicVolume != nil && !(*c.MusicVolume >= 0 && *c.MusicVolume <= 1) {
		return apperr.InvalidComposition("music volume %.2f outside [0, 1]", *c.MusicVolume)
	}

	hasVideo := false
	for i, scene := range c.Scenes {
		if err := scene.validate(i); err != nil {
			return err
		}
		if scene.BackgroundSource != "" {
			hasVideo = true
		}
	}
	if !hasVideo {
		return apperr.InvalidComposition("no scene has a background source")
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (s Scene) validate(index int) error {
	if !(s.Duration > 0) || math.IsInf(s.Duration, 0) {
		return apperr.InvalidComposition("scene %d: duration must be positive, got %v", index, s.Duration)
	}
	for j, caption := range s.Captions {
		if strings.TrimSpace(caption.Text) == "" {
			return apperr.InvalidComposition("scene %d caption %d: text is empty", index, j)
		}
		if !finite(caption.StartTime) || !finite(caption.EndTime) {
			return apperr.InvalidComposition("scene %d caption %d: window [%v, %v) is not finite",
				index, j, caption.StartTime, caption.EndTime)
		}
		if caption.StartTime < 0 || caption.EndTime > s.Duration || caption.StartTime >= caption.EndTime {
			return apperr.InvalidComposition("scene %d caption %d: window [%v, %v) outside scene bounds [0, %v]",
				index, j, caption.StartTime, caption.EndTime, s.Duration)
		}
		switch caption.Position {
		case PositionTop, PositionCenter, PositionBottom:
		default:
			return apperr.InvalidComposition("scene %d caption %d: unknown position %q", index, j, caption.Position)
		}
		switch caption.Animation {
		case AnimationNone, AnimationFade, AnimationSlide, AnimationBounce:
		default:
			return apperr.InvalidComposition("scene %d caption %d: unknown animation %q", index, j, caption.Animation)
		}
		if caption.Size <= 0 {
			return apperr.InvalidComposition("scene %d caption %d: size must be positive", index, j)
		}
		if caption.OutlineWidth < 0 {
			return apperr.InvalidComposition("scene %d caption %d: outline width must not be negative", index, j)
		}
	}
	return nil
}

func (c *Composition) applyDefaults() {
	if c.Platform == "" {
		c.Platform = DefaultPlatform
	}
	c.OutputFormat = strings.ToLower(strings.TrimPrefix(c.OutputFormat, "."))
	if c.OutputFormat == "" {
		c.OutputFormat = DefaultOutputFormat
	}
	for i := range c.Scenes {
		scene := &c.Scenes[i]
		for j := range scene.Captions {
			caption := &scene.Captions[j]
			if caption.Font == "" {
				caption.Font = DefaultFont
			}
			if caption.Size == 0 {
				caption.Size = DefaultFontSize
			}
			if caption.Color == "" {
				caption.Color = DefaultFontColor
			}
			if caption.Position == "" {
				caption.Position = PositionCenter
			}
			if caption.Animation == "" {
				caption.Animation = AnimationFade
			}
			if caption.OutlineColor == "" {
				caption.OutlineColor = DefaultOutlineColor
			}
			// An omitted window spans the whole scene.
			if caption.StartTime == 0 && caption.EndTime == 0 {
				caption.EndTime = scene.Duration
			}
		}
	}
}

func (c Composition) clone() *Composition {
	out := c
	if c.MusicVolume != nil {
		v := *c.MusicVolume
		out.MusicVolume = &v
	}
	if c.Resolution != nil {
		r := *c.Resolution
		out.Resolution = &r
	}
	out.GlobalEffects = append([]string(nil), c.GlobalEffects...)
	out.Scenes = make([]Scene, len(c.Scenes))
	for i, s := range c.Scenes {
		s.Effects = append([]string(nil), s.Effects...)
		s.Captions = append([]CaptionStyle(nil), s.Captions...)
		out.Scenes[i] = s
	}
	return &out
}

// String summarizes the composition for logs.
func (c *Composition) String() string {
	return fmt.Sprintf("composition(platform=%s scenes=%d duration=%.2fs format=%s)",
		c.Platform, len(c.Scenes), c.TotalDuration(), c.OutputFormat)
}
