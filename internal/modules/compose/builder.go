// Package compose assembles a resolved composition into a single filter graph.
package compose

import (
	"fmt"

	"github.com/nextconvert/compositor/internal/modules/composition"
	fg "github.com/nextconvert/compositor/internal/modules/filtergraph"
	"github.com/nextconvert/compositor/internal/modules/layer"
	"github.com/nextconvert/compositor/internal/modules/platform"
	"github.com/nextconvert/compositor/internal/shared/apperr"
	"go.uber.org/zap"
)

// Terminal stream labels
const (
	VideoOut = "vout"
	AudioOut = "aout"
)

const (
	sampleRate    = 48000
	channelLayout = "stereo"
	logoMargin    = 20
)

// Scene is a scene whose sources have been resolved to local files.
type Scene struct {
	composition.Scene
	// VideoPath is empty when the scene has no usable background.
	VideoPath string
	// VideoSize is zero when the source could not be probed.
	VideoSize layer.Size
	// Still marks an image background that must be looped.
	Still     bool
	AudioPath string
}

// Input is everything the builder needs for one job.
type Input struct {
	Scenes        []Scene
	MusicPath     string
	MusicVolume   float64
	LogoPath      string
	GlobalEffects []string
}

// Builder turns resolved compositions into filter graphs. It keeps no state
// between builds.
type Builder struct {
	layers *layer.Processor
	logger *zap.Logger
}

// NewBuilder creates a graph builder.
func NewBuilder(layers *layer.Processor, logger *zap.Logger) *Builder {
	return &Builder{layers: layers, logger: logger}
}

type assembly struct {
	g      *fg.Graph
	video  string // label of the current video stream
	vChain int    // chain that produced video
	audio  string
	aChain int
}

func (a *assembly) add(inputs []string, filters []fg.Filter, output string) int {
	a.g.Chains = append(a.g.Chains, fg.Chain{Inputs: inputs, Filters: filters, Outputs: []string{output}})
	return len(a.g.Chains) - 1
}

// Build produces the filter graph for one job.
func (b *Builder) Build(in Input, profile platform.Profile) (*fg.Graph, error) {
	canvas := layer.Size{Width: profile.Width, Height: profile.Height}
	a := &assembly{g: &fg.Graph{VideoOut: VideoOut, AudioOut: AudioOut}}

	// Inputs: scene videos, scene audios, music, logo.
	var timeline []int
	videoInput := make(map[int]int)
	for i, s := range in.Scenes {
		if s.VideoPath == "" {
			continue
		}
		var opts []string
		if s.Still {
			opts = []string{"-loop", "1", "-framerate", fmt.Sprint(profile.FPS)}
		}
		videoInput[i] = len(a.g.Inputs)
		a.g.Inputs = append(a.g.Inputs, fg.Input{Path: s.VideoPath, Kind: fg.InputSceneVideo, Scene: i, Options: opts})
		timeline = append(timeline, i)
	}
	if len(timeline) == 0 {
		return nil, apperr.InvalidComposition("no scene video streams resolved")
	}

	audioInput := make(map[int]int)
	for i, s := range in.Scenes {
		if s.AudioPath == "" {
			continue
		}
		if _, ok := videoInput[i]; !ok {
			b.logger.Warn("Dropping voiceover of scene without video", zap.Int("scene", i))
			continue
		}
		audioInput[i] = len(a.g.Inputs)
		a.g.Inputs = append(a.g.Inputs, fg.Input{Path: s.AudioPath, Kind: fg.InputSceneAudio, Scene: i})
	}

	musicInput := -1
	if in.MusicPath != "" {
		musicInput = len(a.g.Inputs)
		a.g.Inputs = append(a.g.Inputs, fg.Input{Path: in.MusicPath, Kind: fg.InputMusic, Scene: -1})
	}

	logoInput := -1
	if in.LogoPath != "" {
		logoInput = len(a.g.Inputs)
		a.g.Inputs = append(a.g.Inputs, fg.Input{Path: in.LogoPath, Kind: fg.InputLogo, Scene: -1})
	}

	// Per-scene video.
	videoLabels := make([]string, 0, len(timeline))
	for _, i := range timeline {
		s := in.Scenes[i]
		l := b.layers.Scene(s.Scene, s.VideoSize, canvas)
		if len(l.IgnoredEffects) > 0 {
			b.logger.Warn("Ignoring unknown effects", zap.Int("scene", i), zap.Strings("effects", l.IgnoredEffects))
		}

		filters := []fg.Filter{resetPTS()}
		filters = append(filters, l.Filters...)
		filters = append(filters,
			fg.New("fps", fg.Pos(profile.FPS)),
			fg.New("setsar", fg.Pos(1)),
			fg.New("format", fg.Pos("yuv420p")),
			fg.New("tpad", fg.KV("stop_mode", "clone"), fg.KV("stop_duration", s.Duration)),
			fg.New("trim", fg.KV("duration", s.Duration)),
			resetPTS(),
		)

		label := fmt.Sprintf("v%d", i)
		a.vChain = a.add([]string{fg.StreamRef(videoInput[i], "v")}, filters, label)
		videoLabels = append(videoLabels, label)
		a.g.Duration += s.Duration
	}

	// Per-scene audio, padded with silence where a scene has none.
	var audioLabels []string
	if len(audioInput) > 0 {
		for _, i := range timeline {
			s := in.Scenes[i]
			label := fmt.Sprintf("a%d", i)
			if idx, ok := audioInput[i]; ok {
				a.aChain = a.add([]string{fg.StreamRef(idx, "a")}, []fg.Filter{
					audioFormat(),
					fg.New("apad"),
					fg.New("atrim", fg.KV("duration", s.Duration)),
					resetAudioPTS(),
				}, label)
			} else {
				a.aChain = a.add(nil, silence(s.Duration), label)
			}
			audioLabels = append(audioLabels, label)
		}
	}

	// Concatenation.
	a.video = videoLabels[0]
	if len(videoLabels) > 1 {
		a.video = "vcat"
		a.vChain = a.add(videoLabels, []fg.Filter{
			fg.New("concat", fg.KV("n", len(videoLabels)), fg.KV("v", 1), fg.KV("a", 0)),
		}, a.video)
	}

	switch {
	case len(audioLabels) > 1:
		a.audio = "acat"
		a.aChain = a.add(audioLabels, []fg.Filter{
			fg.New("concat", fg.KV("n", len(audioLabels)), fg.KV("v", 0), fg.KV("a", 1)),
		}, a.audio)
	case len(audioLabels) == 1:
		a.audio = audioLabels[0]
	default:
		a.audio = "asilent"
		a.aChain = a.add(nil, silence(a.g.Duration), a.audio)
	}

	// Music bed under the scene track.
	if musicInput >= 0 {
		a.add([]string{fg.StreamRef(musicInput, "a")}, []fg.Filter{audioFormat()}, "music")
		a.aChain = a.add([]string{a.audio, "music"}, []fg.Filter{
			fg.New("amix",
				fg.KV("inputs", 2),
				fg.KV("duration", "first"),
				fg.Expr("weights", "1 "+fg.Num(in.MusicVolume)),
			),
		}, "amixed")
		a.audio = "amixed"
	}

	if logoInput >= 0 {
		a.vChain = a.add([]string{a.video, fg.StreamRef(logoInput, "v")}, []fg.Filter{
			fg.New("overlay",
				fg.KV("x", fmt.Sprintf("W-w-%d", logoMargin)),
				fg.KV("y", fmt.Sprintf("H-h-%d", logoMargin)),
			),
		}, "vlogo")
		a.video = "vlogo"
	}

	if effects, ignored := layer.Effects(in.GlobalEffects); len(effects) > 0 || len(ignored) > 0 {
		if len(ignored) > 0 {
			b.logger.Warn("Ignoring unknown global effects", zap.Strings("effects", ignored))
		}
		if len(effects) > 0 {
			a.vChain = a.add([]string{a.video}, effects, "vfx")
			a.video = "vfx"
		}
	}

	// The last producer of each stream becomes the terminal label.
	a.g.Chains[a.vChain].Outputs = []string{VideoOut}
	a.g.Chains[a.aChain].Outputs = []string{AudioOut}

	if err := a.g.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "compose.build", "inconsistent filter graph")
	}

	return a.g, nil
}

func resetPTS() fg.Filter {
	return fg.New("setpts", fg.Pos("PTS-STARTPTS"))
}

func resetAudioPTS() fg.Filter {
	return fg.New("asetpts", fg.Pos("PTS-STARTPTS"))
}

func audioFormat() fg.Filter {
	return fg.New("aformat",
		fg.KV("sample_fmts", "fltp"),
		fg.KV("sample_rates", sampleRate),
		fg.KV("channel_layouts", channelLayout),
	)
}

func silence(duration float64) []fg.Filter {
	return []fg.Filter{
		fg.New("anullsrc", fg.KV("channel_layout", channelLayout), fg.KV("sample_rate", sampleRate)),
		audioFormat(),
		fg.New("atrim", fg.KV("duration", duration)),
		resetAudioPTS(),
	}
}
