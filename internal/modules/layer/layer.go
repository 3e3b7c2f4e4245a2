// Package layer computes the per-layer filter stages: fit-by-crop geometry,
// named effects and caption overlays.
package layer

import (
	"github.com/nextconvert/compositor/internal/modules/composition"
	fg "github.com/nextconvert/compositor/internal/modules/filtergraph"
)

// Processor builds layer filter chains. It holds only immutable state and is
// safe for concurrent use.
type Processor struct {
	fonts *FontCatalog
	anim  AnimationConfig
}

// NewProcessor creates a layer processor. A nil catalog behaves as empty.
func NewProcessor(fonts *FontCatalog, anim AnimationConfig) *Processor {
	if fonts == nil {
		fonts = NewFontCatalog(nil)
	}
	if anim.FadeRamp <= 0 {
		anim.FadeRamp = DefaultAnimation.FadeRamp
	}
	return &Processor{fonts: fonts, anim: anim}
}

// Layer is the ordered stage list for one scene.
type Layer struct {
	Filters []fg.Filter
	// IgnoredEffects are effect names that had no mapping.
	IgnoredEffects []string
}

// Scene returns geometry, effects and captions for a scene background. An
// unknown source size falls back to letting ffmpeg compute the cover crop.
func (p *Processor) Scene(scene composition.Scene, src, canvas Size) Layer {
	var l Layer

	if src.Known() {
		l.Filters = append(l.Filters, FitCrop(src, canvas).Filters()...)
	} else {
		l.Filters = append(l.Filters, CoverFilters(canvas)...)
	}

	effects, ignored := Effects(scene.Effects)
	l.Filters = append(l.Filters, effects...)
	l.IgnoredEffects = ignored

	for _, c := range scene.Captions {
		l.Filters = append(l.Filters, p.Caption(c))
	}

	return l
}

// Animation returns the processor's animation constants.
func (p *Processor) Animation() AnimationConfig {
	return p.anim
}
