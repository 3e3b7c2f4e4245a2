package layer

import (
	"fmt"
	"math"

	"github.com/nextconvert/compositor/internal/modules/composition"
	fg "github.com/nextconvert/compositor/internal/modules/filtergraph"
)

// AnimationConfig holds the caption animation constants.
type AnimationConfig struct {
	// FadeRamp is the fade-in and fade-out length in seconds. Slide uses it
	// as the travel time.
	FadeRamp float64
	// BounceAmplitude is the vertical excursion in pixels.
	BounceAmplitude float64
	// BounceFrequency is the angular frequency in radians per second.
	BounceFrequency float64
}

// DefaultAnimation matches the observed production behavior.
var DefaultAnimation = AnimationConfig{
	FadeRamp:        0.5,
	BounceAmplitude: 20,
	BounceFrequency: 10,
}

const (
	shadowOffset = 2
	centerX      = "(w-text_w)/2"
)

// AnchorY is the vertical position expression for a caption anchor.
func AnchorY(p composition.Position) string {
	switch p {
	case composition.PositionTop:
		return "h*0.1"
	case composition.PositionBottom:
		return "h*0.85-text_h"
	default:
		return "(h-text_h)/2"
	}
}

// EnableExpr is the visibility predicate for [StartTime, EndTime).
func EnableExpr(c composition.CaptionStyle) string {
	return fmt.Sprintf("gte(t,%s)*lt(t,%s)", fg.Num(c.StartTime), fg.Num(c.EndTime))
}

// AlphaExpr is the fade opacity expression.
func (a AnimationConfig) AlphaExpr(c composition.CaptionStyle) string {
	r := fg.Num(a.FadeRamp)
	return fmt.Sprintf("clip(min((t-%s)/%s,(%s-t)/%s),0,1)",
		fg.Num(c.StartTime), r, fg.Num(c.EndTime), r)
}

// SlideXExpr moves the caption from one canvas width right of center to
// center over the ramp, then holds.
func (a AnimationConfig) SlideXExpr(c composition.CaptionStyle) string {
	return fmt.Sprintf("%s+w*(1-clip((t-%s)/%s,0,1))", centerX, fg.Num(c.StartTime), fg.Num(a.FadeRamp))
}

// BounceYExpr oscillates around the anchor.
func (a AnimationConfig) BounceYExpr(c composition.CaptionStyle) string {
	return fmt.Sprintf("%s+%s*sin(%s*(t-%s))",
		AnchorY(c.Position), fg.Num(a.BounceAmplitude), fg.Num(a.BounceFrequency), fg.Num(c.StartTime))
}

// Opacity evaluates the caption opacity at scene time t.
func (a AnimationConfig) Opacity(c composition.CaptionStyle, t float64) float64 {
	if !c.Visible(t) {
		return 0
	}
	if c.Animation != composition.AnimationFade {
		return 1
	}
	v := math.Min((t-c.StartTime)/a.FadeRamp, (c.EndTime-t)/a.FadeRamp)
	return math.Max(0, math.Min(1, v))
}

// SlideOffset is the horizontal displacement from center at scene time t,
// in canvas widths.
func (a AnimationConfig) SlideOffset(c composition.CaptionStyle, t float64) float64 {
	p := math.Max(0, math.Min(1, (t-c.StartTime)/a.FadeRamp))
	return 1 - p
}

// BounceOffset is the vertical displacement from the anchor at scene time t.
func (a AnimationConfig) BounceOffset(c composition.CaptionStyle, t float64) float64 {
	return a.BounceAmplitude * math.Sin(a.BounceFrequency*(t-c.StartTime))
}

// Caption builds the drawtext stage for one caption.
func (p *Processor) Caption(c composition.CaptionStyle) fg.Filter {
	args := make([]fg.Arg, 0, 16)

	if font := p.fonts.Lookup(c.Font); font != "" {
		args = append(args, fg.Literal("fontfile", font))
	} else {
		args = append(args, fg.Literal("font", c.Font))
	}

	args = append(args,
		fg.Literal("text", c.Text),
		fg.KV("expansion", "none"),
		fg.KV("fontsize", c.Size),
		fg.Literal("fontcolor", c.Color),
	)

	x := centerX
	y := AnchorY(c.Position)
	switch c.Animation {
	case composition.AnimationSlide:
		x = p.anim.SlideXExpr(c)
	case composition.AnimationBounce:
		y = p.anim.BounceYExpr(c)
	}
	args = append(args, fg.Expr("x", x), fg.Expr("y", y))

	if c.OutlineWidth > 0 {
		args = append(args, fg.KV("borderw", c.OutlineWidth), fg.Literal("bordercolor", c.OutlineColor))
	}
	if c.Shadow {
		args = append(args, fg.KV("shadowcolor", "black"), fg.KV("shadowx", shadowOffset), fg.KV("shadowy", shadowOffset))
	}
	if c.Animation == composition.AnimationFade {
		args = append(args, fg.Expr("alpha", p.anim.AlphaExpr(c)))
	}

	args = append(args, fg.Expr("enable", EnableExpr(c)))

	return fg.New("drawtext", args...)
}
