package layer

import (
	fg "github.com/nextconvert/compositor/internal/modules/filtergraph"
)

// Size is a pixel extent.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Known reports whether both dimensions are positive.
func (s Size) Known() bool {
	return s.Width > 0 && s.Height > 0
}

// Transform is a scale followed by a centered crop.
type Transform struct {
	ScaleWidth  int
	ScaleHeight int
	CropWidth   int
	CropHeight  int
	CropX       int
	CropY       int
}

// FitCrop computes the fit-by-crop transform that covers canvas with src.
// A source relatively wider than the canvas is scaled to the canvas height
// and cropped horizontally; otherwise it is scaled to the canvas width and
// cropped vertically. Aspect comparison uses integer cross-multiplication so
// equal aspects always take the scale-to-width branch.
func FitCrop(src, canvas Size) Transform {
	t := Transform{CropWidth: canvas.Width, CropHeight: canvas.Height}

	if src.Width*canvas.Height > canvas.Width*src.Height {
		t.ScaleHeight = canvas.Height
		t.ScaleWidth = canvas.Height * src.Width / src.Height
		t.CropX = (t.ScaleWidth - canvas.Width) / 2
	} else {
		t.ScaleWidth = canvas.Width
		t.ScaleHeight = canvas.Width * src.Height / src.Width
		t.CropY = (t.ScaleHeight - canvas.Height) / 2
	}

	return t
}

// NeedsCrop is false when scaling alone already yields the canvas.
func (t Transform) NeedsCrop() bool {
	return t.ScaleWidth != t.CropWidth || t.ScaleHeight != t.CropHeight
}

// Filters renders the transform as scale and crop stages.
func (t Transform) Filters() []fg.Filter {
	filters := []fg.Filter{fg.New("scale", fg.Pos(t.ScaleWidth), fg.Pos(t.ScaleHeight))}
	if t.NeedsCrop() {
		filters = append(filters, fg.New("crop",
			fg.Pos(t.CropWidth), fg.Pos(t.CropHeight), fg.Pos(t.CropX), fg.Pos(t.CropY)))
	}
	return filters
}

// CoverFilters lets ffmpeg perform the same fit-by-crop when the source size
// is not known ahead of time.
func CoverFilters(canvas Size) []fg.Filter {
	return []fg.Filter{
		fg.New("scale", fg.Pos(canvas.Width), fg.Pos(canvas.Height), fg.KV("force_original_aspect_ratio", "increase")),
		fg.New("crop", fg.Pos(canvas.Width), fg.Pos(canvas.Height)),
	}
}
