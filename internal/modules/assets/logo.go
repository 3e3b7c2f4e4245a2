package assets

import (
	"fmt"

	"github.com/disintegration/imaging"
)

// LogoWidthRatio is the logo width relative to the canvas width.
const LogoWidthRatio = 0.10

// PrepareLogo scales the image at src to width pixels, keeping its aspect
// ratio, and writes it as PNG to dst.
func PrepareLogo(src, dst string, width int) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode logo: %w", err)
	}
	if width < 1 {
		width = 1
	}

	scaled := imaging.Resize(img, width, 0, imaging.Lanczos)
	if err := imaging.Save(scaled, dst); err != nil {
		return fmt.Errorf("failed to write logo: %w", err)
	}
	return nil
}

// LogoWidth returns the logo width for a canvas.
func LogoWidth(canvasWidth int) int {
	return int(float64(canvasWidth) * LogoWidthRatio)
}
