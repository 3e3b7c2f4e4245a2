package platform

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type overrideFile struct {
	Profiles []Profile `toml:"profile"`
}

// LoadOverrides reads extra or replacement profiles from a TOML file and
// returns a new registry layered over base. An empty path returns base.
//
//	[[profile]]
//	id = "linkedin"
//	width = 1080
//	height = 1080
//	fps = 30
//	video_bitrate = "5M"
//	audio_bitrate = "192k"
//	codec = "libx264"
//	preset = "medium"
func LoadOverrides(path string, base *Registry) (*Registry, error) {
	if path == "" {
		return base, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open profiles file: %w", err)
	}
	defer file.Close()

	var parsed overrideFile
	if err := toml.NewDecoder(file).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file %s: %w", path, err)
	}

	return base.With(parsed.Profiles...)
}
