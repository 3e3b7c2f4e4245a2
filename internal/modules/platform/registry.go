package platform

import (
	"fmt"
	"sort"

	"github.com/nextconvert/compositor/internal/shared/apperr"
)

// Profile is the encode parameter set for one distribution target.
type Profile struct {
	ID           string `json:"id" toml:"id"`
	Width        int    `json:"width" toml:"width"`
	Height       int    `json:"height" toml:"height"`
	FPS          int    `json:"fps" toml:"fps"`
	VideoBitrate string `json:"videoBitrate" toml:"video_bitrate"`
	AudioBitrate string `json:"audioBitrate" toml:"audio_bitrate"`
	Codec        string `json:"codec" toml:"codec"`
	Preset       string `json:"preset" toml:"preset"`
}

// Validate checks that a profile can drive an encode.
func (p Profile) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("profile id is required")
	case p.Width <= 0 || p.Height <= 0:
		return fmt.Errorf("profile %s: dimensions must be positive", p.ID)
	case p.Width%2 != 0 || p.Height%2 != 0:
		return fmt.Errorf("profile %s: dimensions must be even for yuv420p", p.ID)
	case p.FPS <= 0:
		return fmt.Errorf("profile %s: fps must be positive", p.ID)
	case p.Codec == "":
		return fmt.Errorf("profile %s: codec is required", p.ID)
	}
	return nil
}

// Canonical profiles
var defaultProfiles = []Profile{
	{ID: "tiktok", Width: 1080, Height: 1920, FPS: 30, VideoBitrate: "8M", AudioBitrate: "192k", Codec: "libx264", Preset: "medium"},
	{ID: "instagram", Width: 1080, Height: 1920, FPS: 30, VideoBitrate: "8M", AudioBitrate: "192k", Codec: "libx264", Preset: "medium"},
	{ID: "youtube-shorts", Width: 1080, Height: 1920, FPS: 30, VideoBitrate: "8M", AudioBitrate: "192k", Codec: "libx264", Preset: "medium"},
	{ID: "youtube", Width: 1920, Height: 1080, FPS: 60, VideoBitrate: "12M", AudioBitrate: "320k", Codec: "libx264", Preset: "slow"},
	{ID: "4k", Width: 3840, Height: 2160, FPS: 60, VideoBitrate: "45M", AudioBitrate: "320k", Codec: "libx265", Preset: "slower"},
}

// Registry maps platform ids to profiles. It is immutable after construction
// and safe for concurrent use.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry builds a registry from the given profiles. Later entries
// replace earlier ones with the same id.
func NewRegistry(profiles ...Profile) (*Registry, error) {
	m := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		m[p.ID] = p
	}
	return &Registry{profiles: m}, nil
}

// DefaultRegistry returns the canonical platform catalogue.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(defaultProfiles...)
	if err != nil {
		panic(err)
	}
	return r
}

// ProfileFor returns the profile for a platform id.
func (r *Registry) ProfileFor(id string) (Profile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, apperr.UnknownPlatform(id)
	}
	return p, nil
}

// IDs returns the registered platform ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Profiles returns all profiles sorted by id.
func (r *Registry) Profiles() []Profile {
	out := make([]Profile, 0, len(r.profiles))
	for _, id := range r.IDs() {
		out = append(out, r.profiles[id])
	}
	return out
}

// With returns a new registry containing r's profiles plus the overrides.
func (r *Registry) With(overrides ...Profile) (*Registry, error) {
	return NewRegistry(append(r.Profiles(), overrides...)...)
}
