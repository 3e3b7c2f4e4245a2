package layer

import (
	"strings"

	fg "github.com/nextconvert/compositor/internal/modules/filtergraph"
)

var effectFilters = map[string]fg.Filter{
	"vignette":             fg.New("vignette", fg.KV("angle", "PI/4")),
	"film-grain":           fg.New("noise", fg.KV("c0s", 20), fg.KV("allf", "t")),
	"blur":                 fg.New("boxblur", fg.Pos(2), fg.Pos(1)),
	"sharpen":              fg.New("unsharp", fg.Pos(5), fg.Pos(5), fg.Pos("1.0"), fg.Pos(5), fg.Pos(5), fg.Pos("0.0")),
	"color-grading":        fg.New("eq", fg.KV("contrast", 1.1), fg.KV("brightness", 0.05), fg.KV("saturation", 1.2)),
	"chromatic-aberration": fg.New("chromashift", fg.KV("crh", 3), fg.KV("cbh", -3)),
	"glow":                 fg.New("gblur", fg.KV("sigma", 10)),
	"scanlines":            fg.New("interlace"),
}

var effectAliases = map[string]string{
	"grain":           "film-grain",
	"chromatic-shift": "chromatic-aberration",
	"color-grade":     "color-grading",
}

// EffectNames lists the supported effect names.
func EffectNames() []string {
	names := make([]string, 0, len(effectFilters))
	for name := range effectFilters {
		names = append(names, name)
	}
	return names
}

// Effects maps effect names to filter stages in order. Unknown names are
// skipped and returned so callers can log them.
func Effects(names []string) (filters []fg.Filter, ignored []string) {
	for _, name := range names {
		key := normalizeEffect(name)
		f, ok := effectFilters[key]
		if !ok {
			ignored = append(ignored, name)
			continue
		}
		filters = append(filters, f)
	}
	return filters, ignored
}

func normalizeEffect(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "_", "-")
	key = strings.ReplaceAll(key, " ", "-")
	if alias, ok := effectAliases[key]; ok {
		return alias
	}
	return key
}
