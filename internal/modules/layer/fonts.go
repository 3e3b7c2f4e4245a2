package layer

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FallbackFontFile is used when a family has no installed file.
const FallbackFontFile = "DejaVuSans-Bold.ttf"

// DefaultFontDirs are scanned when no directories are configured.
var DefaultFontDirs = []string{
	"/usr/share/fonts",
	"/usr/local/share/fonts",
	"/Library/Fonts",
	"/System/Library/Fonts",
}

var fontFiles = map[string][]string{
	"impact":      {"impact.ttf"},
	"arial":       {"arial.ttf", "arialbd.ttf", "liberationsans-regular.ttf"},
	"montserrat":  {"montserrat-bold.ttf", "montserrat-regular.ttf"},
	"bebas neue":  {"bebasneue-regular.ttf", "bebasneue.ttf", "bebas neue.ttf"},
	"dejavu sans": {"dejavusans-bold.ttf", "dejavusans.ttf"},
}

// FontCatalog resolves font families to files. It is built once and never
// modified afterwards.
type FontCatalog struct {
	files map[string]string // lowercased base name -> path
}

// NewFontCatalog indexes .ttf and .otf files under dirs. Missing directories
// are skipped.
func NewFontCatalog(dirs []string) *FontCatalog {
	c := &FontCatalog{files: make(map[string]string)}
	for _, dir := range dirs {
		filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if d == nil {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".ttf", ".otf":
				name := strings.ToLower(d.Name())
				if _, exists := c.files[name]; !exists {
					c.files[name] = path
				}
			}
			return nil
		})
	}
	return c
}

// Lookup returns a font file for family, falling back to DejaVu Sans Bold.
// An empty result means no usable file is installed.
func (c *FontCatalog) Lookup(family string) string {
	if ext := strings.ToLower(filepath.Ext(family)); ext == ".ttf" || ext == ".otf" {
		if _, err := os.Stat(family); err == nil {
			return family
		}
	}

	key := strings.ToLower(strings.TrimSpace(family))
	candidates := fontFiles[key]
	if len(candidates) == 0 {
		candidates = []string{key + ".ttf", key + ".otf", strings.ReplaceAll(key, " ", "") + ".ttf"}
	}
	for _, name := range candidates {
		if path, ok := c.files[name]; ok {
			return path
		}
	}

	return c.files[strings.ToLower(FallbackFontFile)]
}

// Len is the number of indexed font files.
func (c *FontCatalog) Len() int {
	return len(c.files)
}
