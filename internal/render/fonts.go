package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// FontRegistry resolves template font family names to concrete font
// faces. The embedded Go fonts are always available; additional TTF
// files can be loaded from a directory. Unknown families fall back to
// the regular face so rendering never fails on a family name.
//
// Parsed fonts are cached; faces are not. A font.Face buffers glyph
// rasterization state and is not safe for concurrent use, so every
// Face call builds a fresh one over the shared parsed font.
type FontRegistry struct {
	mu       sync.Mutex
	fonts    map[string]*opentype.Font
	fallback *opentype.Font
}

// Web-safe family names offered by the designer, mapped onto the
// embedded faces.
var familyAliases = map[string]string{
	"arial":           "go regular",
	"helvetica":       "go regular",
	"verdana":         "go regular",
	"georgia":         "go regular",
	"times new roman": "go regular",
	"sans-serif":      "go regular",
	"serif":           "go regular",
	"courier":         "go mono",
	"courier new":     "go mono",
	"monospace":       "go mono",
}

// NewFontRegistry builds a registry seeded with the embedded Go fonts.
func NewFontRegistry() (*FontRegistry, error) {
	r := &FontRegistry{
		fonts: make(map[string]*opentype.Font),
	}

	embedded := map[string][]byte{
		"go regular": goregular.TTF,
		"go bold":    gobold.TTF,
		"go italic":  goitalic.TTF,
		"go mono":    gomono.TTF,
	}
	for name, data := range embedded {
		f, err := opentype.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse embedded font %q: %w", name, err)
		}
		r.fonts[name] = f
	}
	r.fallback = r.fonts["go regular"]

	return r, nil
}

// LoadDir registers every .ttf/.otf file in dir under its base file
// name (without extension, lowercased).
func (r *FontRegistry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read font dir: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".ttf" && ext != ".otf") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read font file %s: %w", e.Name(), err)
		}
		f, err := opentype.Parse(data)
		if err != nil {
			return fmt.Errorf("parse font file %s: %w", e.Name(), err)
		}
		name := strings.ToLower(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		r.fonts[name] = f
	}

	return nil
}

// Face returns a new font face for the given family name at the given
// pixel size. Each call builds its own face; callers may draw with it
// without synchronizing against other renders.
func (r *FontRegistry) Face(family string, size float64) (font.Face, error) {
	name := strings.ToLower(strings.TrimSpace(family))
	if alias, ok := familyAliases[name]; ok {
		name = alias
	}

	r.mu.Lock()
	fnt, ok := r.fonts[name]
	if !ok {
		fnt = r.fallback
	}
	r.mu.Unlock()

	face, err := opentype.NewFace(fnt, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create face %q at %g: %w", name, size, err)
	}

	return face, nil
}

// Families lists the registered family names, aliases excluded.
func (r *FontRegistry) Families() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.fonts))
	for name := range r.fonts {
		names = append(names, name)
	}
	return names
}
