// Package fonts loads font families and measures text for both the layout
// editor and the renderer, so that the two agree on text widths.
package fonts

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// DefaultFamily is always registered from the embedded Go fonts.
const DefaultFamily = "Go"

// Spec 描述一次取字形所需的全部参数。
type Spec struct {
	Family string
	Size   float64
	Bold   bool
	Italic bool
}

// SpecFor 根据 CSS 风格的 weight/style 构造 Spec。
func SpecFor(family string, size float64, weight, style string) Spec {
	return Spec{
		Family: family,
		Size:   size,
		Bold:   IsBold(weight),
		Italic: IsItalic(style),
	}
}

// IsBold 把 "bold"/"bolder"/"600".."900" 视为粗体。
func IsBold(weight string) bool {
	w := strings.ToLower(strings.TrimSpace(weight))
	switch w {
	case "bold", "bolder":
		return true
	}
	if n, err := strconv.Atoi(w); err == nil {
		return n >= 600
	}
	return false
}

// IsItalic reports whether style is italic or oblique.
func IsItalic(style string) bool {
	s := strings.ToLower(strings.TrimSpace(style))
	return s == "italic" || s == "oblique"
}

type variant struct {
	bold, italic bool
}

type faceKey struct {
	family string
	size   float64
	v      variant
}

// Registry 缓存已解析的字体；解析结果可并发共享，font.Face 则不行，
// 因此绘制时每次调用 NewFace 取独立实例，测量则走加锁的缓存。
type Registry struct {
	mu       sync.Mutex
	families map[string]map[variant]*opentype.Font
	measure  map[faceKey]font.Face
}

// NewRegistry 返回已注册 Go 字体族的 Registry。
func NewRegistry() (*Registry, error) {
	r := &Registry{
		families: map[string]map[variant]*opentype.Font{},
		measure:  map[faceKey]font.Face{},
	}
	builtin := []struct {
		data []byte
		v    variant
	}{
		{goregular.TTF, variant{}},
		{gobold.TTF, variant{bold: true}},
		{goitalic.TTF, variant{italic: true}},
		{gobolditalic.TTF, variant{bold: true, italic: true}},
	}
	for _, b := range builtin {
		if err := r.register(DefaultFamily, b.v, b.data); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册一个字体文件。bold/italic 标识它在字体族中的变体。
func (r *Registry) Register(family string, bold, italic bool, data []byte) error {
	return r.register(family, variant{bold: bold, italic: italic}, data)
}

func (r *Registry) register(family string, v variant, data []byte) error {
	parsed, err := opentype.Parse(data)
	if err != nil {
		return fmt.Errorf("parse font %s: %w", family, err)
	}
	key := normalizeFamily(family)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.families[key] == nil {
		r.families[key] = map[variant]*opentype.Font{}
	}
	r.families[key][v] = parsed
	for k, face := range r.measure {
		if k.family == key {
			_ = face.Close()
			delete(r.measure, k)
		}
	}
	return nil
}

// LoadDir 注册目录中的 .ttf/.otf 文件。文件名形如
// "Family-Regular.ttf"、"Family-Bold.ttf"、"Family-Italic.ttf"、"Family-BoldItalic.ttf"。
func (r *Registry) LoadDir(dir string) (int, error) {
	if strings.TrimSpace(dir) == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read font dir %q: %w", dir, err)
	}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".ttf" && ext != ".otf" {
			continue
		}
		family, bold, italic := parseFontFileName(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return loaded, fmt.Errorf("read font %q: %w", entry.Name(), err)
		}
		if err := r.Register(family, bold, italic, data); err != nil {
			slog.Default().Warn("skip unreadable font", slog.String("file", entry.Name()), slog.Any("error", err))
			continue
		}
		loaded++
	}
	return loaded, nil
}

func parseFontFileName(base string) (family string, bold, italic bool) {
	family = base
	suffix := ""
	if idx := strings.LastIndex(base, "-"); idx > 0 {
		family, suffix = base[:idx], strings.ToLower(base[idx+1:])
	}
	bold = strings.Contains(suffix, "bold")
	italic = strings.Contains(suffix, "italic") || strings.Contains(suffix, "oblique")
	return family, bold, italic
}

func normalizeFamily(family string) string {
	family = strings.TrimSpace(family)
	if idx := strings.Index(family, ","); idx >= 0 {
		family = family[:idx]
	}
	return strings.ToLower(strings.Trim(family, `"' `))
}

// lookup 找到最接近的字体：先精确变体，再常规体，最后回退到默认字体族。
func (r *Registry) lookup(spec Spec) *opentype.Font {
	v := variant{bold: spec.Bold, italic: spec.Italic}
	for _, family := range []string{normalizeFamily(spec.Family), normalizeFamily(DefaultFamily)} {
		variants, ok := r.families[family]
		if !ok {
			continue
		}
		if f, ok := variants[v]; ok {
			return f
		}
		if f, ok := variants[variant{bold: v.bold}]; ok {
			return f
		}
		if f, ok := variants[variant{}]; ok {
			return f
		}
	}
	return nil
}

// NewFace 创建一个独立的 font.Face，调用方负责 Close。
func (r *Registry) NewFace(spec Spec) (font.Face, error) {
	r.mu.Lock()
	parsed := r.lookup(spec)
	r.mu.Unlock()
	if parsed == nil {
		return nil, fmt.Errorf("no font registered for %q", spec.Family)
	}
	size := spec.Size
	if size <= 0 {
		size = 1
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("create font face at %.1fpx: %w", size, err)
	}
	return face, nil
}

// Measure 返回 s 在 spec 下的单行宽度（像素）。
func (r *Registry) Measure(spec Spec, s string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := faceKey{family: normalizeFamily(spec.Family), size: spec.Size, v: variant{spec.Bold, spec.Italic}}
	face, ok := r.measure[key]
	if !ok {
		parsed := r.lookup(spec)
		if parsed == nil {
			return 0
		}
		size := spec.Size
		if size <= 0 {
			size = 1
		}
		var err error
		face, err = opentype.NewFace(parsed, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingNone})
		if err != nil {
			return 0
		}
		r.measure[key] = face
	}
	return Width(font.MeasureString(face, s))
}

// Width converts a 26.6 fixed-point advance to float pixels.
func Width(v fixed.Int26_6) float64 {
	return float64(v) / 64
}
