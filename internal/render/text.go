package render

import (
	"image/color"
	"math"
	"strings"
	"unicode"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"

	"certgen/internal/fonts"
	"certgen/internal/layout"
	"certgen/internal/richtext"
	"certgen/internal/variables"
)

// piece 是一个词内样式一致的片段；一个词可以跨越多个富文本片段。
type piece struct {
	text  string
	style richtext.Style
	width float64
}

type word struct {
	pieces []piece
	width  float64
}

type textLine struct {
	words []word
	width float64
	// last 标记段落的最后一行，两端对齐时不拉伸。
	last bool
}

// textBlock 是折行后的文本及其度量。
type textBlock struct {
	lines      []textLine
	spaceWidth float64
}

// styleSpec 把片段样式换算为字体参数。
func styleSpec(s richtext.Style) fonts.Spec {
	return fonts.SpecFor(s.FontFamily, s.FontSize, s.FontWeight, s.FontStyle)
}

// scaledStyle 合并片段覆盖；模板分辨率变化时片段字号按 scale 同比缩放。
func scaledStyle(base, override richtext.Style, scale float64) richtext.Style {
	s := base.Merge(override)
	if override.FontSize > 0 && scale > 0 {
		s.FontSize = override.FontSize * scale
	}
	return s
}

// splitWords 按空白与换行切分富文本，保留词内的样式边界。
func splitWords(rt richtext.RichText, base richtext.Style, scale float64) [][]word {
	paragraphs := [][]word{nil}
	var cur word
	flush := func() {
		if len(cur.pieces) > 0 {
			last := len(paragraphs) - 1
			paragraphs[last] = append(paragraphs[last], cur)
		}
		cur = word{}
	}
	for _, span := range rt {
		style := scaledStyle(base, span.Style, scale)
		for _, r := range span.Text {
			switch {
			case r == '\n':
				flush()
				paragraphs = append(paragraphs, nil)
			case unicode.IsSpace(r):
				flush()
			default:
				n := len(cur.pieces)
				if n > 0 && cur.pieces[n-1].style == style {
					cur.pieces[n-1].text += string(r)
				} else {
					cur.pieces = append(cur.pieces, piece{text: string(r), style: style})
				}
			}
		}
	}
	flush()
	return paragraphs
}

// layoutText 对富文本做与 fonts.Wrap 相同的贪心折行，宽度按片段各自的字体度量。
func layoutText(reg *fonts.Registry, rt richtext.RichText, base richtext.Style, scale, maxWidth float64) textBlock {
	block := textBlock{spaceWidth: reg.Measure(styleSpec(base), " ")}
	for _, para := range splitWords(rt, base, scale) {
		for i := range para {
			w := &para[i]
			for j := range w.pieces {
				p := &w.pieces[j]
				p.width = reg.Measure(styleSpec(p.style), p.text)
				w.width += p.width
			}
		}
		var line textLine
		for _, w := range para {
			if len(line.words) > 0 && maxWidth > 0 && line.width+block.spaceWidth+w.width > maxWidth {
				block.lines = append(block.lines, line)
				line = textLine{}
			}
			if len(line.words) > 0 {
				line.width += block.spaceWidth
			}
			line.words = append(line.words, w)
			line.width += w.width
		}
		line.last = true
		block.lines = append(block.lines, line)
	}
	return block
}

// drawText 绘制文本图层：按 maxWidth 折行，按 textAlign 水平对齐，以 (x, y) 为中心
// 垂直居中，行高为 fontSize * lineHeight。
func (r *Renderer) drawText(dc *gg.Context, l layout.TextLayer, text variables.Text, scale float64) error {
	rt := text.RichText
	if len(rt) == 0 {
		rt = richtext.FromPlainText(text.Text)
	}
	base := l.BaseStyle()
	if base.FontSize <= 0 {
		base.FontSize = layout.DefaultFontSize
	}
	block := layoutText(r.Fonts, rt, base, scale, l.MaxWidth)

	lineHeight := l.LineHeight
	if lineHeight <= 0 {
		lineHeight = layout.DefaultLineHeight
	}
	lh := base.FontSize * lineHeight
	top := l.Y - lh*float64(len(block.lines))/2
	align := l.EffectiveAlign()

	faces := map[fonts.Spec]font.Face{}
	defer func() {
		for _, f := range faces {
			_ = f.Close()
		}
	}()
	face := func(s richtext.Style) (font.Face, error) {
		spec := styleSpec(s)
		if f, ok := faces[spec]; ok {
			return f, nil
		}
		f, err := r.Fonts.NewFace(spec)
		if err != nil {
			return nil, err
		}
		faces[spec] = f
		return f, nil
	}

	for i, line := range block.lines {
		cy := top + lh*(float64(i)+0.5)
		gap := block.spaceWidth
		x := l.X
		switch align {
		case layout.AlignCenter:
			x -= line.width / 2
		case layout.AlignRight:
			x -= line.width
		case layout.AlignJustify:
			if !line.last && l.MaxWidth > line.width && len(line.words) > 1 {
				gap += (l.MaxWidth - line.width) / float64(len(line.words)-1)
			}
		}
		for wi, w := range line.words {
			if wi > 0 {
				x += gap
			}
			for _, p := range w.pieces {
				f, err := face(p.style)
				if err != nil {
					return err
				}
				dc.SetFontFace(f)
				dc.SetColor(parseColor(p.style.Color, color.Black))
				dc.DrawStringAnchored(p.text, x, cy, 0, 0.5)
				decorate(dc, p, x, cy)
				x += p.width
			}
		}
	}
	return nil
}

// decorate 绘制 underline / line-through。
func decorate(dc *gg.Context, p piece, x, cy float64) {
	deco := strings.ToLower(p.style.TextDecoration)
	if deco == "" || deco == "none" {
		return
	}
	thickness := math.Max(1, p.style.FontSize/16)
	dc.SetLineWidth(thickness)
	if strings.Contains(deco, "underline") {
		y := cy + p.style.FontSize*0.45
		dc.DrawLine(x, y, x+p.width, y)
		dc.Stroke()
	}
	if strings.Contains(deco, "line-through") {
		dc.DrawLine(x, cy, x+p.width, cy)
		dc.Stroke()
	}
}
