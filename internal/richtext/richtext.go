package richtext

import (
	"strconv"
	"unicode/utf8"
)

// Mixed 是 CommonValue 在多个片段取值不一致时返回的哨兵值。
const Mixed = "mixed"

// Style 描述片段级的样式覆盖，零值表示沿用图层默认样式。
type Style struct {
	FontWeight     string  `json:"fontWeight,omitempty"`
	FontFamily     string  `json:"fontFamily,omitempty"`
	FontSize       float64 `json:"fontSize,omitempty"`
	Color          string  `json:"color,omitempty"`
	FontStyle      string  `json:"fontStyle,omitempty"`
	TextDecoration string  `json:"textDecoration,omitempty"`
}

// Merge 将 delta 中的非零字段覆盖到 s 上。
func (s Style) Merge(delta Style) Style {
	if delta.FontWeight != "" {
		s.FontWeight = delta.FontWeight
	}
	if delta.FontFamily != "" {
		s.FontFamily = delta.FontFamily
	}
	if delta.FontSize > 0 {
		s.FontSize = delta.FontSize
	}
	if delta.Color != "" {
		s.Color = delta.Color
	}
	if delta.FontStyle != "" {
		s.FontStyle = delta.FontStyle
	}
	if delta.TextDecoration != "" {
		s.TextDecoration = delta.TextDecoration
	}
	return s
}

// IsZero reports whether no override is set.
func (s Style) IsZero() bool {
	return s == Style{}
}

// Span 是一段带样式的文本。
type Span struct {
	Text string `json:"text"`
	Style
}

// RichText 是按顺序排列的片段，拼接后即为逻辑文本。
// 相邻片段不会自动合并。
type RichText []Span

// Field 标识可查询的样式字段。
type Field string

const (
	FieldFontWeight     Field = "fontWeight"
	FieldFontFamily     Field = "fontFamily"
	FieldFontSize       Field = "fontSize"
	FieldColor          Field = "color"
	FieldFontStyle      Field = "fontStyle"
	FieldTextDecoration Field = "textDecoration"
)

// FromPlainText wraps s in a single unstyled span.
func FromPlainText(s string) RichText {
	if s == "" {
		return nil
	}
	return RichText{{Text: s}}
}

// Flatten 拼接所有片段的文本。
func (rt RichText) Flatten() string {
	switch len(rt) {
	case 0:
		return ""
	case 1:
		return rt[0].Text
	}
	n := 0
	for _, span := range rt {
		n += len(span.Text)
	}
	buf := make([]byte, 0, n)
	for _, span := range rt {
		buf = append(buf, span.Text...)
	}
	return string(buf)
}

// Len returns the logical length in runes.
func (rt RichText) Len() int {
	n := 0
	for _, span := range rt {
		n += utf8.RuneCountInString(span.Text)
	}
	return n
}

// Clone 返回深拷贝。
func (rt RichText) Clone() RichText {
	if rt == nil {
		return nil
	}
	out := make(RichText, len(rt))
	copy(out, rt)
	return out
}

// Compact 移除空片段。
func (rt RichText) Compact() RichText {
	out := make(RichText, 0, len(rt))
	for _, span := range rt {
		if span.Text != "" {
			out = append(out, span)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ApplyStyle 在逻辑偏移 [start, end) 范围内合并 delta。
// 跨越边界的片段会在边界处拆分；偏移按 rune 计数并被钳制到 [0, Len()]。
// start == end 表示没有选区，原样返回副本。
func ApplyStyle(rt RichText, start, end int, delta Style) RichText {
	length := rt.Len()
	start = clamp(start, 0, length)
	end = clamp(end, 0, length)
	if start > end {
		start, end = end, start
	}
	if start == end {
		return rt.Clone()
	}

	out := make(RichText, 0, len(rt)+2)
	pos := 0
	for _, span := range rt {
		runes := []rune(span.Text)
		spanStart, spanEnd := pos, pos+len(runes)
		pos = spanEnd

		if spanEnd <= start || spanStart >= end {
			out = append(out, span)
			continue
		}

		cutStart := max(start, spanStart) - spanStart
		cutEnd := min(end, spanEnd) - spanStart

		if cutStart > 0 {
			out = append(out, Span{Text: string(runes[:cutStart]), Style: span.Style})
		}
		out = append(out, Span{Text: string(runes[cutStart:cutEnd]), Style: span.Style.Merge(delta)})
		if cutEnd < len(runes) {
			out = append(out, Span{Text: string(runes[cutEnd:]), Style: span.Style})
		}
	}
	return out
}

// CommonValue returns the field value shared by every span, or Mixed.
func CommonValue(rt RichText, field Field) string {
	return CommonValueInRange(rt, field, 0, rt.Len())
}

// CommonValueInRange 只比较与 [start, end) 相交的片段。
// 空选区时返回光标左侧片段（或首个片段）的取值。
func CommonValueInRange(rt RichText, field Field, start, end int) string {
	length := rt.Len()
	start = clamp(start, 0, length)
	end = clamp(end, 0, length)
	if start > end {
		start, end = end, start
	}
	if len(rt) == 0 {
		return ""
	}

	if start == end {
		pos := 0
		for _, span := range rt {
			pos += utf8.RuneCountInString(span.Text)
			if pos >= start {
				return fieldValue(span.Style, field)
			}
		}
		return fieldValue(rt[len(rt)-1].Style, field)
	}

	var (
		value string
		seen  bool
		pos   int
	)
	for _, span := range rt {
		spanStart := pos
		pos += utf8.RuneCountInString(span.Text)
		if pos <= start || spanStart >= end {
			continue
		}
		v := fieldValue(span.Style, field)
		if !seen {
			value, seen = v, true
			continue
		}
		if v != value {
			return Mixed
		}
	}
	return value
}

func fieldValue(s Style, field Field) string {
	switch field {
	case FieldFontWeight:
		return s.FontWeight
	case FieldFontFamily:
		return s.FontFamily
	case FieldFontSize:
		if s.FontSize == 0 {
			return ""
		}
		return strconv.FormatFloat(s.FontSize, 'f', -1, 64)
	case FieldColor:
		return s.Color
	case FieldFontStyle:
		return s.FontStyle
	case FieldTextDecoration:
		return s.TextDecoration
	default:
		return ""
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
