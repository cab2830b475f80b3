package fonts

import "strings"

// Wrap 对文本做贪心折行：逐词追加，若追加后超出 maxWidth 且当前行非空，
// 先输出当前行再以该词开始新行。显式换行符总是断行；maxWidth <= 0 时不折行。
func Wrap(text string, maxWidth float64, measure func(string) float64) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		if maxWidth <= 0 {
			lines = append(lines, para)
			continue
		}
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		line := ""
		for _, word := range words {
			candidate := word
			if line != "" {
				candidate = line + " " + word
			}
			if line != "" && measure(candidate) > maxWidth {
				lines = append(lines, line)
				line = word
				continue
			}
			line = candidate
		}
		lines = append(lines, line)
	}
	return lines
}

// MeasureBlock 返回折行后最长一行的宽度。
func (r *Registry) MeasureBlock(spec Spec, text string, maxWidth float64) float64 {
	measure := func(s string) float64 { return r.Measure(spec, s) }
	widest := 0.0
	for _, line := range Wrap(text, maxWidth, measure) {
		widest = max(widest, measure(line))
	}
	return widest
}
