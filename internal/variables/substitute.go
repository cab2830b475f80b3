// Package variables resolves {token} placeholders and per-layer values
// against the data sources of one certificate.
package variables

import (
	"regexp"
	"strings"

	"certgen/internal/richtext"
)

var tokenPattern = regexp.MustCompile(`\{([A-Za-z0-9_.\-]+)\}`)

// Substitute 替换 s 中的 {id}；data 中没有的 token 原样保留。
func Substitute(s string, data map[string]string) string {
	if !strings.Contains(s, "{") {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		key := token[1 : len(token)-1]
		if v, ok := data[key]; ok {
			return v
		}
		return token
	})
}

// HasToken reports whether s contains at least one {id} placeholder.
func HasToken(s string) bool {
	return tokenPattern.MatchString(s)
}

// RichHasToken 检查任意片段是否含有占位符。
func RichHasToken(rt richtext.RichText) bool {
	for _, span := range rt {
		if HasToken(span.Text) {
			return true
		}
	}
	return false
}

// Tokens 按出现顺序返回 s 中的 token 名（去重）。
func Tokens(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range tokenPattern.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// SubstituteRich 逐片段替换并保留各自样式；替换后为空的片段被移除。
func SubstituteRich(rt richtext.RichText, data map[string]string) richtext.RichText {
	if !RichHasToken(rt) {
		return rt.Clone()
	}
	out := make(richtext.RichText, 0, len(rt))
	for _, span := range rt {
		span.Text = Substitute(span.Text, data)
		out = append(out, span)
	}
	return out.Compact()
}
