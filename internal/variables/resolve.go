package variables

import (
	"strings"

	"certgen/internal/layout"
	"certgen/internal/richtext"
)

// 自动字段 id。score 面使用 score_date/expiry_date 作为别名。
const (
	FieldName          = layout.FieldName
	FieldCertificateNo = layout.FieldCertificateNo
	FieldIssueDate     = layout.FieldIssueDate
	FieldDescription   = "description"
	FieldExpiredDate   = "expired_date"
	FieldScoreDate     = "score_date"
	FieldExpiryDate    = "expiry_date"
)

// IsAutoField reports whether id is bound to a computed certificate field.
func IsAutoField(id string) bool {
	switch id {
	case FieldName, FieldCertificateNo, FieldDescription, FieldIssueDate,
		FieldExpiredDate, FieldScoreDate, FieldExpiryDate:
		return true
	}
	return false
}

// AutoFields 是已经计算并格式化好的自动字段。
type AutoFields struct {
	Name          string
	CertificateNo string
	Description   string
	IssueDate     string
	ExpiredDate   string
}

// Lookup 返回自动字段的值；空值视为未提供。
func (a AutoFields) Lookup(id string) (string, bool) {
	var v string
	switch id {
	case FieldName:
		v = a.Name
	case FieldCertificateNo:
		v = a.CertificateNo
	case FieldDescription:
		v = a.Description
	case FieldIssueDate, FieldScoreDate:
		v = a.IssueDate
	case FieldExpiredDate, FieldExpiryDate:
		v = a.ExpiredDate
	default:
		return "", false
	}
	return v, v != ""
}

// Sources 按优先级从高到低排列：表格行、成绩数据、通用证书数据、自动字段。
type Sources struct {
	Row         map[string]string
	Score       map[string]string
	Certificate map[string]string
	Auto        AutoFields
}

// Lookup 按优先级查找图层 id 的值。只有非空值才算"提供"；
// 通用证书数据不参与自动字段的解析。
func (s Sources) Lookup(id string) (string, bool) {
	if v := strings.TrimSpace(s.Row[id]); v != "" {
		return s.Row[id], true
	}
	if v := strings.TrimSpace(s.Score[id]); v != "" {
		return s.Score[id], true
	}
	if !IsAutoField(id) {
		if v := strings.TrimSpace(s.Certificate[id]); v != "" {
			return s.Certificate[id], true
		}
	}
	return s.Auto.Lookup(id)
}

// Data 合并所有来源，供 {token} 替换使用；高优先级覆盖低优先级。
func (s Sources) Data() map[string]string {
	out := map[string]string{}
	for _, id := range []string{FieldName, FieldCertificateNo, FieldDescription, FieldIssueDate, FieldExpiredDate, FieldScoreDate, FieldExpiryDate} {
		if v, ok := s.Auto.Lookup(id); ok {
			out[id] = v
		}
	}
	for k, v := range s.Certificate {
		if strings.TrimSpace(v) != "" && !IsAutoField(k) {
			out[k] = v
		}
	}
	for _, m := range []map[string]string{s.Score, s.Row} {
		for k, v := range m {
			if strings.TrimSpace(v) != "" {
				out[k] = v
			}
		}
	}
	return out
}

// Text 是图层解析后的内容。RichText 为空时按图层默认样式绘制 Text。
type Text struct {
	Text     string
	RichText richtext.RichText
	// Supplied 表示值来自数据源而非图层自身的默认文本。
	Supplied bool
}

// IsEmpty reports whether nothing would be drawn.
func (t Text) IsEmpty() bool {
	return strings.TrimSpace(t.Text) == ""
}

// Resolve 计算文本图层在给定数据下的最终内容。
//
// 有数据源提供值时：若富文本仍含占位符，则就地替换并保留样式；否则丢弃富文本，
// 使用纯文本值。没有值时依次回退到富文本、defaultText。useDefaultText 的图层
// 总是输出 defaultText（占位符仍会被替换）。锁定富文本的图层（编号、签发日期）
// 忽略其富文本与 useDefaultText，始终使用派生值。
func Resolve(l layout.TextLayer, src Sources) Text {
	data := src.Data()
	rich := l.RichText
	if l.LocksRichText {
		rich = nil
	}

	if l.UseDefaultText && l.DefaultText != "" && !l.LocksRichText {
		return Text{Text: Substitute(l.DefaultText, data)}
	}

	if value, ok := src.Lookup(l.ID); ok {
		if len(rich) > 0 && RichHasToken(rich) {
			out := SubstituteRich(rich, data)
			return Text{Text: out.Flatten(), RichText: out, Supplied: true}
		}
		return Text{Text: Substitute(value, data), Supplied: true}
	}

	if len(rich) > 0 {
		out := SubstituteRich(rich, data)
		return Text{Text: out.Flatten(), RichText: out}
	}
	return Text{Text: Substitute(l.DefaultText, data)}
}

// ResolveSet 解析集合中每个可见的文本图层，键为图层 id。
func ResolveSet(set *layout.LayerSet, src Sources) map[string]Text {
	if set == nil {
		return map[string]Text{}
	}
	out := make(map[string]Text, len(set.TextLayers))
	for _, l := range set.TextLayers {
		if !l.Visible {
			continue
		}
		out[l.ID] = Resolve(l, src)
	}
	return out
}
