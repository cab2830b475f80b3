package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"certgen/internal/richtext"
)

// 标准自动字段。
const (
	FieldName          = "name"
	FieldCertificateNo = "certificate_no"
	FieldIssueDate     = "issue_date"
)

var requiredIDs = map[Namespace][]string{
	NamespaceCertificate: {FieldName, FieldCertificateNo, FieldIssueDate},
	NamespaceScore:       {FieldIssueDate},
}

// RequiredIDs 返回命名空间中不可删除的图层 id。
func RequiredIDs(ns Namespace) []string {
	return slices.Clone(requiredIDs[ns])
}

// IsRequired reports whether id may not be deleted from ns.
func IsRequired(ns Namespace, id string) bool {
	return slices.Contains(requiredIDs[ns], id)
}

// locksByDefault 标记默认锁定对齐与富文本的系统字段。
func locksByDefault(id string) bool {
	return id == FieldCertificateNo || id == FieldIssueDate
}

// ErrEmptyDocument is returned when decoding zero bytes.
var ErrEmptyDocument = errors.New("layout document is empty")

// MissingFieldsError 在保存前缺少必需图层时返回。
type MissingFieldsError struct {
	Namespace Namespace
	Missing   []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("%s layout is missing required fields: %s", e.Namespace, strings.Join(e.Missing, ", "))
}

// Validate 检查每个存在的命名空间是否包含全部必需图层。
func (c *Config) Validate() error {
	for _, ns := range c.Namespaces() {
		if err := c.ValidateNamespace(ns); err != nil {
			return err
		}
	}
	return nil
}

// ValidateNamespace 只检查单个命名空间。
func (c *Config) ValidateNamespace(ns Namespace) error {
	set := c.Layers(ns)
	if set == nil {
		return nil
	}
	var missing []string
	for _, id := range requiredIDs[ns] {
		if _, ok := set.TextLayer(id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Namespace: ns, Missing: missing}
	}
	return nil
}

// wire 类型用指针区分"缺失"与"零值"，以便读取时补齐默认值。
type wireConfig struct {
	Certificate *wireLayerSet `json:"certificate"`
	Score       *wireLayerSet `json:"score"`
	Canvas      Canvas        `json:"canvas"`
	Version     string        `json:"version"`
	LastSavedAt time.Time     `json:"lastSavedAt"`
}

type wireLayerSet struct {
	TextLayers  []wireTextLayer  `json:"textLayers"`
	PhotoLayers []wirePhotoLayer `json:"photoLayers"`
	QRLayers    []wireQRLayer    `json:"qrLayers"`
}

type wireTextLayer struct {
	ID                  string            `json:"id"`
	X                   float64           `json:"x"`
	Y                   float64           `json:"y"`
	XPercent            *float64          `json:"xPercent"`
	YPercent            *float64          `json:"yPercent"`
	FontSize            *float64          `json:"fontSize"`
	FontSizePercent     *float64          `json:"fontSizePercent"`
	FontFamily          string            `json:"fontFamily"`
	FontWeight          string            `json:"fontWeight"`
	FontStyle           string            `json:"fontStyle"`
	Color               string            `json:"color"`
	TextAlign           TextAlign         `json:"textAlign"`
	MaxWidth            *float64          `json:"maxWidth"`
	LineHeight          *float64          `json:"lineHeight"`
	RichText            richtext.RichText `json:"richText"`
	HasInlineFormatting bool              `json:"hasInlineFormatting"`
	DefaultText         string            `json:"defaultText"`
	UseDefaultText      bool              `json:"useDefaultText"`
	Visible             *bool             `json:"visible"`
	LocksAlignment      *bool             `json:"locksAlignment"`
	LocksRichText       *bool             `json:"locksRichText"`
}

type wirePhotoLayer struct {
	PhotoLayer
	XPercent      *float64 `json:"xPercent"`
	YPercent      *float64 `json:"yPercent"`
	WidthPercent  *float64 `json:"widthPercent"`
	HeightPercent *float64 `json:"heightPercent"`
	Opacity       *float64 `json:"opacity"`
	ZIndex        *int     `json:"zIndex"`
	Visible       *bool    `json:"visible"`
}

type wireQRLayer struct {
	QRLayer
	XPercent     *float64 `json:"xPercent"`
	YPercent     *float64 `json:"yPercent"`
	WidthPercent *float64 `json:"widthPercent"`
	Opacity      *float64 `json:"opacity"`
	ZIndex       *int     `json:"zIndex"`
	Visible      *bool    `json:"visible"`
	Margin       *int     `json:"margin"`
}

// Decode 解析布局文档并在读取时完成迁移：缺失的 photoLayers/qrLayers/score
// 视为空，maxWidth/lineHeight/fontSizePercent 等缺失字段补默认值。
func Decode(data []byte) (*Config, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ErrEmptyDocument
	}
	var w wireConfig
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode layout document: %w", err)
	}

	cfg := &Config{
		Canvas:      w.Canvas,
		Version:     w.Version,
		LastSavedAt: w.LastSavedAt,
	}
	if cfg.Version == "" {
		cfg.Version = CurrentVersion
	}
	if w.Certificate != nil {
		cfg.Certificate = w.Certificate.materialize(cfg.Canvas)
	}
	if w.Score != nil {
		score := w.Score.materialize(cfg.Canvas)
		cfg.Score = &score
	}
	return cfg, nil
}

// Encode 序列化布局文档。
func Encode(cfg *Config) ([]byte, error) {
	if cfg == nil {
		return nil, ErrEmptyDocument
	}
	out := cfg.Clone()
	if out.Version == "" {
		out.Version = CurrentVersion
	}
	ensureSlices(&out.Certificate)
	if out.Score != nil {
		ensureSlices(out.Score)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode layout document: %w", err)
	}
	return data, nil
}

func ensureSlices(s *LayerSet) {
	if s.TextLayers == nil {
		s.TextLayers = []TextLayer{}
	}
	if s.PhotoLayers == nil {
		s.PhotoLayers = []PhotoLayer{}
	}
	if s.QRLayers == nil {
		s.QRLayers = []QRLayer{}
	}
}

func (w *wireLayerSet) materialize(c Canvas) LayerSet {
	set := LayerSet{
		TextLayers:  make([]TextLayer, 0, len(w.TextLayers)),
		PhotoLayers: make([]PhotoLayer, 0, len(w.PhotoLayers)),
		QRLayers:    make([]QRLayer, 0, len(w.QRLayers)),
	}
	for _, t := range w.TextLayers {
		set.TextLayers = append(set.TextLayers, t.materialize(c))
	}
	for _, p := range w.PhotoLayers {
		set.PhotoLayers = append(set.PhotoLayers, p.materialize(c))
	}
	for _, q := range w.QRLayers {
		set.QRLayers = append(set.QRLayers, q.materialize(c))
	}
	return set
}

func (w wireTextLayer) materialize(c Canvas) TextLayer {
	l := TextLayer{
		ID:                  w.ID,
		X:                   w.X,
		Y:                   w.Y,
		FontFamily:          w.FontFamily,
		FontWeight:          w.FontWeight,
		FontStyle:           w.FontStyle,
		Color:               w.Color,
		TextAlign:           w.TextAlign,
		MaxWidth:            floatOr(w.MaxWidth, DefaultMaxWidth),
		LineHeight:          floatOr(w.LineHeight, DefaultLineHeight),
		RichText:            w.RichText.Compact(),
		HasInlineFormatting: w.HasInlineFormatting,
		DefaultText:         w.DefaultText,
		UseDefaultText:      w.UseDefaultText,
		Visible:             boolOr(w.Visible, true),
		LocksAlignment:      boolOr(w.LocksAlignment, locksByDefault(w.ID)),
		LocksRichText:       boolOr(w.LocksRichText, locksByDefault(w.ID)),
	}
	if l.FontFamily == "" {
		l.FontFamily = DefaultFontFamily
	}
	if l.Color == "" {
		l.Color = DefaultColor
	}
	l.FontSize = floatOr(w.FontSize, DefaultFontSize)
	l.FontSizePercent = floatOr(w.FontSizePercent, ToPercent(l.FontSize, float64(c.Height)))
	l.XPercent = floatOr(w.XPercent, ToPercent(w.X, float64(c.Width)))
	l.YPercent = floatOr(w.YPercent, ToPercent(w.Y, float64(c.Height)))
	return l
}

func (w wirePhotoLayer) materialize(c Canvas) PhotoLayer {
	p := w.PhotoLayer
	p.XPercent = floatOr(w.XPercent, ToPercent(p.X, float64(c.Width)))
	p.YPercent = floatOr(w.YPercent, ToPercent(p.Y, float64(c.Height)))
	p.WidthPercent = floatOr(w.WidthPercent, ToPercent(p.Width, float64(c.Width)))
	p.HeightPercent = floatOr(w.HeightPercent, ToPercent(p.Height, float64(c.Height)))
	p.Opacity = floatOr(w.Opacity, 1)
	p.ZIndex = intOr(w.ZIndex, DefaultPhotoZIndex)
	p.Visible = boolOr(w.Visible, true)
	if p.FitMode == "" {
		p.FitMode = FitCover
	}
	return p
}

func (w wireQRLayer) materialize(c Canvas) QRLayer {
	q := w.QRLayer
	q.XPercent = floatOr(w.XPercent, ToPercent(q.X, float64(c.Width)))
	q.YPercent = floatOr(w.YPercent, ToPercent(q.Y, float64(c.Height)))
	q.WidthPercent = floatOr(w.WidthPercent, ToPercent(q.Width, float64(c.Width)))
	q.Height = q.Width
	q.HeightPercent = ToPercent(q.Height, float64(c.Height))
	q.Opacity = floatOr(w.Opacity, 1)
	q.ZIndex = intOr(w.ZIndex, DefaultQRZIndex)
	q.Visible = boolOr(w.Visible, true)
	q.Margin = intOr(w.Margin, 1)
	if q.ForegroundColor == "" {
		q.ForegroundColor = "#000000"
	}
	if q.BackgroundColor == "" {
		q.BackgroundColor = "#ffffff"
	}
	if q.ErrorCorrectionLevel == "" {
		q.ErrorCorrectionLevel = "M"
	}
	return q
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
