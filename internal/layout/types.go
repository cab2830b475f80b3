package layout

import (
	"time"

	"certgen/internal/richtext"
)

// Namespace 标识双面模板中的某一面。
type Namespace string

const (
	NamespaceCertificate Namespace = "certificate"
	NamespaceScore       Namespace = "score"
)

// Valid reports whether ns is a known namespace.
func (ns Namespace) Valid() bool {
	return ns == NamespaceCertificate || ns == NamespaceScore
}

// TextAlign 决定 X 坐标的锚点含义。
type TextAlign string

const (
	AlignLeft    TextAlign = "left"
	AlignCenter  TextAlign = "center"
	AlignRight   TextAlign = "right"
	AlignJustify TextAlign = "justify"
)

// Valid reports whether a is one of the supported alignments.
func (a TextAlign) Valid() bool {
	switch a {
	case AlignLeft, AlignCenter, AlignRight, AlignJustify:
		return true
	}
	return false
}

// FitMode 描述照片在图层矩形内的填充方式。
type FitMode string

const (
	FitFill    FitMode = "fill"
	FitContain FitMode = "contain"
	FitCover   FitMode = "cover"
	FitStretch FitMode = "stretch"
)

const (
	CurrentVersion = "1.0"

	DefaultMaxWidth   = 300.0
	DefaultLineHeight = 1.2
	DefaultFontSize   = 24.0
	DefaultFontFamily = "Go"
	DefaultColor      = "#000000"

	DefaultPhotoZIndex = 0
	DefaultQRZIndex    = 50

	MinLineHeight = 0.5
	MaxLineHeight = 3.0
)

// Canvas 是模板底图的像素尺寸。
type Canvas struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both dimensions are positive.
func (c Canvas) Valid() bool {
	return c.Width > 0 && c.Height > 0
}

// TextLayer 是文本图层。X/Y 与 XPercent/YPercent 同时保存，百分比为持久形式。
type TextLayer struct {
	ID                  string            `json:"id"`
	X                   float64           `json:"x"`
	Y                   float64           `json:"y"`
	XPercent            float64           `json:"xPercent"`
	YPercent            float64           `json:"yPercent"`
	FontSize            float64           `json:"fontSize"`
	FontSizePercent     float64           `json:"fontSizePercent"`
	FontFamily          string            `json:"fontFamily"`
	FontWeight          string            `json:"fontWeight"`
	FontStyle           string            `json:"fontStyle"`
	Color               string            `json:"color"`
	TextAlign           TextAlign         `json:"textAlign,omitempty"`
	MaxWidth            float64           `json:"maxWidth"`
	LineHeight          float64           `json:"lineHeight"`
	RichText            richtext.RichText `json:"richText,omitempty"`
	HasInlineFormatting bool              `json:"hasInlineFormatting,omitempty"`
	DefaultText         string            `json:"defaultText,omitempty"`
	UseDefaultText      bool              `json:"useDefaultText,omitempty"`
	Visible             bool              `json:"visible"`
	LocksAlignment      bool              `json:"locksAlignment,omitempty"`
	LocksRichText       bool              `json:"locksRichText,omitempty"`
}

// EffectiveAlign 返回实际使用的对齐方式；锁定对齐的图层总是左对齐。
func (l TextLayer) EffectiveAlign() TextAlign {
	if l.LocksAlignment || l.TextAlign == "" {
		return AlignLeft
	}
	return l.TextAlign
}

// DisplayText is the text shown while editing: rich text when present,
// then the default text, then a {id} placeholder.
func (l TextLayer) DisplayText() string {
	if len(l.RichText) > 0 {
		return l.RichText.Flatten()
	}
	if l.DefaultText != "" {
		return l.DefaultText
	}
	return "{" + l.ID + "}"
}

// BaseStyle 返回图层默认样式，作为片段样式的回退。
func (l TextLayer) BaseStyle() richtext.Style {
	return richtext.Style{
		FontWeight: l.FontWeight,
		FontFamily: l.FontFamily,
		FontSize:   l.FontSize,
		Color:      l.Color,
		FontStyle:  l.FontStyle,
	}
}

// Crop 以原图比例 (0..1) 描述裁剪区域。
type Crop struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Mask 描述照片遮罩形状。
type Mask struct {
	Type   string  `json:"type"`
	Radius float64 `json:"radius,omitempty"`
}

// PhotoLayer 是照片图层，X/Y 为左上角。
type PhotoLayer struct {
	ID                  string  `json:"id"`
	X                   float64 `json:"x"`
	Y                   float64 `json:"y"`
	XPercent            float64 `json:"xPercent"`
	YPercent            float64 `json:"yPercent"`
	Width               float64 `json:"width"`
	Height              float64 `json:"height"`
	WidthPercent        float64 `json:"widthPercent"`
	HeightPercent       float64 `json:"heightPercent"`
	Src                 string  `json:"src,omitempty"`
	StoragePath         string  `json:"storagePath,omitempty"`
	FitMode             FitMode `json:"fitMode"`
	Opacity             float64 `json:"opacity"`
	Rotation            float64 `json:"rotation"`
	ZIndex              int     `json:"zIndex"`
	MaintainAspectRatio bool    `json:"maintainAspectRatio"`
	OriginalWidth       int     `json:"originalWidth,omitempty"`
	OriginalHeight      int     `json:"originalHeight,omitempty"`
	Crop                *Crop   `json:"crop,omitempty"`
	Mask                *Mask   `json:"mask,omitempty"`
	Visible             bool    `json:"visible"`
}

// Source 优先使用存储路径，其次是 src。
func (p PhotoLayer) Source() string {
	if p.StoragePath != "" {
		return p.StoragePath
	}
	return p.Src
}

// QRLayer 是二维码图层，宽高始终相等。
type QRLayer struct {
	ID                   string  `json:"id"`
	X                    float64 `json:"x"`
	Y                    float64 `json:"y"`
	XPercent             float64 `json:"xPercent"`
	YPercent             float64 `json:"yPercent"`
	Width                float64 `json:"width"`
	Height               float64 `json:"height"`
	WidthPercent         float64 `json:"widthPercent"`
	HeightPercent        float64 `json:"heightPercent"`
	QRData               string  `json:"qrData"`
	ForegroundColor      string  `json:"foregroundColor"`
	BackgroundColor      string  `json:"backgroundColor"`
	ErrorCorrectionLevel string  `json:"errorCorrectionLevel"`
	Margin               int     `json:"margin"`
	ZIndex               int     `json:"zIndex"`
	Opacity              float64 `json:"opacity"`
	Rotation             float64 `json:"rotation"`
	Visible              bool    `json:"visible"`
}

// LayerSet 是某一面上的全部图层。
type LayerSet struct {
	TextLayers  []TextLayer  `json:"textLayers"`
	PhotoLayers []PhotoLayer `json:"photoLayers"`
	QRLayers    []QRLayer    `json:"qrLayers"`
}

// Config 是模板布局文档，作为整体读写。
type Config struct {
	Certificate LayerSet  `json:"certificate"`
	Score       *LayerSet `json:"score,omitempty"`
	Canvas      Canvas    `json:"canvas"`
	Version     string    `json:"version"`
	LastSavedAt time.Time `json:"lastSavedAt"`
}

// New 返回给定画布尺寸的空布局。
func New(canvas Canvas) *Config {
	return &Config{Canvas: canvas, Version: CurrentVersion}
}

// Layers 返回命名空间对应的图层集合；score 不存在时返回 nil。
func (c *Config) Layers(ns Namespace) *LayerSet {
	switch ns {
	case NamespaceCertificate:
		return &c.Certificate
	case NamespaceScore:
		return c.Score
	default:
		return nil
	}
}

// EnsureLayers 与 Layers 相同，但会按需创建 score 面。
func (c *Config) EnsureLayers(ns Namespace) *LayerSet {
	if ns == NamespaceScore && c.Score == nil {
		c.Score = &LayerSet{}
	}
	return c.Layers(ns)
}

// Namespaces lists the namespaces present in c.
func (c *Config) Namespaces() []Namespace {
	if c.Score != nil {
		return []Namespace{NamespaceCertificate, NamespaceScore}
	}
	return []Namespace{NamespaceCertificate}
}

// TextLayer 按 id 查找文本图层。
func (s *LayerSet) TextLayer(id string) (*TextLayer, bool) {
	for i := range s.TextLayers {
		if s.TextLayers[i].ID == id {
			return &s.TextLayers[i], true
		}
	}
	return nil, false
}

// PhotoLayer 按 id 查找照片图层。
func (s *LayerSet) PhotoLayer(id string) (*PhotoLayer, bool) {
	for i := range s.PhotoLayers {
		if s.PhotoLayers[i].ID == id {
			return &s.PhotoLayers[i], true
		}
	}
	return nil, false
}

// QRLayer 按 id 查找二维码图层。
func (s *LayerSet) QRLayer(id string) (*QRLayer, bool) {
	for i := range s.QRLayers {
		if s.QRLayers[i].ID == id {
			return &s.QRLayers[i], true
		}
	}
	return nil, false
}

// HasID reports whether any layer of any kind uses id.
func (s *LayerSet) HasID(id string) bool {
	if _, ok := s.TextLayer(id); ok {
		return true
	}
	if _, ok := s.PhotoLayer(id); ok {
		return true
	}
	_, ok := s.QRLayer(id)
	return ok
}

// Clone 深拷贝图层集合。
func (s LayerSet) Clone() LayerSet {
	out := LayerSet{
		TextLayers:  make([]TextLayer, len(s.TextLayers)),
		PhotoLayers: make([]PhotoLayer, len(s.PhotoLayers)),
		QRLayers:    make([]QRLayer, len(s.QRLayers)),
	}
	for i, l := range s.TextLayers {
		l.RichText = l.RichText.Clone()
		out.TextLayers[i] = l
	}
	for i, p := range s.PhotoLayers {
		if p.Crop != nil {
			crop := *p.Crop
			p.Crop = &crop
		}
		if p.Mask != nil {
			mask := *p.Mask
			p.Mask = &mask
		}
		out.PhotoLayers[i] = p
	}
	copy(out.QRLayers, s.QRLayers)
	return out
}

// Clone 深拷贝布局文档，生成任务用它获得快照语义。
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Certificate = c.Certificate.Clone()
	if c.Score != nil {
		score := c.Score.Clone()
		out.Score = &score
	}
	return &out
}
