package editor

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"certgen/internal/layout"
	"certgen/internal/richtext"
)

// DefaultQRData 在生成时被替换为证书校验链接。
const DefaultQRData = "{{CERTIFICATE_URL}}"

// SetTextAlign 修改对齐方式并重新计算 X，使文本的视觉位置保持不变。
// 锁定对齐的图层直接忽略。
func (e *Editor) SetTextAlign(ref LayerRef, align layout.TextAlign) error {
	if !align.Valid() {
		return invalid("set align", ref, ErrInvalidAlign)
	}
	l, err := e.textLayer(ref)
	if err != nil {
		return invalid("set align", ref, err)
	}
	if l.LocksAlignment {
		return nil
	}

	width := e.measureText(l)
	center := visualCenter(l.EffectiveAlign(), l.X, width)
	x := anchorFor(align, center, width)
	x = layout.Clamp(x, 0, float64(e.cfg.Canvas.Width))

	l.TextAlign = align
	l.SetPosition(x, l.Y, e.cfg.Canvas)
	return nil
}

func (e *Editor) measureText(l *layout.TextLayer) float64 {
	if e.measurer == nil {
		return 0
	}
	return e.measurer.MeasureBlock(textSpec(l), l.DisplayText(), l.MaxWidth)
}

// visualCenter 把存储的锚点换算为文本中心；justify 与 left 相同。
func visualCenter(align layout.TextAlign, x, width float64) float64 {
	switch align {
	case layout.AlignCenter:
		return x
	case layout.AlignRight:
		return x - width/2
	default:
		return x + width/2
	}
}

func anchorFor(align layout.TextAlign, center, width float64) float64 {
	switch align {
	case layout.AlignCenter:
		return center
	case layout.AlignRight:
		return center + width/2
	default:
		return center - width/2
	}
}

// BeginRename 进入重命名模式。必需图层不可重命名。
func (e *Editor) BeginRename(ref LayerRef) error {
	if !e.exists(ref) {
		return invalid("rename", ref, ErrLayerNotFound)
	}
	if layout.IsRequired(ref.Namespace, ref.ID) {
		return invalid("rename", ref, ErrRequiredLayer)
	}
	e.renaming = &ref
	return nil
}

// Renaming returns the layer currently in rename mode.
func (e *Editor) Renaming() (LayerRef, bool) {
	if e.renaming == nil {
		return LayerRef{}, false
	}
	return *e.renaming, true
}

// CancelRename leaves rename mode without changes.
func (e *Editor) CancelRename() {
	e.renaming = nil
}

// CommitRename 提交新 id。空值或未改变时静默取消；与同一面上其他图层冲突时
// 返回 ValidationError，并保持重命名模式与文档不变。
func (e *Editor) CommitRename(newID string) error {
	if e.renaming == nil {
		return ErrNotRenaming
	}
	ref := *e.renaming
	newID = strings.TrimSpace(newID)
	if newID == "" || newID == ref.ID {
		e.renaming = nil
		return nil
	}
	set := e.cfg.Layers(ref.Namespace)
	if set == nil {
		e.renaming = nil
		return invalid("rename", ref, ErrLayerNotFound)
	}
	if set.HasID(newID) {
		return invalid("rename", ref, fmt.Errorf("%w: %q", ErrDuplicateID, newID))
	}

	switch ref.Kind {
	case KindText:
		l, _ := set.TextLayer(ref.ID)
		l.ID = newID
	case KindPhoto:
		p, _ := set.PhotoLayer(ref.ID)
		p.ID = newID
	case KindQR:
		q, _ := set.QRLayer(ref.ID)
		q.ID = newID
	}
	renamed := LayerRef{Namespace: ref.Namespace, Kind: ref.Kind, ID: newID}
	if e.selected != nil && *e.selected == ref {
		e.selected = &renamed
	}
	e.renaming = nil
	return nil
}

// AddTextLayer 在画布中央添加文本图层，id 形如 text-N。
func (e *Editor) AddTextLayer(ns layout.Namespace, text string) (LayerRef, error) {
	set, err := e.set(ns)
	if err != nil {
		return LayerRef{}, err
	}
	id := nextTextID(set)
	c := e.cfg.Canvas
	l := layout.TextLayer{
		ID:         id,
		FontFamily: layout.DefaultFontFamily,
		Color:      layout.DefaultColor,
		FontWeight: "normal",
		FontStyle:  "normal",
		TextAlign:  layout.AlignCenter,
		MaxWidth:   layout.DefaultMaxWidth,
		LineHeight: layout.DefaultLineHeight,
		Visible:    true,
	}
	if text != "" {
		l.RichText = richtext.FromPlainText(text)
		l.DefaultText = text
	}
	l.SetPosition(float64(c.Width)/2, float64(c.Height)/2, c)
	l.SetFontSize(layout.DefaultFontSize, c)
	set.TextLayers = append(set.TextLayers, l)

	ref := LayerRef{Namespace: ns, Kind: KindText, ID: id}
	e.selected = &ref
	return ref, nil
}

func nextTextID(set *layout.LayerSet) string {
	for n := len(set.TextLayers) + 1; ; n++ {
		id := fmt.Sprintf("text-%d", n)
		if !set.HasID(id) {
			return id
		}
	}
}

func shortID(prefix string, set *layout.LayerSet) string {
	for {
		id := prefix + "-" + uuid.NewString()[:8]
		if !set.HasID(id) {
			return id
		}
	}
}

// PhotoSpec 是新增照片图层的来源与原始尺寸。
type PhotoSpec struct {
	Src            string `json:"src"`
	StoragePath    string `json:"storagePath,omitempty"`
	OriginalWidth  int    `json:"originalWidth"`
	OriginalHeight int    `json:"originalHeight"`
}

// AddPhotoLayer 添加照片图层：宽度取画布的 1/4，高度按原图比例。
func (e *Editor) AddPhotoLayer(ns layout.Namespace, spec PhotoSpec) (LayerRef, error) {
	set, err := e.set(ns)
	if err != nil {
		return LayerRef{}, err
	}
	c := e.cfg.Canvas
	w := float64(c.Width) / 4
	h := w
	if spec.OriginalWidth > 0 && spec.OriginalHeight > 0 {
		h = w * float64(spec.OriginalHeight) / float64(spec.OriginalWidth)
	}
	p := layout.PhotoLayer{
		ID:                  shortID("photo", set),
		Src:                 spec.Src,
		StoragePath:         spec.StoragePath,
		FitMode:             layout.FitCover,
		Opacity:             1,
		ZIndex:              layout.DefaultPhotoZIndex,
		MaintainAspectRatio: true,
		OriginalWidth:       spec.OriginalWidth,
		OriginalHeight:      spec.OriginalHeight,
		Visible:             true,
	}
	p.SetPosition((float64(c.Width)-w)/2, (float64(c.Height)-h)/2, c)
	p.SetSize(w, h, c)
	set.PhotoLayers = append(set.PhotoLayers, p)

	ref := LayerRef{Namespace: ns, Kind: KindPhoto, ID: p.ID}
	e.selected = &ref
	return ref, nil
}

// AddQRLayer 添加二维码图层，data 为空时使用证书链接占位符。
func (e *Editor) AddQRLayer(ns layout.Namespace, data string) (LayerRef, error) {
	set, err := e.set(ns)
	if err != nil {
		return LayerRef{}, err
	}
	if strings.TrimSpace(data) == "" {
		data = DefaultQRData
	}
	c := e.cfg.Canvas
	size := layout.Clamp(MinQRSize*2, 0, maxQRFraction*min(float64(c.Width), float64(c.Height)))
	q := layout.QRLayer{
		ID:                   shortID("qr", set),
		QRData:               data,
		ForegroundColor:      "#000000",
		BackgroundColor:      "#ffffff",
		ErrorCorrectionLevel: "M",
		Margin:               1,
		ZIndex:               layout.DefaultQRZIndex,
		Opacity:              1,
		Visible:              true,
	}
	q.SetPosition(float64(c.Width)-size-20, float64(c.Height)-size-20, c)
	if q.X < 0 || q.Y < 0 {
		q.SetPosition(0, 0, c)
	}
	q.SetSize(size, c)
	set.QRLayers = append(set.QRLayers, q)

	ref := LayerRef{Namespace: ns, Kind: KindQR, ID: q.ID}
	e.selected = &ref
	return ref, nil
}

// DeleteLayer 删除图层。必需图层返回 ValidationError，图层列表不变。
func (e *Editor) DeleteLayer(ref LayerRef) error {
	if !e.exists(ref) {
		return invalid("delete", ref, ErrLayerNotFound)
	}
	if ref.Kind == KindText && layout.IsRequired(ref.Namespace, ref.ID) {
		return invalid("delete", ref, ErrRequiredLayer)
	}
	set := e.cfg.Layers(ref.Namespace)
	switch ref.Kind {
	case KindText:
		set.TextLayers = removeWhere(set.TextLayers, func(l layout.TextLayer) bool { return l.ID == ref.ID })
	case KindPhoto:
		set.PhotoLayers = removeWhere(set.PhotoLayers, func(p layout.PhotoLayer) bool { return p.ID == ref.ID })
	case KindQR:
		set.QRLayers = removeWhere(set.QRLayers, func(q layout.QRLayer) bool { return q.ID == ref.ID })
	}
	if e.selected != nil && *e.selected == ref {
		e.selected = nil
	}
	if e.renaming != nil && *e.renaming == ref {
		e.renaming = nil
	}
	return nil
}

func removeWhere[T any](items []T, match func(T) bool) []T {
	out := items[:0]
	for _, it := range items {
		if !match(it) {
			out = append(out, it)
		}
	}
	return out
}

// ApplyStyle 把样式应用到 [start, end)。选区为空或图层锁定富文本时，
// 修改的是图层默认样式。
func (e *Editor) ApplyStyle(ref LayerRef, start, end int, delta richtext.Style) error {
	l, err := e.textLayer(ref)
	if err != nil {
		return invalid("apply style", ref, err)
	}
	if start == end || l.LocksRichText {
		applyDefaultStyle(l, delta, e.cfg.Canvas)
		return nil
	}
	rt := l.RichText
	if len(rt) == 0 {
		rt = richtext.FromPlainText(l.DisplayText())
	}
	l.RichText = richtext.ApplyStyle(rt, start, end, delta)
	l.HasInlineFormatting = true
	return nil
}

func applyDefaultStyle(l *layout.TextLayer, delta richtext.Style, c layout.Canvas) {
	base := l.BaseStyle().Merge(delta)
	l.FontWeight = base.FontWeight
	l.FontFamily = base.FontFamily
	l.Color = base.Color
	l.FontStyle = base.FontStyle
	if delta.FontSize > 0 {
		l.SetFontSize(delta.FontSize, c)
	}
}

// CommonStyle 返回图层在选区内某字段的公共值或 richtext.Mixed；
// 空选区或无富文本时返回默认样式的值。
func (e *Editor) CommonStyle(ref LayerRef, field richtext.Field, start, end int) (string, error) {
	l, err := e.textLayer(ref)
	if err != nil {
		return "", invalid("common style", ref, err)
	}
	rt := l.RichText
	if start == end || len(rt) == 0 || l.LocksRichText {
		rt = richtext.RichText{{Text: l.DisplayText(), Style: l.BaseStyle()}}
		return richtext.CommonValue(rt, field), nil
	}
	return richtext.CommonValueInRange(rt, field, start, end), nil
}

// SetText 替换图层文本。锁定富文本的图层只保存默认文本。
func (e *Editor) SetText(ref LayerRef, text string) error {
	l, err := e.textLayer(ref)
	if err != nil {
		return invalid("set text", ref, err)
	}
	l.DefaultText = text
	if l.LocksRichText {
		l.RichText = nil
		l.HasInlineFormatting = false
		return nil
	}
	l.RichText = richtext.FromPlainText(text)
	l.HasInlineFormatting = false
	return nil
}

// SetVisible 显示或隐藏图层。
func (e *Editor) SetVisible(ref LayerRef, visible bool) error {
	switch ref.Kind {
	case KindText:
		l, err := e.textLayer(ref)
		if err != nil {
			return invalid("set visible", ref, err)
		}
		l.Visible = visible
	case KindPhoto:
		p, err := e.photoLayer(ref)
		if err != nil {
			return invalid("set visible", ref, err)
		}
		p.Visible = visible
	case KindQR:
		q, err := e.qrLayer(ref)
		if err != nil {
			return invalid("set visible", ref, err)
		}
		q.Visible = visible
	default:
		return invalid("set visible", ref, ErrLayerNotFound)
	}
	return nil
}

// ToggleVisible flips the visibility of the layer.
func (e *Editor) ToggleVisible(ref LayerRef) error {
	visible, err := e.visible(ref)
	if err != nil {
		return invalid("toggle visible", ref, err)
	}
	return e.SetVisible(ref, !visible)
}

func (e *Editor) visible(ref LayerRef) (bool, error) {
	switch ref.Kind {
	case KindText:
		l, err := e.textLayer(ref)
		if err != nil {
			return false, err
		}
		return l.Visible, nil
	case KindPhoto:
		p, err := e.photoLayer(ref)
		if err != nil {
			return false, err
		}
		return p.Visible, nil
	case KindQR:
		q, err := e.qrLayer(ref)
		if err != nil {
			return false, err
		}
		return q.Visible, nil
	}
	return false, ErrLayerNotFound
}

// PhotoUpdate 是照片图层的部分更新，nil 字段保持不变。
type PhotoUpdate struct {
	FitMode             *layout.FitMode `json:"fitMode,omitempty"`
	Opacity             *float64        `json:"opacity,omitempty"`
	Rotation            *float64        `json:"rotation,omitempty"`
	ZIndex              *int            `json:"zIndex,omitempty"`
	MaintainAspectRatio *bool           `json:"maintainAspectRatio,omitempty"`
	Crop                *layout.Crop    `json:"crop,omitempty"`
	Mask                *layout.Mask    `json:"mask,omitempty"`
}

// UpdatePhoto applies the non-nil fields of u.
func (e *Editor) UpdatePhoto(ref LayerRef, u PhotoUpdate) error {
	p, err := e.photoLayer(ref)
	if err != nil {
		return invalid("update photo", ref, err)
	}
	if u.FitMode != nil {
		p.FitMode = *u.FitMode
	}
	if u.Opacity != nil {
		p.Opacity = layout.Clamp(*u.Opacity, 0, 1)
	}
	if u.Rotation != nil {
		p.Rotation = *u.Rotation
	}
	if u.ZIndex != nil {
		p.ZIndex = *u.ZIndex
	}
	if u.MaintainAspectRatio != nil {
		p.MaintainAspectRatio = *u.MaintainAspectRatio
	}
	if u.Crop != nil {
		crop := *u.Crop
		p.Crop = &crop
	}
	if u.Mask != nil {
		mask := *u.Mask
		p.Mask = &mask
	}
	return nil
}

// QRUpdate 是二维码图层的部分更新。
type QRUpdate struct {
	QRData               *string  `json:"qrData,omitempty"`
	ForegroundColor      *string  `json:"foregroundColor,omitempty"`
	BackgroundColor      *string  `json:"backgroundColor,omitempty"`
	ErrorCorrectionLevel *string  `json:"errorCorrectionLevel,omitempty"`
	Margin               *int     `json:"margin,omitempty"`
	ZIndex               *int     `json:"zIndex,omitempty"`
	Opacity              *float64 `json:"opacity,omitempty"`
}

// UpdateQR applies the non-nil fields of u.
func (e *Editor) UpdateQR(ref LayerRef, u QRUpdate) error {
	q, err := e.qrLayer(ref)
	if err != nil {
		return invalid("update qr", ref, err)
	}
	if u.QRData != nil {
		q.QRData = *u.QRData
	}
	if u.ForegroundColor != nil {
		q.ForegroundColor = *u.ForegroundColor
	}
	if u.BackgroundColor != nil {
		q.BackgroundColor = *u.BackgroundColor
	}
	if u.ErrorCorrectionLevel != nil {
		q.ErrorCorrectionLevel = strings.ToUpper(*u.ErrorCorrectionLevel)
	}
	if u.Margin != nil && *u.Margin >= 0 {
		q.Margin = *u.Margin
	}
	if u.ZIndex != nil {
		q.ZIndex = *u.ZIndex
	}
	if u.Opacity != nil {
		q.Opacity = layout.Clamp(*u.Opacity, 0, 1)
	}
	return nil
}
