// Package editor implements the interactive layout editor as a plain state
// struct. Every interaction (select, drag, resize, nudge, rename, add, delete,
// style) is a method that mutates the state or returns a validation error and
// leaves the state untouched, so it can be driven without any UI surface.
package editor

import (
	"context"
	"errors"
	"fmt"

	"certgen/internal/fonts"
	"certgen/internal/layout"
)

// Kind 区分图层类型。
type Kind string

const (
	KindText  Kind = "text"
	KindPhoto Kind = "photo"
	KindQR    Kind = "qr"
)

// LayerRef 唯一定位一个图层：命名空间 + 类型 + id。
type LayerRef struct {
	Namespace layout.Namespace `json:"namespace"`
	Kind      Kind             `json:"kind"`
	ID        string           `json:"id"`
}

func (r LayerRef) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Namespace, r.Kind, r.ID)
}

var (
	ErrLayerNotFound    = errors.New("layer not found")
	ErrRequiredLayer    = errors.New("required layer cannot be removed or renamed")
	ErrDuplicateID      = errors.New("layer id already in use")
	ErrNotRenaming      = errors.New("no layer is being renamed")
	ErrPointerCaptured  = errors.New("another pointer owns the current gesture")
	ErrUnknownNamespace = errors.New("unknown layout namespace")
	ErrInvalidZoom      = errors.New("zoom scale must be positive")
	ErrInvalidAlign     = errors.New("unsupported text alignment")
)

// ValidationError 是面向用户的非致命错误，返回它时编辑器状态不变。
type ValidationError struct {
	Op  string
	Ref LayerRef
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(op string, ref LayerRef, err error) error {
	return &ValidationError{Op: op, Ref: ref, Err: err}
}

// Measurer 测量文本在给定字体下的最长折行宽度。
type Measurer interface {
	MeasureBlock(spec fonts.Spec, text string, maxWidth float64) float64
}

// Store 持久化布局文档。
type Store interface {
	Save(ctx context.Context, templateID uint, cfg *layout.Config) error
}

// Editor 持有正在编辑的布局与交互状态。
type Editor struct {
	cfg      *layout.Config
	measurer Measurer
	zoom     float64

	selected *LayerRef
	gesture  *gesture
	renaming *LayerRef
}

// New 基于 cfg 的副本创建编辑器。
func New(cfg *layout.Config, measurer Measurer) *Editor {
	if cfg == nil {
		cfg = layout.New(layout.Canvas{})
	}
	return &Editor{
		cfg:      cfg.Clone(),
		measurer: measurer,
		zoom:     1,
	}
}

// Config returns the live document. Callers must not retain it across edits;
// use Snapshot for persistence.
func (e *Editor) Config() *layout.Config { return e.cfg }

// Snapshot 返回当前文档的深拷贝。
func (e *Editor) Snapshot() *layout.Config { return e.cfg.Clone() }

// Save 校验必需图层后整体保存。
func (e *Editor) Save(ctx context.Context, store Store, templateID uint) error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	return store.Save(ctx, templateID, e.Snapshot())
}

// Zoom returns the current display scale.
func (e *Editor) Zoom() float64 { return e.zoom }

// SetZoom 设置画布缩放；拖拽位移会除以该值换算回模板像素。
func (e *Editor) SetZoom(scale float64) error {
	if scale <= 0 {
		return ErrInvalidZoom
	}
	e.zoom = scale
	return nil
}

// SetCanvas 在底图尺寸变化时按百分比重新计算所有像素字段。
func (e *Editor) SetCanvas(c layout.Canvas) {
	e.cfg.Renormalize(c)
}

// Select 选中图层。
func (e *Editor) Select(ref LayerRef) error {
	if !e.exists(ref) {
		return invalid("select", ref, ErrLayerNotFound)
	}
	e.selected = &ref
	return nil
}

// ClickCanvas 点击空白画布：清除选中。
func (e *Editor) ClickCanvas() {
	e.selected = nil
}

// Selected returns the selected layer, if any.
func (e *Editor) Selected() (LayerRef, bool) {
	if e.selected == nil {
		return LayerRef{}, false
	}
	return *e.selected, true
}

func (e *Editor) set(ns layout.Namespace) (*layout.LayerSet, error) {
	if !ns.Valid() {
		return nil, ErrUnknownNamespace
	}
	return e.cfg.EnsureLayers(ns), nil
}

func (e *Editor) exists(ref LayerRef) bool {
	set := e.cfg.Layers(ref.Namespace)
	if set == nil {
		return false
	}
	switch ref.Kind {
	case KindText:
		_, ok := set.TextLayer(ref.ID)
		return ok
	case KindPhoto:
		_, ok := set.PhotoLayer(ref.ID)
		return ok
	case KindQR:
		_, ok := set.QRLayer(ref.ID)
		return ok
	}
	return false
}

func (e *Editor) textLayer(ref LayerRef) (*layout.TextLayer, error) {
	set := e.cfg.Layers(ref.Namespace)
	if set == nil || ref.Kind != KindText {
		return nil, ErrLayerNotFound
	}
	l, ok := set.TextLayer(ref.ID)
	if !ok {
		return nil, ErrLayerNotFound
	}
	return l, nil
}

func (e *Editor) photoLayer(ref LayerRef) (*layout.PhotoLayer, error) {
	set := e.cfg.Layers(ref.Namespace)
	if set == nil || ref.Kind != KindPhoto {
		return nil, ErrLayerNotFound
	}
	p, ok := set.PhotoLayer(ref.ID)
	if !ok {
		return nil, ErrLayerNotFound
	}
	return p, nil
}

func (e *Editor) qrLayer(ref LayerRef) (*layout.QRLayer, error) {
	set := e.cfg.Layers(ref.Namespace)
	if set == nil || ref.Kind != KindQR {
		return nil, ErrLayerNotFound
	}
	q, ok := set.QRLayer(ref.ID)
	if !ok {
		return nil, ErrLayerNotFound
	}
	return q, nil
}

func textSpec(l *layout.TextLayer) fonts.Spec {
	return fonts.SpecFor(l.FontFamily, l.FontSize, l.FontWeight, l.FontStyle)
}
