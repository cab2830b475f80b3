package editor

import (
	"math"
	"strings"

	"certgen/internal/layout"
)

// Handle 标识按下的缩放手柄；HandleNone 表示拖拽图层本身。
type Handle string

const (
	HandleNone Handle = ""
	HandleN    Handle = "n"
	HandleS    Handle = "s"
	HandleE    Handle = "e"
	HandleW    Handle = "w"
	HandleNE   Handle = "ne"
	HandleNW   Handle = "nw"
	HandleSE   Handle = "se"
	HandleSW   Handle = "sw"
)

func (h Handle) horizontal() int {
	switch {
	case strings.Contains(string(h), "e"):
		return 1
	case strings.Contains(string(h), "w"):
		return -1
	}
	return 0
}

func (h Handle) vertical() int {
	switch {
	case strings.Contains(string(h), "s"):
		return 1
	case strings.Contains(string(h), "n"):
		return -1
	}
	return 0
}

const (
	MinMaxWidth  = 10.0
	MinPhotoSize = 10.0
	MinQRSize    = 50.0

	// 二维码最大边长占较短画布边的比例。
	maxQRFraction = 0.8
)

type point struct{ x, y float64 }

// gesture 记录一次被捕获的指针交互；捕获期间只有同一 pointer 的事件生效。
type gesture struct {
	pointerID int
	ref       LayerRef
	handle    Handle
	start     point
	moved     bool

	startX, startY  float64
	startW, startH  float64
	startMaxWidth   float64
	startLineHeight float64
	startFontSize   float64
	aspect          float64
}

// Dragging reports whether a drag has moved at least once and is still captured.
func (e *Editor) Dragging() bool {
	return e.gesture != nil && e.gesture.handle == HandleNone && e.gesture.moved
}

// Resizing reports whether a resize gesture is captured.
func (e *Editor) Resizing() bool {
	return e.gesture != nil && e.gesture.handle != HandleNone
}

// PointerDown 在图层（或其手柄）上按下指针：选中图层并捕获该指针。
func (e *Editor) PointerDown(pointerID int, ref LayerRef, handle Handle, x, y float64) error {
	if e.gesture != nil {
		return ErrPointerCaptured
	}
	if !e.exists(ref) {
		return invalid("pointer down", ref, ErrLayerNotFound)
	}
	g := &gesture{pointerID: pointerID, ref: ref, handle: handle, start: point{x, y}}

	switch ref.Kind {
	case KindText:
		l, _ := e.textLayer(ref)
		g.startX, g.startY = l.X, l.Y
		g.startMaxWidth, g.startLineHeight, g.startFontSize = l.MaxWidth, l.LineHeight, l.FontSize
	case KindPhoto:
		p, _ := e.photoLayer(ref)
		g.startX, g.startY = p.X, p.Y
		g.startW, g.startH = p.Width, p.Height
		g.aspect = photoAspect(p)
	case KindQR:
		q, _ := e.qrLayer(ref)
		g.startX, g.startY = q.X, q.Y
		g.startW, g.startH = q.Width, q.Height
	}

	e.selected = &ref
	e.gesture = g
	return nil
}

// PointerMove 只处理捕获指针的移动事件，其他指针被忽略。
func (e *Editor) PointerMove(pointerID int, x, y float64) bool {
	g := e.gesture
	if g == nil || g.pointerID != pointerID {
		return false
	}
	dx := (x - g.start.x) / e.zoom
	dy := (y - g.start.y) / e.zoom
	g.moved = true

	if g.handle == HandleNone {
		e.drag(g, dx, dy)
		return true
	}
	switch g.ref.Kind {
	case KindText:
		e.resizeText(g, dx, dy)
	case KindPhoto:
		e.resizePhoto(g, dx, dy)
	case KindQR:
		e.resizeQR(g, dx, dy)
	}
	return true
}

// PointerUp 结束捕获。
func (e *Editor) PointerUp(pointerID int) bool {
	if e.gesture == nil || e.gesture.pointerID != pointerID {
		return false
	}
	e.gesture = nil
	return true
}

func (e *Editor) drag(g *gesture, dx, dy float64) {
	c := e.cfg.Canvas
	x := layout.Clamp(g.startX+dx, 0, float64(c.Width))
	y := layout.Clamp(g.startY+dy, 0, float64(c.Height))

	switch g.ref.Kind {
	case KindText:
		if l, err := e.textLayer(g.ref); err == nil {
			l.SetPosition(x, y, c)
		}
	case KindPhoto:
		if p, err := e.photoLayer(g.ref); err == nil {
			p.SetPosition(x, y, c)
		}
	case KindQR:
		if q, err := e.qrLayer(g.ref); err == nil {
			q.SetPosition(x, y, c)
		}
	}
}

// resizeText 水平手柄改变 maxWidth，垂直手柄改变 lineHeight，角手柄两者都改。
func (e *Editor) resizeText(g *gesture, dx, dy float64) {
	l, err := e.textLayer(g.ref)
	if err != nil {
		return
	}
	if h := g.handle.horizontal(); h != 0 {
		l.MaxWidth = math.Max(MinMaxWidth, g.startMaxWidth+float64(h)*dx)
	}
	if v := g.handle.vertical(); v != 0 && g.startFontSize > 0 {
		target := g.startFontSize*g.startLineHeight + float64(v)*dy
		l.LineHeight = layout.Clamp(target/g.startFontSize, layout.MinLineHeight, layout.MaxLineHeight)
	}
}

func (e *Editor) resizePhoto(g *gesture, dx, dy float64) {
	p, err := e.photoLayer(g.ref)
	if err != nil {
		return
	}
	h, v := g.handle.horizontal(), g.handle.vertical()
	w := g.startW
	ht := g.startH
	if h != 0 {
		w = math.Max(MinPhotoSize, g.startW+float64(h)*dx)
	}
	if v != 0 {
		ht = math.Max(MinPhotoSize, g.startH+float64(v)*dy)
	}
	if p.MaintainAspectRatio && g.aspect > 0 {
		if h != 0 {
			ht = w / g.aspect
		} else {
			w = ht * g.aspect
		}
	}

	// 左/上手柄保持对边不动。
	x, y := g.startX, g.startY
	if h < 0 {
		x = g.startX + g.startW - w
	}
	if v < 0 {
		y = g.startY + g.startH - ht
	}
	c := e.cfg.Canvas
	p.SetPosition(layout.Clamp(x, 0, float64(c.Width)), layout.Clamp(y, 0, float64(c.Height)), c)
	p.SetSize(w, ht, c)
}

// resizeQR 宽高同步变化，并限制在 [MinQRSize, 较短画布边的 80%]。
func (e *Editor) resizeQR(g *gesture, dx, dy float64) {
	q, err := e.qrLayer(g.ref)
	if err != nil {
		return
	}
	h, v := float64(g.handle.horizontal()), float64(g.handle.vertical())
	var delta float64
	switch {
	case h != 0 && v != 0:
		delta = (h*dx + v*dy) / 2
	case h != 0:
		delta = h * dx
	default:
		delta = v * dy
	}
	c := e.cfg.Canvas
	upper := maxQRFraction * math.Min(float64(c.Width), float64(c.Height))
	lower := math.Min(MinQRSize, upper)
	q.SetSize(math.Round(layout.Clamp(g.startW+delta, lower, upper)), c)
}

func photoAspect(p *layout.PhotoLayer) float64 {
	if p.OriginalWidth > 0 && p.OriginalHeight > 0 {
		return float64(p.OriginalWidth) / float64(p.OriginalHeight)
	}
	if p.Width > 0 && p.Height > 0 {
		return p.Width / p.Height
	}
	return 0
}

// Key 是方向键。
type Key string

const (
	KeyUp    Key = "ArrowUp"
	KeyDown  Key = "ArrowDown"
	KeyLeft  Key = "ArrowLeft"
	KeyRight Key = "ArrowRight"
)

// Modifiers 决定微调步长：Shift 为 10px，Alt 为 0.1px，否则 1px。
type Modifiers struct {
	Shift bool
	Alt   bool
}

func (m Modifiers) step() float64 {
	switch {
	case m.Shift:
		return 10
	case m.Alt:
		return 0.1
	}
	return 1
}

// Nudge 用方向键移动选中的图层；焦点在文本输入框内时忽略。
func (e *Editor) Nudge(key Key, mods Modifiers, focusInTextInput bool) bool {
	if focusInTextInput || e.selected == nil {
		return false
	}
	var dx, dy float64
	step := mods.step()
	switch key {
	case KeyUp:
		dy = -step
	case KeyDown:
		dy = step
	case KeyLeft:
		dx = -step
	case KeyRight:
		dx = step
	default:
		return false
	}

	ref := *e.selected
	c := e.cfg.Canvas
	move := func(x, y float64) (float64, float64) {
		return layout.Clamp(x+dx, 0, float64(c.Width)), layout.Clamp(y+dy, 0, float64(c.Height))
	}
	switch ref.Kind {
	case KindText:
		l, err := e.textLayer(ref)
		if err != nil {
			return false
		}
		x, y := move(l.X, l.Y)
		l.SetPosition(x, y, c)
	case KindPhoto:
		p, err := e.photoLayer(ref)
		if err != nil {
			return false
		}
		x, y := move(p.X, p.Y)
		p.SetPosition(x, y, c)
	case KindQR:
		q, err := e.qrLayer(ref)
		if err != nil {
			return false
		}
		x, y := move(q.X, q.Y)
		q.SetPosition(x, y, c)
	default:
		return false
	}
	return true
}
