package layout

import "math"

// ToPercent converts an absolute pixel value into a fraction of dimension.
func ToPercent(pixel, dimension float64) float64 {
	if dimension <= 0 {
		return 0
	}
	return pixel / dimension
}

// ToPixel converts a fraction of dimension back into a rounded pixel value.
func ToPixel(percent, dimension float64) float64 {
	return math.Round(percent * dimension)
}

// Clamp 将 v 限制在 [lo, hi]。
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SetPosition 同时更新像素与百分比坐标。
func (l *TextLayer) SetPosition(x, y float64, c Canvas) {
	l.X, l.Y = x, y
	l.XPercent = ToPercent(x, float64(c.Width))
	l.YPercent = ToPercent(y, float64(c.Height))
}

// SetFontSize 同时更新字号与其占画布高度的比例。
func (l *TextLayer) SetFontSize(size float64, c Canvas) {
	l.FontSize = size
	l.FontSizePercent = ToPercent(size, float64(c.Height))
}

// Reconcile 以百分比为准重新计算像素字段。
func (l *TextLayer) Reconcile(c Canvas) {
	l.X = ToPixel(l.XPercent, float64(c.Width))
	l.Y = ToPixel(l.YPercent, float64(c.Height))
	if l.FontSizePercent > 0 {
		l.FontSize = ToPixel(l.FontSizePercent, float64(c.Height))
	}
}

// Renormalize 把图层从 old 画布迁移到 next 画布。
// 像素值总是由百分比重新计算；没有百分比字段的 MaxWidth 先按 old 求比例。
func (l *TextLayer) Renormalize(old, next Canvas) {
	if old.Width > 0 && l.MaxWidth > 0 {
		l.MaxWidth = ToPixel(ToPercent(l.MaxWidth, float64(old.Width)), float64(next.Width))
	}
	l.Reconcile(next)
}

// SetPosition 同时更新像素与百分比坐标。
func (p *PhotoLayer) SetPosition(x, y float64, c Canvas) {
	p.X, p.Y = x, y
	p.XPercent = ToPercent(x, float64(c.Width))
	p.YPercent = ToPercent(y, float64(c.Height))
}

// SetSize 同时更新像素与百分比尺寸。
func (p *PhotoLayer) SetSize(w, h float64, c Canvas) {
	p.Width, p.Height = w, h
	p.WidthPercent = ToPercent(w, float64(c.Width))
	p.HeightPercent = ToPercent(h, float64(c.Height))
}

// Reconcile 以百分比为准重新计算像素字段。
func (p *PhotoLayer) Reconcile(c Canvas) {
	p.X = ToPixel(p.XPercent, float64(c.Width))
	p.Y = ToPixel(p.YPercent, float64(c.Height))
	p.Width = ToPixel(p.WidthPercent, float64(c.Width))
	p.Height = ToPixel(p.HeightPercent, float64(c.Height))
}

// SetPosition 同时更新像素与百分比坐标。
func (q *QRLayer) SetPosition(x, y float64, c Canvas) {
	q.X, q.Y = x, y
	q.XPercent = ToPercent(x, float64(c.Width))
	q.YPercent = ToPercent(y, float64(c.Height))
}

// SetSize 设置边长；二维码总是正方形。
func (q *QRLayer) SetSize(size float64, c Canvas) {
	q.Width, q.Height = size, size
	q.WidthPercent = ToPercent(size, float64(c.Width))
	q.HeightPercent = ToPercent(size, float64(c.Height))
}

// Reconcile 以宽度百分比为准，高度跟随宽度。
func (q *QRLayer) Reconcile(c Canvas) {
	q.X = ToPixel(q.XPercent, float64(c.Width))
	q.Y = ToPixel(q.YPercent, float64(c.Height))
	size := ToPixel(q.WidthPercent, float64(c.Width))
	q.Width, q.Height = size, size
	q.HeightPercent = ToPercent(size, float64(c.Height))
}

// Reconcile 以百分比为准同步集合内所有图层的像素字段。
func (s *LayerSet) Reconcile(c Canvas) {
	for i := range s.TextLayers {
		s.TextLayers[i].Reconcile(c)
	}
	for i := range s.PhotoLayers {
		s.PhotoLayers[i].Reconcile(c)
	}
	for i := range s.QRLayers {
		s.QRLayers[i].Reconcile(c)
	}
}

func (s *LayerSet) renormalize(old, next Canvas) {
	for i := range s.TextLayers {
		s.TextLayers[i].Renormalize(old, next)
	}
	for i := range s.PhotoLayers {
		s.PhotoLayers[i].Reconcile(next)
	}
	for i := range s.QRLayers {
		s.QRLayers[i].Reconcile(next)
	}
}

// Renormalize 在底图像素尺寸变化时（例如重新加载了不同分辨率的模板图）
// 保持所有图层的相对位置。尺寸未变化时仅做一次同步。
func (c *Config) Renormalize(next Canvas) {
	if !next.Valid() {
		return
	}
	old := c.Canvas
	c.Certificate.renormalize(old, next)
	if c.Score != nil {
		c.Score.renormalize(old, next)
	}
	c.Canvas = next
}
