package render

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"certgen/internal/layout"
	"certgen/internal/variables"
)

var errNoImageSource = errors.New("no image source configured")

// drawPhoto 加载照片，依次做裁剪、适配、遮罩、旋转，最后按不透明度贴到画布。
// src 中的 {token} 会被替换，便于按接收人取照片。
func (r *Renderer) drawPhoto(ctx context.Context, dc *gg.Context, p layout.PhotoLayer, data map[string]string) error {
	if r.Images == nil {
		return errNoImageSource
	}
	w, h := int(math.Round(p.Width)), int(math.Round(p.Height))
	if w <= 0 || h <= 0 {
		return nil
	}
	src := variables.Substitute(p.Source(), data)
	img, err := r.Images.Load(ctx, src)
	if err != nil {
		return err
	}

	img = cropFraction(img, p.Crop)
	img = fit(img, w, h, p.FitMode)
	if p.Mask != nil {
		img = applyMask(img, p.Mask)
	}
	place(dc, img, p.X, p.Y, float64(w), float64(h), p.Rotation, p.Opacity)
	return nil
}

func cropFraction(img image.Image, c *layout.Crop) image.Image {
	if c == nil || c.Width <= 0 || c.Height <= 0 {
		return img
	}
	b := img.Bounds()
	iw, ih := float64(b.Dx()), float64(b.Dy())
	rect := image.Rect(
		b.Min.X+int(math.Round(c.X*iw)),
		b.Min.Y+int(math.Round(c.Y*ih)),
		b.Min.X+int(math.Round((c.X+c.Width)*iw)),
		b.Min.Y+int(math.Round((c.Y+c.Height)*ih)),
	).Intersect(b)
	if rect.Empty() {
		return img
	}
	return imaging.Crop(img, rect)
}

// fit 按 CSS object-fit 的语义把图片放进 w×h：cover 裁剪填满，contain 等比缩放后居中留白，
// fill 与 stretch 拉伸。
func fit(img image.Image, w, h int, mode layout.FitMode) image.Image {
	switch mode {
	case layout.FitContain:
		b := img.Bounds()
		scale := math.Min(float64(w)/float64(b.Dx()), float64(h)/float64(b.Dy()))
		rw := max(1, int(math.Round(float64(b.Dx())*scale)))
		rh := max(1, int(math.Round(float64(b.Dy())*scale)))
		resized := imaging.Resize(img, rw, rh, imaging.Lanczos)
		return imaging.PasteCenter(imaging.New(w, h, color.Transparent), resized)
	case layout.FitFill, layout.FitStretch:
		return imaging.Resize(img, w, h, imaging.Lanczos)
	default:
		return imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
	}
}

// applyMask 支持 circle 与 rounded 两种遮罩，其余类型原样返回。
func applyMask(img image.Image, m *layout.Mask) image.Image {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	mc := gg.NewContext(b.Dx(), b.Dy())
	switch strings.ToLower(m.Type) {
	case "circle", "ellipse":
		mc.DrawEllipse(w/2, h/2, w/2, h/2)
	case "rounded":
		radius := m.Radius
		if radius <= 0 {
			radius = math.Min(w, h) / 10
		}
		mc.DrawRoundedRectangle(0, 0, w, h, radius)
	default:
		return img
	}
	mc.Clip()
	mc.DrawImage(img, -b.Min.X, -b.Min.Y)
	return mc.Image()
}

// place 把 img 画在左上角 (x, y)、尺寸 w×h 的矩形中；旋转围绕矩形中心顺时针进行。
func place(dc *gg.Context, img image.Image, x, y, w, h, rotation, opacity float64) {
	if opacity <= 0 {
		return
	}
	cx, cy := x+w/2, y+h/2
	if rotation != 0 {
		img = imaging.Rotate(img, -rotation, color.Transparent)
	}
	b := img.Bounds()
	at := image.Pt(int(math.Round(cx-float64(b.Dx())/2)), int(math.Round(cy-float64(b.Dy())/2)))
	if opacity >= 1 {
		dc.DrawImage(img, at.X-b.Min.X, at.Y-b.Min.Y)
		return
	}
	dst := rgba(dc)
	mask := image.NewUniform(color.Alpha{A: uint8(math.Round(opacity * 255))})
	rect := image.Rectangle{Min: at, Max: at.Add(b.Size())}
	draw.DrawMask(dst, rect, img, b.Min, mask, image.Point{}, draw.Over)
}
