package render

import (
	"errors"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"
	qrcode "github.com/skip2/go-qrcode"

	"certgen/internal/layout"
)

var errEmptyQRData = errors.New("qr data is empty")

// recoveryLevel 映射 L/M/Q/H。
func recoveryLevel(level string) qrcode.RecoveryLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "L":
		return qrcode.Low
	case "Q":
		return qrcode.High
	case "H":
		return qrcode.Highest
	default:
		return qrcode.Medium
	}
}

// newQRCode 按图层配置构造不含静区的二维码；静区由 qrImage 按 margin 补上。
func newQRCode(data, level, fg, bg string) (*qrcode.QRCode, error) {
	if strings.TrimSpace(data) == "" {
		return nil, errEmptyQRData
	}
	q, err := qrcode.New(data, recoveryLevel(level))
	if err != nil {
		return nil, err
	}
	q.ForegroundColor = parseColor(fg, color.Black)
	q.BackgroundColor = parseColor(bg, color.White)
	q.DisableBorder = true
	return q, nil
}

// qrImage 在模块矩阵四周留出 margin 个模块宽的静区，再缩放到 size×size。
func qrImage(code *qrcode.QRCode, margin, size int) image.Image {
	margin = max(margin, 0)
	bitmap := code.Bitmap()
	total := len(bitmap) + 2*margin
	img := imaging.New(total, total, code.BackgroundColor)
	for y, row := range bitmap {
		for x, dark := range row {
			if dark {
				img.Set(x+margin, y+margin, code.ForegroundColor)
			}
		}
	}
	if total == size {
		return img
	}
	return imaging.Resize(img, size, size, imaging.NearestNeighbor)
}

func drawQR(dc *gg.Context, q layout.QRLayer, data string) error {
	size := int(math.Round(q.Width))
	if size <= 0 {
		return nil
	}
	code, err := newQRCode(data, q.ErrorCorrectionLevel, q.ForegroundColor, q.BackgroundColor)
	if err != nil {
		return err
	}
	place(dc, qrImage(code, q.Margin, size), q.X, q.Y, float64(size), float64(size), q.Rotation, q.Opacity)
	return nil
}

// parseColor 接受 #rgb/#rrggbb、transparent 以及 black/white，其余返回 fallback。
func parseColor(s string, fallback color.Color) color.Color {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return fallback
	case "transparent":
		return color.Transparent
	case "black":
		return color.Black
	case "white":
		return color.White
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return fallback
	}
	return c
}
