// Package render 把模板底图与已解析的文本、照片、二维码图层合成为一张位图。
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"math"
	"net/url"
	"sort"
	"strings"

	"github.com/fogleman/gg"

	"certgen/internal/fonts"
	"certgen/internal/imageload"
	"certgen/internal/layout"
	"certgen/internal/variables"
)

// CertificateURLPlaceholder 出现在二维码数据中，绘制时替换为校验链接。
const CertificateURLPlaceholder = "{{CERTIFICATE_URL}}"

var ErrNoBackground = errors.New("render: background image is required")

// Request 描述一面证书的绘制输入。Layout 为任务开始时的快照，Namespace 选择其中一面；
// 该面不存在时只输出底图。
type Request struct {
	Layout        *layout.Config
	Namespace     layout.Namespace
	Background    image.Image
	Texts         map[string]variables.Text
	Data          map[string]string
	CertificateNo string
}

// Renderer 负责合成。Images 用于加载照片图层。
type Renderer struct {
	Fonts   *fonts.Registry
	Images  imageload.Source
	BaseURL string
	Logger  *slog.Logger
}

func (r *Renderer) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// CertificateURL 返回 {base}/cek/{no}。
func CertificateURL(base, certificateNo string) string {
	return strings.TrimRight(base, "/") + "/cek/" + url.PathEscape(certificateNo)
}

// ResolveQRData 先替换 {{CERTIFICATE_URL}}，再替换普通 {token}。
func ResolveQRData(data, certificateURL string, tokens map[string]string) string {
	out := strings.ReplaceAll(data, CertificateURLPlaceholder, certificateURL)
	return variables.Substitute(out, tokens)
}

type drawOp struct {
	z     int
	order int
	kind  string
	id    string
	draw  func(dc *gg.Context) error
}

// Render 合成一面证书。绘制顺序：底图，照片与二维码按 zIndex 升序，最后是文本图层
// （按数组顺序）。不可见图层被跳过。照片或二维码单独失败时记录日志并跳过该图层。
func (r *Renderer) Render(ctx context.Context, req Request) (*image.RGBA, error) {
	if req.Background == nil {
		return nil, ErrNoBackground
	}
	bounds := req.Background.Bounds()
	canvas := layout.Canvas{Width: bounds.Dx(), Height: bounds.Dy()}

	dc := gg.NewContext(canvas.Width, canvas.Height)
	dc.DrawImage(req.Background, -bounds.Min.X, -bounds.Min.Y)

	var set *layout.LayerSet
	scales := map[string]float64{}
	if req.Layout != nil {
		cfg := req.Layout.Clone()
		if s := cfg.Layers(req.Namespace); s != nil {
			for _, l := range s.TextLayers {
				scales[l.ID] = l.FontSize
			}
		}
		cfg.Renormalize(canvas)
		cfg.Canvas = canvas
		set = cfg.Layers(req.Namespace)
		if set != nil {
			for _, l := range set.TextLayers {
				if before := scales[l.ID]; before > 0 && l.FontSize > 0 {
					scales[l.ID] = l.FontSize / before
				} else {
					scales[l.ID] = 1
				}
			}
		}
	}
	if set == nil {
		return rgba(dc), nil
	}

	ops := r.plan(ctx, set, req, scales)
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := op.draw(dc); err != nil {
			if op.kind == "text" {
				return nil, fmt.Errorf("draw text layer %s: %w", op.id, err)
			}
			r.logger().Warn("skip layer",
				slog.String("kind", op.kind),
				slog.String("layer", op.id),
				slog.Any("error", err),
			)
		}
	}
	return rgba(dc), nil
}

func (r *Renderer) plan(ctx context.Context, set *layout.LayerSet, req Request, scales map[string]float64) []drawOp {
	var ops []drawOp
	order := 0
	for _, p := range set.PhotoLayers {
		if !p.Visible {
			continue
		}
		ops = append(ops, drawOp{z: p.ZIndex, order: order, kind: "photo", id: p.ID, draw: func(dc *gg.Context) error {
			return r.drawPhoto(ctx, dc, p, req.Data)
		}})
		order++
	}
	certURL := CertificateURL(r.BaseURL, req.CertificateNo)
	for _, q := range set.QRLayers {
		if !q.Visible {
			continue
		}
		ops = append(ops, drawOp{z: q.ZIndex, order: order, kind: "qr", id: q.ID, draw: func(dc *gg.Context) error {
			return drawQR(dc, q, ResolveQRData(q.QRData, certURL, req.Data))
		}})
		order++
	}
	for _, l := range set.TextLayers {
		if !l.Visible {
			continue
		}
		text, ok := req.Texts[l.ID]
		if !ok || text.IsEmpty() {
			continue
		}
		scale := scales[l.ID]
		ops = append(ops, drawOp{z: math.MaxInt, order: order, kind: "text", id: l.ID, draw: func(dc *gg.Context) error {
			return r.drawText(dc, l, text, scale)
		}})
		order++
	}
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].z != ops[j].z {
			return ops[i].z < ops[j].z
		}
		return ops[i].order < ops[j].order
	})
	return ops
}

func rgba(dc *gg.Context) *image.RGBA {
	if img, ok := dc.Image().(*image.RGBA); ok {
		return img
	}
	src := dc.Image()
	out := image.NewRGBA(src.Bounds())
	draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Src)
	return out
}
