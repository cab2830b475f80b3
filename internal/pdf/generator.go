package pdf

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// CSS 像素与英寸的换算，Chromium 按 96 dpi 排版。
const cssDPI = 96.0

// Generator 在无头浏览器中把证书图片打印为单页 PDF。
type Generator struct {
	// Bin 为 Chromium 路径；为空时自动查找。
	Bin     string
	Timeout time.Duration
}

// FromPNG 把 width x height 像素的 PNG 铺满一页并导出 PDF。
func (g Generator) FromPNG(ctx context.Context, png []byte, width, height int) ([]byte, error) {
	if len(png) == 0 {
		return nil, fmt.Errorf("empty certificate image")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid page size %dx%d", width, height)
	}
	return g.fromHTML(ctx, pageHTML(png, width, height), float64(width)/cssDPI, float64(height)/cssDPI)
}

func pageHTML(png []byte, width, height int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<!DOCTYPE html><html><head><meta charset="utf-8"><style>`)
	fmt.Fprintf(&b, `@page{size:%dpx %dpx;margin:0}html,body{margin:0;padding:0}`, width, height)
	fmt.Fprintf(&b, `img{display:block;width:%dpx;height:%dpx}`, width, height)
	b.WriteString(`</style></head><body><img src="data:image/png;base64,`)
	b.WriteString(base64.StdEncoding.EncodeToString(png))
	b.WriteString(`"></body></html>`)
	return b.String()
}

func (g Generator) fromHTML(ctx context.Context, htmlContent string, widthIn, heightIn float64) ([]byte, error) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	launch := launcher.New().
		Context(ctx).
		Headless(true).
		NoSandbox(true)

	if g.Bin != "" {
		launch = launch.Bin(g.Bin)
	} else if path, ok := launcher.LookPath(); ok {
		launch = launch.Bin(path)
	}

	browserURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	defer launch.Cleanup()

	browser := rod.New().Context(ctx).ControlURL(browserURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer func() {
		_ = browser.Close()
	}()

	page, err := browser.Timeout(timeout).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() {
		_ = page.Close()
	}()

	page = page.Timeout(timeout)
	if err := page.SetDocumentContent(htmlContent); err != nil {
		return nil, fmt.Errorf("set document content: %w", err)
	}

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	zero := 0.0
	reader, err := page.PDF(&proto.PagePrintToPDF{
		PrintBackground:   true,
		PreferCSSPageSize: true,
		PaperWidth:        &widthIn,
		PaperHeight:       &heightIn,
		MarginTop:         &zero,
		MarginBottom:      &zero,
		MarginLeft:        &zero,
		MarginRight:       &zero,
	})
	if err != nil {
		return nil, fmt.Errorf("export pdf: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf bytes: %w", err)
	}

	return data, nil
}
