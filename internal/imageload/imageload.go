// Package imageload 从 http(s) 地址或对象存储读取图片。
package imageload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// DefaultMaxBytes 限制单张图片的下载大小。
const DefaultMaxBytes = 20 << 20

var (
	ErrEmptySource = errors.New("image source is empty")
	ErrTooLarge    = errors.New("image exceeds size limit")
)

// ObjectOpener 读取对象存储中的 key。
type ObjectOpener interface {
	Open(ctx context.Context, objectKey string) (io.ReadCloser, error)
}

// HTTPStatusError 表示远端返回了非 200 状态码。
type HTTPStatusError struct {
	URL    string
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
}

// Loader 按来源类型取图：http(s) 走 HTTP，其余视为对象存储 key。
type Loader struct {
	HTTP     *http.Client
	Objects  ObjectOpener
	MaxBytes int64
}

// New 返回带 10 秒超时 HTTP 客户端的 Loader。
func New(objects ObjectOpener) *Loader {
	return &Loader{
		HTTP:     &http.Client{Timeout: 10 * time.Second},
		Objects:  objects,
		MaxBytes: DefaultMaxBytes,
	}
}

// Fetch 返回原始字节。
func (l *Loader) Fetch(ctx context.Context, src string) ([]byte, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, ErrEmptySource
	}
	if isRemote(src) {
		return l.fetchHTTP(ctx, src)
	}
	if l.Objects == nil {
		return nil, fmt.Errorf("no object store configured for %q", src)
	}
	rc, err := l.Objects.Open(ctx, strings.TrimLeft(src, "/"))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return l.readAll(rc, src)
}

func (l *Loader) fetchHTTP(ctx context.Context, src string) ([]byte, error) {
	client := l.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", src, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{URL: src, Status: resp.StatusCode}
	}
	return l.readAll(resp.Body, src)
}

func (l *Loader) readAll(r io.Reader, src string) ([]byte, error) {
	limit := l.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s: %w", src, ErrTooLarge)
	}
	return data, nil
}

// Load 解码图片并按 EXIF 方向校正。
func (l *Loader) Load(ctx context.Context, src string) (image.Image, error) {
	data, err := l.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", src, err)
	}
	return img, nil
}

// Dimensions 只解析图片头，返回自然像素尺寸。
func (l *Loader) Dimensions(ctx context.Context, src string) (int, int, error) {
	data, err := l.Fetch(ctx, src)
	if err != nil {
		return 0, 0, err
	}
	return DecodeDimensions(data)
}

// DecodeDimensions 解析已读入内存的图片头。
func DecodeDimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

func isRemote(src string) bool {
	lower := strings.ToLower(src)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Source 是渲染器依赖的取图接口。
type Source interface {
	Load(ctx context.Context, src string) (image.Image, error)
}

// Cache 复用已解码的图片，底图与共用照片只下载一次。失败结果不缓存。
// 条目数达到 limit 时整体清空。
type Cache struct {
	next  Source
	limit int
	mu    sync.Mutex
	imgs  map[string]image.Image
}

// NewCache wraps next; limit <= 0 means DefaultCacheEntries.
func NewCache(next Source, limit int) *Cache {
	if limit <= 0 {
		limit = DefaultCacheEntries
	}
	return &Cache{next: next, limit: limit, imgs: map[string]image.Image{}}
}

// DefaultCacheEntries bounds a Cache created without an explicit limit.
const DefaultCacheEntries = 64

func (c *Cache) Load(ctx context.Context, src string) (image.Image, error) {
	c.mu.Lock()
	img, ok := c.imgs[src]
	c.mu.Unlock()
	if ok {
		return img, nil
	}
	img, err := c.next.Load(ctx, src)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if len(c.imgs) >= c.limit {
		clear(c.imgs)
	}
	c.imgs[src] = img
	c.mu.Unlock()
	return img, nil
}
