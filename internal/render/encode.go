package render

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// DefaultThumbnailWidth 是缩略图的默认宽度。
const DefaultThumbnailWidth = 480

// EncodePNG 把合成结果编码为 PNG。
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail 等比缩小到 width 宽；原图更窄时原样返回。
func Thumbnail(img image.Image, width int) image.Image {
	if width <= 0 {
		width = DefaultThumbnailWidth
	}
	if img.Bounds().Dx() <= width {
		return img
	}
	return imaging.Resize(img, width, 0, imaging.Lanczos)
}

// EncodeThumbnail 生成 JPEG 缩略图。
func EncodeThumbnail(img image.Image, width int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, Thumbnail(img, width), imaging.JPEG, imaging.JPEGQuality(82)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
