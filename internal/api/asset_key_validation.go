package api

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// 允许上传的图片类型及其扩展名。
var assetExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

func assetObjectKey(templateID uint, name, ext string) string {
	return fmt.Sprintf("assets/%d/%s%s", templateID, name, ext)
}

// isValidAssetObjectKey 只接受 assets/<templateID>/ 下的图片 key。
func isValidAssetObjectKey(key string) bool {
	if key == "" || !utf8.ValidString(key) || len(key) > 200 {
		return false
	}
	rest, ok := strings.CutPrefix(key, "assets/")
	if !ok {
		return false
	}
	dir, file, ok := strings.Cut(rest, "/")
	if !ok || dir == "" || file == "" || strings.Trim(dir, "0123456789") != "" {
		return false
	}
	if strings.Contains(key, "..") || strings.Contains(key, "\\") || strings.Contains(file, "/") {
		return false
	}
	lower := strings.ToLower(file)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".webp"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
