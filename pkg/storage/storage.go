package storage

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// ObjectName は prefix 配下に衝突しないオブジェクト名を生成します。
func ObjectName(prefix, mimeType string) string {
	ext, ok := extensions[strings.ToLower(mimeType)]
	if !ok {
		ext = ".bin"
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return uuid.NewString() + ext
	}
	return fmt.Sprintf("%s/%s%s", prefix, uuid.NewString(), ext)
}

func joinURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + name
}
