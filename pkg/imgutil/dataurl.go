package imgutil

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrNotDataURL = errors.New("not a base64 data URL")

// ToDataURL はバイト列を data: URI に変換します。
func ToDataURL(data []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURL は base64 形式の data: URI をデコードします。
func ParseDataURL(s string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, "", ErrNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, "", ErrNotDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("data URL のデコードに失敗しました: %w", err)
	}
	return data, strings.TrimSuffix(meta, ";base64"), nil
}

// DecodeBase64 は素の base64 文字列、または data: URI を受け付けてデコードします。
// MIME タイプが分からない場合は内容から推定します。
func DecodeBase64(s, mimeType string) ([]byte, string, error) {
	if strings.HasPrefix(s, "data:") {
		data, mt, err := ParseDataURL(s)
		if err != nil {
			return nil, "", err
		}
		if mimeType == "" {
			mimeType = mt
		}
		return data, mimeType, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, "", fmt.Errorf("base64 のデコードに失敗しました: %w", err)
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}
