package assets

import (
	"context"
	"time"
)

// HTTPClient は URL からデータを取得するためのインターフェースです。httpkit.Client が満たします。
type HTTPClient interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// Cacher は TTL 付きのキャッシュです。
type Cacher interface {
	// Get は、指定されたキーに紐づくアイテムを取得します。
	Get(key string) (any, bool)
	// Set は、指定されたキーと値、有効期限でアイテムを保存します。
	Set(key string, value any, d time.Duration)
}

// ObjectStore はバイト列を受け取り公開 URL を返すオブジェクトストレージです。
type ObjectStore interface {
	Upload(ctx context.Context, data []byte, mimeType, prefix string) (string, error)
}

const (
	cacheKeyReference = "ref:"
	cacheKeyUpload    = "upload:"
	// DefaultUploadConcurrency は1回のアダプター呼び出し内での同時アップロード数の上限です。
	DefaultUploadConcurrency = 4
)
