package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shouni/go-remote-io/pkg/remoteio"

	"github.com/shouni/image-fallback-kit/pkg/domain"
	"github.com/shouni/image-fallback-kit/pkg/failure"
	"github.com/shouni/image-fallback-kit/pkg/imgutil"
)

// Payload は解決済みの画像バイト列です。
type Payload struct {
	Data     []byte
	MimeType string
}

// Resolver は domain.Image を実際のバイト列に解決します。
// base64 はそのままデコードし、https は SSRF 対策後にダウンロード、gs:// は reader 経由で読み込みます。
type Resolver struct {
	httpClient HTTPClient
	reader     remoteio.InputReader
	cache      Cacher
	expiration time.Duration
}

// NewResolver は依存関係を注入して Resolver を初期化します。
// reader と cache は nil を許容します（gs:// 非対応、キャッシュなし動作）。
func NewResolver(httpClient HTTPClient, reader remoteio.InputReader, cache Cacher, cacheTTL time.Duration) (*Resolver, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("httpClient is required")
	}
	return &Resolver{
		httpClient: httpClient,
		reader:     reader,
		cache:      cache,
		expiration: cacheTTL,
	}, nil
}

// Resolve は画像をバイト列に変換します。
func (r *Resolver) Resolve(ctx context.Context, img domain.Image) (*Payload, error) {
	if img.Base64 != "" {
		data, mimeType, err := imgutil.DecodeBase64(img.Base64, img.MimeType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", failure.ErrInvalidRequest, err)
		}
		return &Payload{Data: data, MimeType: mimeType}, nil
	}
	if img.URL == "" {
		return nil, fmt.Errorf("%w: image has neither base64 nor url", failure.ErrInvalidRequest)
	}

	if r.cache != nil {
		if val, ok := r.cache.Get(cacheKeyReference + img.URL); ok {
			if p, ok := val.(*Payload); ok {
				return p, nil
			}
		}
	}

	data, err := r.fetch(ctx, img.URL)
	if err != nil {
		return nil, err
	}

	mimeType := img.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: reference is not an image (%s)", failure.ErrInvalidRequest, mimeType)
	}

	p := &Payload{Data: data, MimeType: mimeType}
	if r.cache != nil {
		r.cache.Set(cacheKeyReference+img.URL, p, r.expiration)
	}
	return p, nil
}

func (r *Resolver) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if strings.HasPrefix(rawURL, "gs://") {
		if r.reader == nil {
			return nil, fmt.Errorf("%w: gs:// references are not supported without a storage reader", failure.ErrInvalidRequest)
		}
		rc, err := r.reader.Open(ctx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("参照画像の読み込みに失敗しました (%s): %w", rawURL, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	if err := CheckRemoteURL(ctx, rawURL); err != nil {
		return nil, fmt.Errorf("%w: 安全ではないURLが指定されました: %v", failure.ErrInvalidRequest, err)
	}
	data, err := r.httpClient.FetchBytes(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("参照画像のダウンロードに失敗しました (%s): %w", rawURL, err)
	}
	return data, nil
}
