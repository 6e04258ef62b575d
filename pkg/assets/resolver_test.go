package assets

import (
	"context"
	"encoding/base64"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/image-fallback-kit/pkg/domain"
	"github.com/shouni/image-fallback-kit/pkg/failure"
)

// PNGの最小構成バイナリ（シグネチャ含む）
var validPng = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00\x90w\x53\xde")

func TestNewResolver(t *testing.T) {
	_, err := NewResolver(nil, nil, nil, time.Minute)
	assert.Error(t, err, "httpClient は必須")
}

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("base64 はそのままデコードする", func(t *testing.T) {
		httpMock := &mockHTTPClient{}
		r, err := NewResolver(httpMock, nil, nil, time.Minute)
		require.NoError(t, err)

		p, err := r.Resolve(ctx, domain.Image{Base64: base64.StdEncoding.EncodeToString(validPng), MimeType: "image/png"})
		require.NoError(t, err)
		assert.Equal(t, validPng, p.Data)
		assert.Equal(t, "image/png", p.MimeType)
		assert.Zero(t, httpMock.calls)
	})

	t.Run("不正な base64 は ErrInvalidRequest", func(t *testing.T) {
		r, _ := NewResolver(&mockHTTPClient{}, nil, nil, time.Minute)
		_, err := r.Resolve(ctx, domain.Image{Base64: "%%%"})
		assert.ErrorIs(t, err, failure.ErrInvalidRequest)
	})

	t.Run("空の画像は ErrInvalidRequest", func(t *testing.T) {
		r, _ := NewResolver(&mockHTTPClient{}, nil, nil, time.Minute)
		_, err := r.Resolve(ctx, domain.Image{})
		assert.ErrorIs(t, err, failure.ErrInvalidRequest)
	})

	t.Run("URL はダウンロードしてキャッシュする", func(t *testing.T) {
		httpMock := &mockHTTPClient{data: validPng}
		cache := newMockCache()
		r, _ := NewResolver(httpMock, nil, cache, time.Hour)
		img := domain.Image{URL: "https://93.184.216.34/ref.png"}

		first, err := r.Resolve(ctx, img)
		require.NoError(t, err)
		second, err := r.Resolve(ctx, img)
		require.NoError(t, err)

		assert.Equal(t, 1, httpMock.calls, "2回目はキャッシュから取得する")
		assert.Equal(t, "image/png", first.MimeType)
		assert.Same(t, first, second)
	})

	t.Run("ループバックへの URL は拒否する", func(t *testing.T) {
		httpMock := &mockHTTPClient{data: validPng}
		r, _ := NewResolver(httpMock, nil, nil, time.Hour)

		_, err := r.Resolve(ctx, domain.Image{URL: "http://127.0.0.1/evil.png"})
		assert.ErrorIs(t, err, failure.ErrInvalidRequest)
		assert.Zero(t, httpMock.calls)
	})

	t.Run("画像でない内容は拒否する", func(t *testing.T) {
		r, _ := NewResolver(&mockHTTPClient{data: []byte("<html></html>")}, nil, nil, time.Hour)
		_, err := r.Resolve(ctx, domain.Image{URL: "https://93.184.216.34/page"})
		assert.ErrorIs(t, err, failure.ErrInvalidRequest)
	})

	t.Run("ダウンロード失敗は元のエラーを保持する", func(t *testing.T) {
		cause := errors.New("status 503")
		r, _ := NewResolver(&mockHTTPClient{err: cause}, nil, nil, time.Hour)
		_, err := r.Resolve(ctx, domain.Image{URL: "https://93.184.216.34/ref.png"})
		assert.ErrorIs(t, err, cause)
	})

	t.Run("gs:// は reader 経由で読み込む", func(t *testing.T) {
		httpMock := &mockHTTPClient{}
		r, _ := NewResolver(httpMock, &mockReader{data: validPng}, nil, time.Hour)

		p, err := r.Resolve(ctx, domain.Image{URL: "gs://bucket/ref.png"})
		require.NoError(t, err)
		assert.Equal(t, validPng, p.Data)
		assert.Zero(t, httpMock.calls)
	})

	t.Run("reader がない場合の gs:// は ErrInvalidRequest", func(t *testing.T) {
		r, _ := NewResolver(&mockHTTPClient{}, nil, nil, time.Hour)
		_, err := r.Resolve(ctx, domain.Image{URL: "gs://bucket/ref.png"})
		assert.ErrorIs(t, err, failure.ErrInvalidRequest)
	})
}

func TestCheckRemoteURL(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"パブリックIP", "https://93.184.216.34/favicon.ico", false},
		{"パブリックIPv6", "https://[2606:2800:220:1::]/a.png", false},
		{"不正なスキーム", "gopher://93.184.216.34", true},
		{"GCSスキームはHTTP取得の対象外", "gs://my-bucket/path/to/image.png", true},
		{"ループバック", "http://127.0.0.1/admin", true},
		{"IPv4射影のループバック", "http://[::ffff:127.0.0.1]/admin", true},
		{"プライベートIP (クラスA)", "http://10.255.255.254/metadata", true},
		{"リンクローカル", "http://169.254.169.254/latest/meta-data", true},
		{"CGNAT", "http://100.100.1.1/", true},
		{"未指定アドレス", "http://0.0.0.0/", true},
		{"パースできないURL", "::not a url", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckRemoteURL(ctx, tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsafeURL)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckRemoteURL_Resolution(t *testing.T) {
	orig := lookupHost
	t.Cleanup(func() { lookupHost = orig })
	ctx := context.Background()

	t.Run("解決先に1つでも内部アドレスがあれば拒否するのだ", func(t *testing.T) {
		lookupHost = func(ctx context.Context, host string) ([]netip.Addr, error) {
			return []netip.Addr{netip.MustParseAddr("93.184.216.34"), netip.MustParseAddr("192.168.0.10")}, nil
		}
		assert.ErrorIs(t, CheckRemoteURL(ctx, "https://images.example.com/a.png"), ErrUnsafeURL)
	})

	t.Run("公開アドレスのみなら許可", func(t *testing.T) {
		lookupHost = func(ctx context.Context, host string) ([]netip.Addr, error) {
			return []netip.Addr{netip.MustParseAddr("93.184.216.34")}, nil
		}
		assert.NoError(t, CheckRemoteURL(ctx, "https://images.example.com/a.png"))
	})

	t.Run("名前解決の失敗は拒否", func(t *testing.T) {
		lookupHost = func(ctx context.Context, host string) ([]netip.Addr, error) {
			return nil, errors.New("no such host")
		}
		assert.ErrorIs(t, CheckRemoteURL(ctx, "https://nowhere.invalid/a.png"), ErrUnsafeURL)
	})
}
