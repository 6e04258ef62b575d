package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shouni/image-fallback-kit/pkg/domain"
)

// Uploader は参照画像を HTTP で到達可能な URL に変換します。
// FAL や Replicate のように URL でしか画像を受け付けないプロバイダのために使います。
type Uploader struct {
	resolver    *Resolver
	store       ObjectStore
	cache       Cacher
	expiration  time.Duration
	concurrency int
}

// NewUploader は Uploader を初期化します。cache は nil を許容します。
func NewUploader(resolver *Resolver, store ObjectStore, cache Cacher, cacheTTL time.Duration) (*Uploader, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Uploader{
		resolver:    resolver,
		store:       store,
		cache:       cache,
		expiration:  cacheTTL,
		concurrency: DefaultUploadConcurrency,
	}, nil
}

// Upload は1枚の画像を公開 URL にします。
// https の URL はプロバイダから直接取得できるためそのまま返します。
// それ以外は内容の SHA-256 をキーに重複アップロードを避けます。
func (u *Uploader) Upload(ctx context.Context, img domain.Image, prefix string) (string, error) {
	if strings.HasPrefix(img.URL, "https://") && img.Base64 == "" {
		return img.URL, nil
	}

	p, err := u.resolver.Resolve(ctx, img)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(p.Data)
	key := cacheKeyUpload + hex.EncodeToString(sum[:])
	if u.cache != nil {
		if val, ok := u.cache.Get(key); ok {
			if url, ok := val.(string); ok {
				return url, nil
			}
		}
	}

	url, err := u.store.Upload(ctx, p.Data, p.MimeType, prefix)
	if err != nil {
		return "", fmt.Errorf("参照画像のアップロードに失敗しました: %w", err)
	}
	if url == "" {
		return "", fmt.Errorf("object store returned an empty url")
	}

	if u.cache != nil {
		u.cache.Set(key, url, u.expiration)
	}
	return url, nil
}

// UploadAll は複数の画像を並列にアップロードし、入力と同じ順序で URL を返します。
// いずれかが失敗した場合は残りをキャンセルしてエラーを返します。
func (u *Uploader) UploadAll(ctx context.Context, imgs []domain.Image, prefix string) ([]string, error) {
	urls := make([]string, len(imgs))
	if len(imgs) == 0 {
		return urls, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)
	for i := range imgs {
		g.Go(func() error {
			url, err := u.Upload(gctx, imgs[i], prefix)
			if err != nil {
				return err
			}
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "参照画像のアップロードが完了しました", "count", len(urls), "prefix", prefix)
	return urls, nil
}
