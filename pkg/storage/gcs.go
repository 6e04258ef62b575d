package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStore は Cloud Storage をオブジェクトストレージ兼 gs:// リーダーとして扱います。
type GCSStore struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
}

// NewGCSStore は GCSStore を初期化します。publicBaseURL が空の場合は storage.googleapis.com を使います。
func NewGCSStore(client *storage.Client, bucket, publicBaseURL string) (*GCSStore, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if publicBaseURL == "" {
		publicBaseURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCSStore{client: client, bucket: bucket, publicBaseURL: publicBaseURL}, nil
}

// NewGCSReader はアップロード先を持たず、gs:// の読み込みだけを行う GCSStore を返します。
func NewGCSReader(client *storage.Client) *GCSStore {
	return &GCSStore{client: client}
}

// Upload はデータを書き込み、公開 URL を返します。
func (s *GCSStore) Upload(ctx context.Context, data []byte, mimeType, prefix string) (string, error) {
	if s.bucket == "" {
		return "", fmt.Errorf("bucket is not configured")
	}
	name := ObjectName(prefix, mimeType)
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = mimeType
	w.CacheControl = "public, max-age=31536000"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close %s: %w", name, err)
	}
	return joinURL(s.publicBaseURL, name), nil
}

// Open は gs://bucket/object を読み込みます。
func (s *GCSStore) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs open %s: %w", uri, err)
	}
	return r, nil
}

// List は gs://bucket/prefix 配下のオブジェクトを gs:// URI として列挙します。
func (s *GCSStore) List(ctx context.Context, uri string, fn func(string) error) error {
	bucket, prefix, err := ParseGCSURI(uri)
	if err != nil {
		return err
	}
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn("gs://" + bucket + "/" + attrs.Name); err != nil {
			return err
		}
	}
}

// ParseGCSURI は gs://bucket/object をバケット名とオブジェクト名に分解します。
func ParseGCSURI(uri string) (bucket, object string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid gcs uri %q: %w", uri, err)
	}
	if u.Scheme != "gs" || u.Host == "" {
		return "", "", fmt.Errorf("invalid gcs uri %q", uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}
