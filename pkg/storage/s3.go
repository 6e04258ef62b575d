package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API は S3Store が利用する S3 クライアントの部分集合です。
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store は S3 互換ストレージへのアップロードを行います。
type S3Store struct {
	client        S3API
	bucket        string
	publicBaseURL string
}

// NewS3Store は S3Store を初期化します。publicBaseURL が空の場合は仮想ホスト形式の URL を使います。
func NewS3Store(client S3API, bucket, region, publicBaseURL string) (*S3Store, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if publicBaseURL == "" {
		if region == "" {
			return nil, fmt.Errorf("region or publicBaseURL is required")
		}
		publicBaseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &S3Store{client: client, bucket: bucket, publicBaseURL: publicBaseURL}, nil
}

// Upload はデータを PutObject で書き込み、公開 URL を返します。
func (s *S3Store) Upload(ctx context.Context, data []byte, mimeType, prefix string) (string, error) {
	key := ObjectName(prefix, mimeType)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(mimeType),
		CacheControl: aws.String("public, max-age=31536000"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	return joinURL(s.publicBaseURL, key), nil
}
