package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/shouni/image-fallback-kit/pkg/domain"
	"github.com/shouni/image-fallback-kit/pkg/failure"
)

// 認識するプロバイダ名です。
const (
	Gemini    = "gemini"
	Replicate = "replicate"
	FAL       = "fal"
)

// Known は認識するプロバイダの一覧です。
var Known = []string{Gemini, Replicate, FAL}

// IsKnown は name が認識されたプロバイダかどうかを返します。
func IsKnown(name string) bool {
	for _, k := range Known {
		if k == name {
			return true
		}
	}
	return false
}

// Adapter はプロバイダごとの差異を吸収する統一インターフェースです。
// 画像を得られなかった場合は必ずエラーを返し、空の結果を返してはいけません。
type Adapter interface {
	Name() string
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.ProviderResult, error)
	Edit(ctx context.Context, req domain.EditRequest) (*domain.ProviderResult, error)
}

// ImageUploader は参照画像をプロバイダが取得できる公開 URL に変換します。*assets.Uploader が満たします。
type ImageUploader interface {
	UploadAll(ctx context.Context, imgs []domain.Image, prefix string) ([]string, error)
}

const (
	MaxProductImagesStandard = 3
	MaxProductImagesPro      = 14
)

// MaxProductImages はティアごとの商品画像の上限です。
func MaxProductImages(tier domain.ModelTier) int {
	if tier.OrDefault() == domain.TierPro {
		return MaxProductImagesPro
	}
	return MaxProductImagesStandard
}

// ReferenceImages は人物、スタイル、商品の順に参照画像を並べます。
// 空の画像は除外し、商品画像は maxProducts 枚に黙って切り詰めます。
func ReferenceImages(req domain.GenerationRequest, maxProducts int) []domain.Image {
	var out []domain.Image
	if !req.PersonReferenceImage.IsZero() {
		out = append(out, *req.PersonReferenceImage)
	}
	if !req.StyleReferenceImage.IsZero() {
		out = append(out, *req.StyleReferenceImage)
	}
	products := 0
	for i := range req.ProductImages {
		if products >= maxProducts {
			break
		}
		if req.ProductImages[i].IsZero() {
			continue
		}
		out = append(out, req.ProductImages[i])
		products++
	}
	return out
}

// CheckResult は結果が data: URI か http(s) URL であることを確認します。
func CheckResult(provider string, r *domain.ProviderResult) (*domain.ProviderResult, error) {
	if r == nil || r.ImageURL == "" {
		return nil, fmt.Errorf("%s: %w", provider, failure.ErrNoImage)
	}
	u := r.ImageURL
	if !strings.HasPrefix(u, "data:image/") && !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "http://") {
		return nil, fmt.Errorf("%s: %w: unexpected image location", provider, failure.ErrNoImage)
	}
	return r, nil
}
