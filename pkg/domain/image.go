package domain

import (
	"errors"
	"strings"
)

// Operation はオーケストレーターが実行する処理の種類です。
type Operation string

const (
	OperationGenerate Operation = "generate"
	OperationEdit     Operation = "edit"
)

// ModelTier はプロバイダごとの品質/コストのバリアントです。
type ModelTier string

const (
	TierStandard ModelTier = "standard"
	TierPro      ModelTier = "pro"
)

// OrDefault は未指定の場合に standard を返します。
func (t ModelTier) OrDefault() ModelTier {
	if t == "" {
		return TierStandard
	}
	return t
}

// ImageSize は出力解像度の指定です。
type ImageSize string

const (
	Size1K ImageSize = "1K"
	Size2K ImageSize = "2K"
	Size4K ImageSize = "4K"
)

// OrDefault は未指定の場合に 1K を返します。
func (s ImageSize) OrDefault() ImageSize {
	if s == "" {
		return Size1K
	}
	return s
}

// Image はアップロード前の生の画像ペイロードです。
// Base64 と URL のどちらか一方を持ちます。URL は https:// または gs:// を受け付けます。
// 呼び出し側が所有し、アダプターは読み取りのみ行います。
type Image struct {
	Base64   string `json:"base64,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URL      string `json:"url,omitempty"`
}

// IsZero は画像が指定されていないかどうかを返します。
func (i *Image) IsZero() bool {
	return i == nil || (i.Base64 == "" && i.URL == "")
}

// GenerationRequest は単一の画像生成要求です。
type GenerationRequest struct {
	Prompt               string    `json:"prompt"`
	AspectRatio          string    `json:"aspectRatio"`
	ImageSize            ImageSize `json:"imageSize"`
	ProductImages        []Image   `json:"productImages,omitempty"`
	StyleReferenceImage  *Image    `json:"styleReferenceImage,omitempty"`
	PersonReferenceImage *Image    `json:"personReferenceImage,omitempty"`
	ModelTier            ModelTier `json:"modelTier,omitempty"`
}

// HasReferences は参照画像が1枚以上含まれているかを返します。
func (r GenerationRequest) HasReferences() bool {
	if !r.StyleReferenceImage.IsZero() || !r.PersonReferenceImage.IsZero() {
		return true
	}
	for i := range r.ProductImages {
		if !r.ProductImages[i].IsZero() {
			return true
		}
	}
	return false
}

// Validate は必須フィールドを検証します。
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrPromptRequired
	}
	switch r.ImageSize {
	case "", Size1K, Size2K, Size4K:
	default:
		return ErrInvalidImageSize
	}
	return validateTier(r.ModelTier)
}

// EditRequest は既存画像の編集要求です。
type EditRequest struct {
	Prompt         string    `json:"prompt"`
	ImageBase64    string    `json:"imageBase64"`
	MimeType       string    `json:"mimeType"`
	ReferenceImage *Image    `json:"referenceImage,omitempty"`
	ModelTier      ModelTier `json:"modelTier,omitempty"`
}

// SourceImage は編集対象を Image として返します。
func (r EditRequest) SourceImage() Image {
	return Image{Base64: r.ImageBase64, MimeType: r.MimeType}
}

// Validate は必須フィールドを検証します。
func (r EditRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrPromptRequired
	}
	if r.ImageBase64 == "" {
		return ErrSourceImageRequired
	}
	return validateTier(r.ModelTier)
}

func validateTier(t ModelTier) error {
	switch t {
	case "", TierStandard, TierPro:
		return nil
	default:
		return ErrInvalidModelTier
	}
}

var (
	ErrPromptRequired      = errors.New("prompt is required")
	ErrSourceImageRequired = errors.New("source image is required")
	ErrInvalidImageSize    = errors.New("imageSize must be one of 1K, 2K, 4K")
	ErrInvalidModelTier    = errors.New("modelTier must be standard or pro")
)

// ProviderResult はアダプターが返す正規化済みの結果です。
// ImageURL は data: URI か https:// URL のどちらかで、空になることはありません。
type ProviderResult struct {
	ImageURL  string `json:"imageUrl"`
	UsedModel string `json:"usedModel"`
}

// OrchestrationResult は ProviderResult に実際に使われたプロバイダ情報を加えたものです。
type OrchestrationResult struct {
	ProviderResult
	UsedProvider string `json:"usedProvider"`
	UsedFallback bool   `json:"usedFallback"`
}
