package fal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shouni/image-fallback-kit/pkg/domain"
	"github.com/shouni/image-fallback-kit/pkg/failure"
	"github.com/shouni/image-fallback-kit/pkg/providers"
	"github.com/shouni/image-fallback-kit/pkg/retry"
)

const (
	DefaultBaseURL       = "https://fal.run"
	DefaultStandardModel = "fal-ai/gemini-25-flash-image"
	DefaultProModel      = "fal-ai/gemini-3-pro-image-preview"

	uploadPrefix = "fal-refs"
)

// Config は FAL アダプターの設定です。
type Config struct {
	APIKey        string
	BaseURL       string
	StandardModel string
	ProModel      string
	// Retry はローカル再試行の方針です。ゼロ値の場合は再試行しません。
	Retry retry.Policy
}

// Adapter は fal.run の同期エンドポイントを呼び出します。
// 参照画像は事前にアップロードし、URL で渡します。
type Adapter struct {
	client   providers.HTTPDoer
	uploader providers.ImageUploader
	cfg      Config
}

type request struct {
	Prompt      string   `json:"prompt"`
	NumImages   int      `json:"num_images"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
	Resolution  string   `json:"resolution,omitempty"`
	ImageURLs   []string `json:"image_urls,omitempty"`
	Format      string   `json:"output_format"`
}

type response struct {
	Images []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"images"`
	Description string `json:"description"`
}

// New は Adapter を初期化します。
func New(client providers.HTTPDoer, uploader providers.ImageUploader, cfg Config) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if uploader == nil {
		return nil, fmt.Errorf("uploader is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.StandardModel == "" {
		cfg.StandardModel = DefaultStandardModel
	}
	if cfg.ProModel == "" {
		cfg.ProModel = DefaultProModel
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.SingleAttempt()
	}
	cfg.Retry.Name = providers.FAL
	return &Adapter{client: client, uploader: uploader, cfg: cfg}, nil
}

func (a *Adapter) Name() string { return providers.FAL }

func (a *Adapter) model(tier domain.ModelTier) string {
	if tier.OrDefault() == domain.TierPro {
		return a.cfg.ProModel
	}
	return a.cfg.StandardModel
}

// Generate は参照画像がなければ生成エンドポイントを、あれば編集エンドポイントを呼び出します。
func (a *Adapter) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.ProviderResult, error) {
	tier := req.ModelTier.OrDefault()
	model := a.model(tier)

	refs := providers.ReferenceImages(req, providers.MaxProductImages(tier))
	body := request{
		Prompt:      req.Prompt,
		NumImages:   1,
		AspectRatio: req.AspectRatio,
		Format:      "png",
	}
	if tier == domain.TierPro {
		body.Resolution = string(req.ImageSize.OrDefault())
	}

	endpoint := model
	if len(refs) > 0 {
		urls, err := a.uploader.UploadAll(ctx, refs, uploadPrefix)
		if err != nil {
			return nil, failure.Wrap(providers.FAL, err)
		}
		body.ImageURLs = urls
		endpoint = model + "/edit"
	}

	slog.InfoContext(ctx, "FAL画像生成リクエスト", "endpoint", endpoint, "ref_count", len(refs))
	return a.call(ctx, model, endpoint, body)
}

// Edit は元画像と任意の参照画像をアップロードして編集エンドポイントを呼び出します。
func (a *Adapter) Edit(ctx context.Context, req domain.EditRequest) (*domain.ProviderResult, error) {
	model := a.model(req.ModelTier)

	imgs := []domain.Image{req.SourceImage()}
	if !req.ReferenceImage.IsZero() {
		imgs = append(imgs, *req.ReferenceImage)
	}
	urls, err := a.uploader.UploadAll(ctx, imgs, uploadPrefix)
	if err != nil {
		return nil, failure.Wrap(providers.FAL, err)
	}

	endpoint := model + "/edit"
	slog.InfoContext(ctx, "FAL画像編集リクエスト", "endpoint", endpoint, "ref_count", len(urls))
	return a.call(ctx, model, endpoint, request{
		Prompt:    req.Prompt,
		NumImages: 1,
		ImageURLs: urls,
		Format:    "png",
	})
}

func (a *Adapter) call(ctx context.Context, model, endpoint string, body request) (*domain.ProviderResult, error) {
	headers := map[string]string{"Authorization": "Key " + a.cfg.APIKey}
	url := a.cfg.BaseURL + "/" + endpoint

	resp, err := retry.Do(ctx, a.cfg.Retry, func(ctx context.Context) (*response, error) {
		var out response
		if err := providers.DoJSON(ctx, a.client, providers.FAL, http.MethodPost, url, headers, body, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Images) == 0 || resp.Images[0].URL == "" {
		return nil, fmt.Errorf("%s: %w", providers.FAL, failure.ErrNoImage)
	}
	return providers.CheckResult(providers.FAL, &domain.ProviderResult{
		ImageURL:  resp.Images[0].URL,
		UsedModel: model,
	})
}
