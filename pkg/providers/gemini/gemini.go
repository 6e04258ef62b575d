package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/shouni/image-fallback-kit/pkg/assets"
	"github.com/shouni/image-fallback-kit/pkg/domain"
	"github.com/shouni/image-fallback-kit/pkg/failure"
	"github.com/shouni/image-fallback-kit/pkg/imgutil"
	"github.com/shouni/image-fallback-kit/pkg/providers"
	"github.com/shouni/image-fallback-kit/pkg/retry"
)

const (
	DefaultStandardModel = "gemini-2.5-flash-image"
	DefaultProModel      = "gemini-3-pro-image-preview"
	// DefaultCompressionQuality は参照画像を JPEG 圧縮する際の品質です。
	DefaultCompressionQuality = 75
)

// ImageResolver は参照画像をバイト列に解決します。*assets.Resolver が満たします。
type ImageResolver interface {
	Resolve(ctx context.Context, img domain.Image) (*assets.Payload, error)
}

// Config は Gemini アダプターの設定です。
type Config struct {
	StandardModel      string
	ProModel           string
	CompressReferences bool
	CompressionQuality int
	// Retry はローカル再試行の方針です。ゼロ値の場合は再試行しません。
	Retry retry.Policy
}

// Adapter は Gemini の画像生成モデルを providers.Adapter として扱います。
// 画像はインラインで送受信し、結果は data: URI で返します。
type Adapter struct {
	client   ContentGenerator
	resolver ImageResolver
	cfg      Config
}

// New は Adapter を初期化します。
func New(client ContentGenerator, resolver ImageResolver, cfg Config) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if cfg.StandardModel == "" {
		cfg.StandardModel = DefaultStandardModel
	}
	if cfg.ProModel == "" {
		cfg.ProModel = DefaultProModel
	}
	if cfg.CompressionQuality <= 0 {
		cfg.CompressionQuality = DefaultCompressionQuality
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.SingleAttempt()
	}
	cfg.Retry.Name = providers.Gemini
	return &Adapter{client: client, resolver: resolver, cfg: cfg}, nil
}

func (a *Adapter) Name() string { return providers.Gemini }

func (a *Adapter) model(tier domain.ModelTier) string {
	if tier.OrDefault() == domain.TierPro {
		return a.cfg.ProModel
	}
	return a.cfg.StandardModel
}

// Generate はプロンプトと参照画像（人物、スタイル、商品の順）から画像を生成します。
func (a *Adapter) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.ProviderResult, error) {
	tier := req.ModelTier.OrDefault()
	model := a.model(tier)

	refs := providers.ReferenceImages(req, providers.MaxProductImages(tier))
	parts := []*genai.Part{{Text: req.Prompt}}
	for _, ref := range refs {
		part, err := a.imagePart(ctx, ref)
		if err != nil {
			return nil, failure.Wrap(providers.Gemini, err)
		}
		parts = append(parts, part)
	}

	imgCfg := &genai.ImageConfig{AspectRatio: req.AspectRatio}
	// 出力解像度の指定は pro モデルのみが受け付ける。
	if tier == domain.TierPro {
		imgCfg.ImageSize = string(req.ImageSize.OrDefault())
	}

	slog.InfoContext(ctx, "Gemini画像生成リクエスト準備中", "model", model, "ref_count", len(refs))
	return a.execute(ctx, model, parts, imgCfg)
}

// Edit は元画像と任意の参照画像を渡して画像を編集します。
func (a *Adapter) Edit(ctx context.Context, req domain.EditRequest) (*domain.ProviderResult, error) {
	model := a.model(req.ModelTier)

	source, err := a.imagePart(ctx, req.SourceImage())
	if err != nil {
		return nil, failure.Wrap(providers.Gemini, err)
	}
	parts := []*genai.Part{{Text: req.Prompt}, source}
	if !req.ReferenceImage.IsZero() {
		ref, err := a.imagePart(ctx, *req.ReferenceImage)
		if err != nil {
			return nil, failure.Wrap(providers.Gemini, err)
		}
		parts = append(parts, ref)
	}

	slog.InfoContext(ctx, "Gemini画像編集リクエスト準備中", "model", model, "has_reference", !req.ReferenceImage.IsZero())
	return a.execute(ctx, model, parts, nil)
}

func (a *Adapter) execute(ctx context.Context, model string, parts []*genai.Part, imgCfg *genai.ImageConfig) (*domain.ProviderResult, error) {
	contents := []*genai.Content{{Role: "user", Parts: parts}}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
		ImageConfig:        imgCfg,
	}

	out, err := retry.Do(ctx, a.cfg.Retry, func(ctx context.Context) (*ImageOutput, error) {
		resp, err := a.client.GenerateContent(ctx, model, contents, config)
		if err != nil {
			return nil, failure.Wrap(providers.Gemini, err)
		}
		out, err := parseToResponse(resp)
		if err != nil {
			return nil, failure.Wrap(providers.Gemini, err)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	return providers.CheckResult(providers.Gemini, &domain.ProviderResult{
		ImageURL:  imgutil.ToDataURL(out.Data, out.MimeType),
		UsedModel: model,
	})
}

// imagePart は画像を解決し、必要に応じて圧縮してインラインパートにします。
func (a *Adapter) imagePart(ctx context.Context, img domain.Image) (*genai.Part, error) {
	p, err := a.resolver.Resolve(ctx, img)
	if err != nil {
		return nil, err
	}
	data, mimeType := p.Data, p.MimeType
	if a.cfg.CompressReferences {
		data, mimeType = imgutil.ShrinkIfSmaller(data, mimeType, a.cfg.CompressionQuality)
	}
	return &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}}, nil
}
