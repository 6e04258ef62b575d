package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shouni/image-fallback-kit/pkg/domain"
	"github.com/shouni/image-fallback-kit/pkg/failure"
	"github.com/shouni/image-fallback-kit/pkg/providers"
	"github.com/shouni/image-fallback-kit/pkg/retry"
)

const (
	DefaultBaseURL       = "https://api.replicate.com/v1"
	DefaultStandardModel = "google/nano-banana"
	DefaultProModel      = "google/nano-banana-pro"

	// DefaultRateLimitRetries と DefaultRateLimitBackoff は 429 に対するローカル再試行の既定値です。
	DefaultRateLimitRetries = 3
	DefaultRateLimitBackoff = 10 * time.Second
	DefaultPollInterval     = time.Second

	uploadPrefix = "replicate-refs"
)

// 予測の状態です。
const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusCanceled  = "canceled"
)

// Config は Replicate アダプターの設定です。
type Config struct {
	APIToken      string
	BaseURL       string
	StandardModel string
	ProModel      string
	PollInterval  time.Duration
	// Retry は予測作成時のローカル再試行の方針です。ゼロ値の場合は RateLimitPolicy を使います。
	Retry retry.Policy
}

// RateLimitPolicy は 429 のみを attempts 回まで backoff * 試行回数 の間隔で再試行する方針です。
// Replicate のレート制限は回復が早く、次のプロバイダへ進むより待つ方が安く済みます。
func RateLimitPolicy(attempts int, backoff time.Duration) retry.Policy {
	return retry.Policy{
		MaxAttempts: attempts,
		BaseDelay:   backoff,
		Retryable:   func(err error) bool { return failure.StatusCode(err) == http.StatusTooManyRequests },
		Name:        providers.Replicate,
	}
}

// Adapter は Replicate の公式モデルに予測を作成し、完了まで待ちます。
type Adapter struct {
	client   providers.HTTPDoer
	uploader providers.ImageUploader
	cfg      Config
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

type input struct {
	Prompt       string   `json:"prompt"`
	ImageInput   []string `json:"image_input,omitempty"`
	AspectRatio  string   `json:"aspect_ratio,omitempty"`
	Resolution   string   `json:"resolution,omitempty"`
	OutputFormat string   `json:"output_format"`
}

// New は Adapter を初期化します。
func New(client providers.HTTPDoer, uploader providers.ImageUploader, cfg Config) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if uploader == nil {
		return nil, fmt.Errorf("uploader is required")
	}
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("api token is required")
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
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = RateLimitPolicy(DefaultRateLimitRetries, DefaultRateLimitBackoff)
	}
	return &Adapter{client: client, uploader: uploader, cfg: cfg}, nil
}

func (a *Adapter) Name() string { return providers.Replicate }

func (a *Adapter) model(tier domain.ModelTier) string {
	if tier.OrDefault() == domain.TierPro {
		return a.cfg.ProModel
	}
	return a.cfg.StandardModel
}

// Generate は参照画像をアップロードしてから予測を作成します。
func (a *Adapter) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.ProviderResult, error) {
	tier := req.ModelTier.OrDefault()
	model := a.model(tier)

	in := input{
		Prompt:       req.Prompt,
		AspectRatio:  req.AspectRatio,
		OutputFormat: "png",
	}
	if tier == domain.TierPro {
		in.Resolution = string(req.ImageSize.OrDefault())
	}

	refs := providers.ReferenceImages(req, providers.MaxProductImages(tier))
	if len(refs) > 0 {
		urls, err := a.uploader.UploadAll(ctx, refs, uploadPrefix)
		if err != nil {
			return nil, failure.Wrap(providers.Replicate, err)
		}
		in.ImageInput = urls
	}

	slog.InfoContext(ctx, "Replicate画像生成リクエスト", "model", model, "ref_count", len(refs))
	return a.run(ctx, model, in)
}

// Edit は常に pro ティアで実行します。standard モデルは編集の品質が不十分なためです。
func (a *Adapter) Edit(ctx context.Context, req domain.EditRequest) (*domain.ProviderResult, error) {
	model := a.cfg.ProModel

	imgs := []domain.Image{req.SourceImage()}
	if !req.ReferenceImage.IsZero() {
		imgs = append(imgs, *req.ReferenceImage)
	}
	urls, err := a.uploader.UploadAll(ctx, imgs, uploadPrefix)
	if err != nil {
		return nil, failure.Wrap(providers.Replicate, err)
	}

	slog.InfoContext(ctx, "Replicate画像編集リクエスト", "model", model, "requested_tier", req.ModelTier)
	return a.run(ctx, model, input{
		Prompt:       req.Prompt,
		ImageInput:   urls,
		AspectRatio:  "match_input_image",
		OutputFormat: "png",
	})
}

func (a *Adapter) run(ctx context.Context, model string, in input) (*domain.ProviderResult, error) {
	p, err := retry.Do(ctx, a.cfg.Retry, func(ctx context.Context) (*prediction, error) {
		return a.create(ctx, model, in)
	})
	if err != nil {
		return nil, err
	}

	p, err = a.wait(ctx, p)
	if err != nil {
		return nil, err
	}

	imageURL, err := firstOutput(p.Output)
	if err != nil {
		return nil, err
	}
	return providers.CheckResult(providers.Replicate, &domain.ProviderResult{
		ImageURL:  imageURL,
		UsedModel: model,
	})
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.cfg.APIToken}
}

func (a *Adapter) create(ctx context.Context, model string, in input) (*prediction, error) {
	url := fmt.Sprintf("%s/models/%s/predictions", a.cfg.BaseURL, model)
	headers := a.headers()
	// 同期待ちを要求し、短時間で終わる予測ではポーリングを省く。
	headers["Prefer"] = "wait"

	var p prediction
	if err := providers.DoJSON(ctx, a.client, providers.Replicate, http.MethodPost, url, headers, map[string]any{"input": in}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// wait は予測が終端状態になるまで urls.get をポーリングします。
func (a *Adapter) wait(ctx context.Context, p *prediction) (*prediction, error) {
	for {
		switch p.Status {
		case statusSucceeded:
			return p, nil
		case statusFailed, statusCanceled:
			return nil, &failure.ProviderError{
				Provider: providers.Replicate,
				Message:  fmt.Sprintf("prediction %s %s: %s", p.ID, p.Status, predictionError(p.Error)),
			}
		}
		if p.URLs.Get == "" {
			return nil, &failure.ProviderError{
				Provider: providers.Replicate,
				Message:  fmt.Sprintf("prediction %s has no polling url (status %q)", p.ID, p.Status),
			}
		}

		timer := time.NewTimer(a.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		var next prediction
		if err := providers.DoJSON(ctx, a.client, providers.Replicate, http.MethodGet, p.URLs.Get, a.headers(), nil, &next); err != nil {
			return nil, err
		}
		if next.URLs.Get == "" {
			next.URLs.Get = p.URLs.Get
		}
		p = &next
	}
}

func predictionError(v any) string {
	switch x := v.(type) {
	case nil:
		return "unknown error"
	case string:
		return x
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

// firstOutput は出力が文字列でも配列でも最初の URL を返します。
func firstOutput(raw json.RawMessage) (string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 && list[0] != "" {
		return list[0], nil
	}
	return "", fmt.Errorf("%s: %w", providers.Replicate, failure.ErrNoImage)
}
