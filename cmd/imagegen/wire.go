package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"cloud.google.com/go/storage"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/go-remote-io/pkg/remoteio"

	"github.com/shouni/image-fallback-kit/pkg/assets"
	"github.com/shouni/image-fallback-kit/pkg/chain"
	"github.com/shouni/image-fallback-kit/pkg/config"
	"github.com/shouni/image-fallback-kit/pkg/orchestrator"
	"github.com/shouni/image-fallback-kit/pkg/providers"
	"github.com/shouni/image-fallback-kit/pkg/providers/fal"
	"github.com/shouni/image-fallback-kit/pkg/providers/gemini"
	"github.com/shouni/image-fallback-kit/pkg/providers/replicate"
	fkstorage "github.com/shouni/image-fallback-kit/pkg/storage"
	"github.com/shouni/image-fallback-kit/pkg/usage"
)

// app は起動時に組み立てる依存関係一式です。
type app struct {
	cfg      config.Config
	resolver *chain.Resolver
	orch     *orchestrator.Orchestrator
	usage    usage.Logger
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp は設定からストレージ、アダプター、チェーン、オーケストレーターを組み立てます。
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	cache := gocache.New(cfg.ReferenceCacheTTL, 2*cfg.ReferenceCacheTTL)
	fetcher := httpkit.New(cfg.HTTPTimeout)

	store, reader, err := a.buildStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	resolver, err := assets.NewResolver(fetcher, reader, cache, cfg.ReferenceCacheTTL)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.resolver = chain.NewResolver(func() []string { return cfg.ProviderOrder }, providerUsable(ctx, cfg, store != nil))
	c := a.resolver.Chain()

	adapters := make(map[string]providers.Adapter, c.Len())
	doer := &http.Client{Timeout: cfg.HTTPTimeout}

	var uploader *assets.Uploader
	if store != nil {
		uploader, err = assets.NewUploader(resolver, store, cache, cfg.ReferenceCacheTTL)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	for _, name := range c.Providers() {
		var adapter providers.Adapter
		switch name {
		case providers.Gemini:
			adapter, err = gemini.New(gemini.NewLazyClient(cfg.GeminiAPIKey, nil), resolver, gemini.Config{
				StandardModel:      cfg.GeminiModelStandard,
				ProModel:           cfg.GeminiModelPro,
				CompressReferences: cfg.CompressReferences,
				CompressionQuality: cfg.CompressionQuality,
			})
		case providers.FAL:
			adapter, err = fal.New(doer, uploader, fal.Config{
				APIKey:        cfg.FALKey,
				StandardModel: cfg.FALModelStandard,
				ProModel:      cfg.FALModelPro,
			})
		case providers.Replicate:
			adapter, err = replicate.New(doer, uploader, replicate.Config{
				APIToken:      cfg.ReplicateAPIToken,
				StandardModel: cfg.ReplicateModelStandard,
				ProModel:      cfg.ReplicateModelPro,
				Retry:         replicate.RateLimitPolicy(cfg.ReplicateRateLimitRetries, cfg.ReplicateRateLimitBackoff),
			})
		}
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("%s アダプターの初期化に失敗しました: %w", name, err)
		}
		adapters[name] = adapter
	}

	a.orch = orchestrator.New(
		orchestrator.Runtime{Chain: c, Adapters: adapters},
		orchestrator.WithFallbackOnSafetyBlock(cfg.FallbackOnSafetyBlock),
	)

	if err := a.buildUsage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// providerUsable はチェーン解決に使う判定関数を返します。
// FAL と Replicate は参照画像を URL で受け取るため、ストレージがなければ使えない。
func providerUsable(ctx context.Context, cfg config.Config, hasStore bool) func(string) bool {
	return func(name string) bool {
		if !cfg.HasCredential(name) {
			return false
		}
		if name != providers.Gemini && !hasStore {
			slog.WarnContext(ctx, "ストレージが未設定のためプロバイダを無効にします", "provider", name)
			return false
		}
		return true
	}
}

// buildStorage は STORAGE_BACKEND に応じてアップロード先を作ります。
// GCS の場合は gs:// の参照画像を読むリーダーも兼ねます。
func (a *app) buildStorage(ctx context.Context) (assets.ObjectStore, remoteio.InputReader, error) {
	cfg := a.cfg
	switch cfg.StorageBackend {
	case "s3":
		if cfg.StorageBucket == "" {
			slog.WarnContext(ctx, "STORAGE_BUCKET が未設定のためアップロードを無効にします")
			return nil, nil, nil
		}
		opts := []func(*awsconfig.LoadOptions) error{}
		if cfg.StorageRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.StorageRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("AWS 設定の読み込みに失敗しました: %w", err)
		}
		store, err := fkstorage.NewS3Store(s3.NewFromConfig(awsCfg), cfg.StorageBucket, awsCfg.Region, cfg.StoragePublicBaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil

	case "gcs", "":
		client, err := storage.NewClient(ctx)
		if err != nil {
			if cfg.StorageBucket != "" {
				return nil, nil, fmt.Errorf("GCS クライアントの作成に失敗しました: %w", err)
			}
			slog.WarnContext(ctx, "GCS クライアントを作成できないため gs:// 参照を無効にします", "error", err)
			return nil, nil, nil
		}
		a.closers = append(a.closers, func() { _ = client.Close() })

		if cfg.StorageBucket == "" {
			slog.WarnContext(ctx, "STORAGE_BUCKET が未設定のためアップロードを無効にします")
			return nil, fkstorage.NewGCSReader(client), nil
		}
		store, err := fkstorage.NewGCSStore(client, cfg.StorageBucket, cfg.StoragePublicBaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}

func (a *app) buildUsage(ctx context.Context) error {
	if a.cfg.UsageDatabaseURL == "" {
		a.usage = usage.NewSlogLogger(nil)
		return nil
	}
	pg, err := usage.NewPostgresLogger(ctx, a.cfg.UsageDatabaseURL)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, pg.Close)
	if err := pg.EnsureSchema(ctx); err != nil {
		return err
	}
	a.usage = pg
	return nil
}
