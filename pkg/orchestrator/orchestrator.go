package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shouni/image-fallback-kit/pkg/chain"
	"github.com/shouni/image-fallback-kit/pkg/domain"
	"github.com/shouni/image-fallback-kit/pkg/failure"
	"github.com/shouni/image-fallback-kit/pkg/providers"
)

// Runtime はオーケストレーターが依存するチェーンとアダプターです。
// テストではこれを差し替えることで、プロセス環境に触れずに検証できます。
type Runtime struct {
	Chain    chain.Chain
	Adapters map[string]providers.Adapter
}

// Option は Orchestrator の設定を変更します。
type Option func(*Orchestrator)

// WithFallbackOnSafetyBlock は安全ブロック時にも次のプロバイダへ進むかどうかを設定します。
func WithFallbackOnSafetyBlock(enabled bool) Option {
	return func(o *Orchestrator) {
		o.policy.FallbackOnSafetyBlock = enabled
	}
}

// Orchestrator はチェーンの順にプロバイダを1つずつ試し、最初の成功を返します。
type Orchestrator struct {
	rt     Runtime
	policy Policy
}

// New は Orchestrator を初期化します。
func New(rt Runtime, opts ...Option) *Orchestrator {
	o := &Orchestrator{rt: rt}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Chain は使用するチェーンを返します。
func (o *Orchestrator) Chain() chain.Chain { return o.rt.Chain }

// Generate は画像生成をフォールバック付きで実行します。
func (o *Orchestrator) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.OrchestrationResult, error) {
	return o.Run(ctx, domain.OperationGenerate, req)
}

// Edit は画像編集をフォールバック付きで実行します。
func (o *Orchestrator) Edit(ctx context.Context, req domain.EditRequest) (*domain.OrchestrationResult, error) {
	return o.Run(ctx, domain.OperationEdit, req)
}

// Run は op に応じて params を各アダプターへ渡します。
// params は generate なら domain.GenerationRequest、edit なら domain.EditRequest（またはそのポインタ）です。
func (o *Orchestrator) Run(ctx context.Context, op domain.Operation, params any) (*domain.OrchestrationResult, error) {
	if o.rt.Chain.Empty() {
		return nil, failure.ErrNoProvidersConfigured
	}
	call, err := bind(op, params)
	if err != nil {
		return nil, err
	}

	names := o.rt.Chain.Providers()
	state := StateTrying
	var lastErr error

	for i := 0; state == StateTrying && i < len(names); i++ {
		name := names[i]
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		adapter, ok := o.rt.Adapters[name]
		if !ok || adapter == nil {
			return nil, fmt.Errorf("%w: adapter for %q is not registered", failure.ErrNoProvidersConfigured, name)
		}

		slog.InfoContext(ctx, "プロバイダで画像処理を試行します", "operation", op, "provider", name, "position", i+1, "chain_length", len(names))
		res, err := call(ctx, adapter)
		if err == nil {
			res, err = providers.CheckResult(name, res)
		}
		if err == nil {
			state = StateSucceeded
			slog.InfoContext(ctx, "画像処理に成功しました", "operation", op, "provider", name, "model", res.UsedModel, "fallback", i > 0)
			return &domain.OrchestrationResult{
				ProviderResult: *res,
				UsedProvider:   name,
				UsedFallback:   i > 0,
			}, nil
		}

		lastErr = err
		c := failure.ClassifyContext(ctx, err)
		d := Decide(c, i == len(names)-1, o.policy)
		if d.Action == ActionFallback {
			slog.WarnContext(ctx, "次のプロバイダへフォールバックします",
				"operation", op, "provider", name, "next", names[i+1], "reason", d.Reason, "error", err)
			continue
		}

		state = StateExhausted
		slog.ErrorContext(ctx, "画像処理を中断します", "operation", op, "provider", name, "reason", d.Reason, "error", err)
	}

	return nil, lastErr
}

type adapterCall func(ctx context.Context, a providers.Adapter) (*domain.ProviderResult, error)

// bind は操作とパラメータを検証し、アダプター呼び出しに変換します。
func bind(op domain.Operation, params any) (adapterCall, error) {
	switch op {
	case domain.OperationGenerate:
		var req domain.GenerationRequest
		switch p := params.(type) {
		case domain.GenerationRequest:
			req = p
		case *domain.GenerationRequest:
			if p == nil {
				return nil, fmt.Errorf("%w: generation request is nil", failure.ErrInvalidRequest)
			}
			req = *p
		default:
			return nil, fmt.Errorf("%w: unexpected params %T for %s", failure.ErrInvalidRequest, params, op)
		}
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", failure.ErrInvalidRequest, err)
		}
		return func(ctx context.Context, a providers.Adapter) (*domain.ProviderResult, error) {
			return a.Generate(ctx, req)
		}, nil

	case domain.OperationEdit:
		var req domain.EditRequest
		switch p := params.(type) {
		case domain.EditRequest:
			req = p
		case *domain.EditRequest:
			if p == nil {
				return nil, fmt.Errorf("%w: edit request is nil", failure.ErrInvalidRequest)
			}
			req = *p
		default:
			return nil, fmt.Errorf("%w: unexpected params %T for %s", failure.ErrInvalidRequest, params, op)
		}
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", failure.ErrInvalidRequest, err)
		}
		return func(ctx context.Context, a providers.Adapter) (*domain.ProviderResult, error) {
			return a.Edit(ctx, req)
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown operation %q", failure.ErrInvalidRequest, op)
	}
}
