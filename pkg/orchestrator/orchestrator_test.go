package orchestrator

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shouni/image-fallback-kit/pkg/chain"
	"github.com/shouni/image-fallback-kit/pkg/domain"
	"github.com/shouni/image-fallback-kit/pkg/failure"
	"github.com/shouni/image-fallback-kit/pkg/providers"
)

var genReq = domain.GenerationRequest{Prompt: "a red sneaker on a white background", AspectRatio: "1:1"}

func runtimeOf(adapters ...*mockAdapter) Runtime {
	names := make([]string, 0, len(adapters))
	m := make(map[string]providers.Adapter, len(adapters))
	for _, a := range adapters {
		names = append(names, a.name)
		m[a.name] = a
	}
	return Runtime{Chain: chain.New(names...), Adapters: m}
}

func TestRun_FallbackScenario(t *testing.T) {
	ctx := context.Background()
	gemini := newMockAdapter("gemini")
	replicate := newMockAdapter("replicate")
	fal := newMockAdapter("fal")

	gemini.On("Generate", mock.Anything, genReq).
		Return(nil, &failure.ProviderError{Provider: "gemini", Code: 429, Message: "RESOURCE_EXHAUSTED"}).Once()
	replicate.On("Generate", mock.Anything, genReq).
		Return(nil, &failure.ProviderError{Provider: "replicate", Code: 401, Message: "Unauthorized"}).Once()
	fal.On("Generate", mock.Anything, genReq).
		Return(&domain.ProviderResult{ImageURL: "https://cdn.fal.ai/x.png", UsedModel: "fal-ai/gemini-3-pro-image-preview"}, nil).Once()

	o := New(runtimeOf(gemini, replicate, fal))
	res, err := o.Run(ctx, domain.OperationGenerate, genReq)
	require.NoError(t, err)

	assert.Equal(t, &domain.OrchestrationResult{
		ProviderResult: domain.ProviderResult{ImageURL: "https://cdn.fal.ai/x.png", UsedModel: "fal-ai/gemini-3-pro-image-preview"},
		UsedProvider:   "fal",
		UsedFallback:   true,
	}, res)
	gemini.AssertNumberOfCalls(t, "Generate", 1)
	replicate.AssertNumberOfCalls(t, "Generate", 1)
	fal.AssertNumberOfCalls(t, "Generate", 1)
}

func TestRun_FirstProviderSucceeds(t *testing.T) {
	gemini := newMockAdapter("gemini")
	fal := newMockAdapter("fal")
	gemini.On("Generate", mock.Anything, genReq).
		Return(&domain.ProviderResult{ImageURL: "data:image/png;base64,AAAA", UsedModel: "gemini-2.5-flash-image"}, nil)

	res, err := New(runtimeOf(gemini, fal)).Generate(context.Background(), genReq)
	require.NoError(t, err)
	assert.Equal(t, "gemini", res.UsedProvider)
	assert.False(t, res.UsedFallback, "先頭のプロバイダで成功したらフォールバックではない")
	fal.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestRun_NonRecoverableAborts(t *testing.T) {
	tests := []struct {
		name string
		err  error
		opts []Option
	}{
		{name: "汎用エラーでは次を試さないのだ", err: errors.New("invalid prompt format")},
		{name: "400 は中断", err: &failure.ProviderError{Provider: "gemini", Code: 400, Message: "bad aspect ratio"}},
		{name: "安全ブロックは既定で中断", err: failure.Wrap("gemini", failure.ErrSafetyBlocked)},
		{name: "画像なしは中断", err: failure.ErrNoImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := newMockAdapter("gemini")
			second := newMockAdapter("fal")
			first.On("Generate", mock.Anything, genReq).Return(nil, tt.err)

			_, err := New(runtimeOf(first, second), tt.opts...).Generate(context.Background(), genReq)
			assert.Same(t, tt.err, err, "元のエラーをそのまま返す")
			second.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
		})
	}
}

func TestRun_SafetyBlockFallbackOption(t *testing.T) {
	first := newMockAdapter("gemini")
	second := newMockAdapter("fal")
	first.On("Generate", mock.Anything, genReq).Return(nil, failure.Wrap("gemini", failure.ErrSafetyBlocked))
	second.On("Generate", mock.Anything, genReq).Return(&domain.ProviderResult{ImageURL: "https://cdn.fal.ai/s.png", UsedModel: "m"}, nil)

	res, err := New(runtimeOf(first, second), WithFallbackOnSafetyBlock(true)).Generate(context.Background(), genReq)
	require.NoError(t, err)
	assert.Equal(t, "fal", res.UsedProvider)
}

func TestRun_LastProviderErrorPropagates(t *testing.T) {
	quota := &failure.ProviderError{Provider: "gemini", Code: 429, Message: "RESOURCE_EXHAUSTED"}
	unavailable := &failure.ProviderError{Provider: "fal", Code: 503, Message: "overloaded"}

	first := newMockAdapter("gemini")
	last := newMockAdapter("fal")
	first.On("Generate", mock.Anything, genReq).Return(nil, quota)
	last.On("Generate", mock.Anything, genReq).Return(nil, unavailable)

	_, err := New(runtimeOf(first, last)).Generate(context.Background(), genReq)
	assert.Same(t, unavailable, err, "最後のプロバイダのエラーを返す")
	assert.Equal(t, 503, failure.StatusCode(err))
	first.AssertNumberOfCalls(t, "Generate", 1)
	last.AssertNumberOfCalls(t, "Generate", 1)
}

func TestRun_SingleProviderQuotaDoesNotLoop(t *testing.T) {
	quota := &failure.ProviderError{Provider: "gemini", Code: 429, Message: "RESOURCE_EXHAUSTED"}
	only := newMockAdapter("gemini")
	only.On("Generate", mock.Anything, genReq).Return(nil, quota)

	_, err := New(runtimeOf(only)).Generate(context.Background(), genReq)
	assert.Same(t, quota, err)
	only.AssertNumberOfCalls(t, "Generate", 1)
}

func TestRun_EmptyChain(t *testing.T) {
	_, err := New(Runtime{}).Generate(context.Background(), genReq)
	assert.ErrorIs(t, err, failure.ErrNoProvidersConfigured)

	t.Run("設定エラーはリクエストの検証より先に返すのだ", func(t *testing.T) {
		_, err := New(Runtime{}).Run(context.Background(), domain.OperationGenerate, domain.GenerationRequest{})
		assert.ErrorIs(t, err, failure.ErrNoProvidersConfigured)
		assert.NotErrorIs(t, err, failure.ErrInvalidRequest)
	})
}

func TestRun_MissingAdapter(t *testing.T) {
	_, err := New(Runtime{Chain: chain.New("gemini")}).Generate(context.Background(), genReq)
	assert.ErrorIs(t, err, failure.ErrNoProvidersConfigured)
}

func TestRun_InvalidParams(t *testing.T) {
	a := newMockAdapter("gemini")
	o := New(runtimeOf(a))
	ctx := context.Background()

	cases := []struct {
		op     domain.Operation
		params any
	}{
		{domain.OperationGenerate, domain.GenerationRequest{}},
		{domain.OperationGenerate, domain.EditRequest{Prompt: "p", ImageBase64: "x"}},
		{domain.OperationEdit, domain.EditRequest{Prompt: "p"}},
		{domain.OperationEdit, (*domain.EditRequest)(nil)},
		{"upscale", genReq},
	}
	for _, c := range cases {
		_, err := o.Run(ctx, c.op, c.params)
		assert.ErrorIs(t, err, failure.ErrInvalidRequest, "%s %T", c.op, c.params)
	}
	a.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	a.AssertNotCalled(t, "Edit", mock.Anything, mock.Anything)
}

func TestRun_Edit(t *testing.T) {
	req := &domain.EditRequest{Prompt: "make it night", ImageBase64: "aGVsbG8=", MimeType: "image/png"}
	first := newMockAdapter("replicate")
	second := newMockAdapter("fal")
	first.On("Edit", mock.Anything, *req).Return(nil, &failure.ProviderError{Provider: "replicate", Code: 503, Message: "Service Unavailable"})
	second.On("Edit", mock.Anything, *req).Return(&domain.ProviderResult{ImageURL: "https://cdn.fal.ai/e.png", UsedModel: "fal-ai/gemini-25-flash-image"}, nil)

	res, err := New(runtimeOf(first, second)).Run(context.Background(), domain.OperationEdit, req)
	require.NoError(t, err)
	assert.Equal(t, "fal", res.UsedProvider)
	assert.True(t, res.UsedFallback)
}

func TestRun_Cancellation(t *testing.T) {
	t.Run("キャンセルされたエラーではフォールバックしない", func(t *testing.T) {
		first := newMockAdapter("gemini")
		second := newMockAdapter("fal")
		first.On("Generate", mock.Anything, genReq).Return(nil, context.Canceled)

		_, err := New(runtimeOf(first, second)).Generate(context.Background(), genReq)
		assert.ErrorIs(t, err, context.Canceled)
		second.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("プロバイダ側のタイムアウトは次のプロバイダへ進む", func(t *testing.T) {
		first := newMockAdapter("fal")
		second := newMockAdapter("gemini")
		timeout := failure.Wrap("fal", &url.Error{Op: "Post", URL: "https://fal.run/x", Err: context.DeadlineExceeded})
		first.On("Generate", mock.Anything, genReq).Return(nil, timeout).Once()
		second.On("Generate", mock.Anything, genReq).
			Return(&domain.ProviderResult{ImageURL: "data:image/png;base64,AAAA", UsedModel: "gemini-2.5-flash-image"}, nil).Once()

		res, err := New(runtimeOf(first, second)).Generate(context.Background(), genReq)
		require.NoError(t, err)
		assert.Equal(t, "gemini", res.UsedProvider)
		assert.True(t, res.UsedFallback)
		second.AssertNumberOfCalls(t, "Generate", 1)
	})

	t.Run("呼び出し元の期限切れではフォールバックしない", func(t *testing.T) {
		first := newMockAdapter("fal")
		second := newMockAdapter("gemini")
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		first.On("Generate", mock.Anything, genReq).
			Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
			Return(nil, context.DeadlineExceeded).Once()

		_, err := New(runtimeOf(first, second)).Generate(ctx, genReq)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		second.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("開始前にキャンセル済みなら何も呼ばない", func(t *testing.T) {
		a := newMockAdapter("gemini")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := New(runtimeOf(a)).Generate(ctx, genReq)
		assert.ErrorIs(t, err, context.Canceled)
		a.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})
}

func TestRun_DegenerateResultIsFailure(t *testing.T) {
	a := newMockAdapter("gemini")
	a.On("Generate", mock.Anything, genReq).Return(&domain.ProviderResult{}, nil)

	res, err := New(runtimeOf(a)).Generate(context.Background(), genReq)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, failure.ErrNoImage)
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name   string
		c      failure.Classification
		isLast bool
		policy Policy
		want   Action
	}{
		{"クォータ", failure.Classification{QuotaOrRateLimit: true}, false, Policy{}, ActionFallback},
		{"恒久的クォータも次へ", failure.Classification{QuotaOrRateLimit: true, PermanentQuota: true}, false, Policy{}, ActionFallback},
		{"認証失敗", failure.Classification{AuthFailure: true}, false, Policy{}, ActionFallback},
		{"一時的なサーバーエラー", failure.Classification{TransientServer: true}, false, Policy{}, ActionFallback},
		{"最後のプロバイダ", failure.Classification{QuotaOrRateLimit: true}, true, Policy{}, ActionAbort},
		{"タイムアウトのみ", failure.Classification{Timeout: true}, false, Policy{}, ActionAbort},
		{"キャンセル", failure.Classification{Canceled: true, Timeout: true}, false, Policy{}, ActionAbort},
		{"安全ブロック", failure.Classification{SafetyBlock: true}, false, Policy{}, ActionAbort},
		{"安全ブロック（許可）", failure.Classification{SafetyBlock: true}, false, Policy{FallbackOnSafetyBlock: true}, ActionFallback},
		{"分類なし", failure.Classification{}, false, Policy{}, ActionAbort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.c, tt.isLast, tt.policy).Action)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "trying", StateTrying.String())
	assert.Equal(t, "succeeded", StateSucceeded.String())
	assert.Equal(t, "exhausted", StateExhausted.String())
	assert.Equal(t, "fallback", ActionFallback.String())
	assert.Equal(t, "abort", ActionAbort.String())
}
