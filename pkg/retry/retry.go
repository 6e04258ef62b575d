package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shouni/image-fallback-kit/pkg/failure"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Policy は1つの操作に対するローカル再試行の方針です。
// 全アダプターが同じ型で再試行予算を宣言します。
type Policy struct {
	// MaxAttempts は初回を含む最大試行回数です。1 の場合は再試行しません。
	MaxAttempts int
	// BaseDelay は線形バックオフの基準値です。待機時間は BaseDelay * 試行回数 になります。
	BaseDelay time.Duration
	// Retryable が nil の場合は DefaultRetryable を使います。
	Retryable func(error) bool
	// UseHint が true の場合、クォータ系エラーではプロバイダ提示の待機時間を優先します。
	UseHint bool
	// Name はログ出力用の識別子です。
	Name string
}

// DefaultPolicy は 3 回・1 秒基準・ヒント有効の方針を返します。
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay, UseHint: true}
}

// SingleAttempt は再試行しない方針です。フォールバックのみで回復させたいアダプターが使います。
func SingleAttempt() Policy {
	return Policy{MaxAttempts: 1}
}

// DefaultRetryable は 503 系・一時的なクォータ超過・タイムアウトを再試行対象とします。
// 恒久的なクォータ超過と認証失敗は対象外です。
func DefaultRetryable(err error) bool {
	return failure.Classify(err).Retryable()
}

// Delay は attempt 回目の失敗後に待つ時間を計算します。
func Delay(err error, attempt int, base time.Duration, useHint bool) time.Duration {
	if useHint && failure.IsQuotaOrRateLimit(err) {
		if hint, ok := failure.RetryHint(err); ok {
			return hint
		}
	}
	return base * time.Duration(attempt)
}

// linearBackOff は backoff.BackOff を線形 + ヒント優先で実装します。
type linearBackOff struct {
	policy  Policy
	lastErr func() error
	n       int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return Delay(b.lastErr(), b.n, b.policy.BaseDelay, b.policy.UseHint)
}

func (b *linearBackOff) Reset() { b.n = 0 }

// Do は op を方針に従って実行します。
// 再試行不可と判定された場合や試行回数を使い切った場合は、最後のエラーをそのまま返します。
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	var lastErr error
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{policy: p, lastErr: func() error { return lastErr }}, uint64(p.MaxAttempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		slog.WarnContext(ctx, "一時的なエラーのため再試行します",
			"policy", p.Name, "attempt", attempt, "max_attempts", p.MaxAttempts, "wait", wait, "error", err)
	}

	return backoff.RetryNotifyWithData(operation, b, notify)
}

// WithRetry は汎用の再試行エンジンです。maxAttempts 回まで試行し、baseDelay * 試行回数 だけ待機します。
func WithRetry[T any](ctx context.Context, op func(ctx context.Context) (T, error), maxAttempts int, baseDelay time.Duration) (T, error) {
	return Do(ctx, Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay, UseHint: true}, op)
}
