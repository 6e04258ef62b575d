package orchestrator

import "github.com/shouni/image-fallback-kit/pkg/failure"

// State はフォールバック実行の状態です。
type State int

const (
	// StateTrying は現在のプロバイダを試行中であることを示します。
	StateTrying State = iota
	// StateSucceeded はいずれかのプロバイダが画像を返した終端状態です。
	StateSucceeded
	// StateExhausted は失敗をそのまま呼び出し元へ返す終端状態です。
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateTrying:
		return "trying"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Action は失敗後の遷移です。
type Action int

const (
	// ActionFallback は次のプロバイダへ進みます。
	ActionFallback Action = iota
	// ActionAbort は残りのプロバイダを試さずにエラーを返します。
	ActionAbort
)

func (a Action) String() string {
	if a == ActionFallback {
		return "fallback"
	}
	return "abort"
}

// Decision は1回の失敗に対する判定結果です。
type Decision struct {
	Action Action
	Reason string
}

// Policy はフォールバック判定の調整項目です。
type Policy struct {
	// FallbackOnSafetyBlock が true の場合、安全ブロックでも次のプロバイダへ進みます。
	FallbackOnSafetyBlock bool
}

// Decide は分類結果と位置から次の遷移を決める純粋関数です。
// 最後のプロバイダでは常に中断し、キャンセルはフォールバック対象になりません。
func Decide(c failure.Classification, isLast bool, p Policy) Decision {
	switch {
	case c.Canceled:
		return Decision{Action: ActionAbort, Reason: "canceled"}
	case isLast:
		return Decision{Action: ActionAbort, Reason: "last provider"}
	case c.SafetyBlock:
		if p.FallbackOnSafetyBlock {
			return Decision{Action: ActionFallback, Reason: "safety block"}
		}
		return Decision{Action: ActionAbort, Reason: "safety block"}
	case c.QuotaOrRateLimit:
		return Decision{Action: ActionFallback, Reason: "quota or rate limit"}
	case c.AuthFailure:
		return Decision{Action: ActionFallback, Reason: "auth failure"}
	case c.TransientServer:
		return Decision{Action: ActionFallback, Reason: "service unavailable"}
	default:
		return Decision{Action: ActionAbort, Reason: "not recoverable"}
	}
}
