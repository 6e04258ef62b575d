package failure

import (
	"errors"
	"net/http"
)

// UserKind は利用者向けに表示するエラーの種類です。
// 生のエラーメッセージではなく、この語彙を呼び出し側との安定した契約として扱います。
type UserKind string

const (
	KindRateLimited    UserKind = "rate_limited"
	KindQuotaExhausted UserKind = "quota_exhausted"
	KindSafetyBlocked  UserKind = "safety_blocked"
	KindUnavailable    UserKind = "unavailable"
	KindInvalidRequest UserKind = "invalid_request"
	KindCanceled       UserKind = "canceled"
	KindGeneric        UserKind = "generic"
)

var userMessages = map[UserKind]string{
	KindRateLimited:    "リクエストが集中しています。しばらく待ってから再度お試しください。",
	KindQuotaExhausted: "本日の生成上限に達しました。時間をおいて再度お試しください。",
	KindSafetyBlocked:  "コンテンツポリシーにより画像を生成できませんでした。プロンプトを変更してください。",
	KindUnavailable:    "画像生成サービスが一時的に利用できません。しばらくしてから再度お試しください。",
	KindInvalidRequest: "リクエストの内容に不備があります。入力を確認してください。",
	KindCanceled:       "リクエストが中断されました。",
	KindGeneric:        "画像の生成に失敗しました。再度お試しください。",
}

// Kind はエラーを利用者向けの種類に変換します。
func Kind(err error) UserKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrInvalidRequest) {
		return KindInvalidRequest
	}
	c := Classify(err)
	switch {
	case c.Canceled:
		return KindCanceled
	case c.SafetyBlock:
		return KindSafetyBlocked
	case c.PermanentQuota:
		return KindQuotaExhausted
	case c.QuotaOrRateLimit:
		return KindRateLimited
	case c.TransientServer, c.Timeout, c.AuthFailure, errors.Is(err, ErrNoProvidersConfigured):
		return KindUnavailable
	default:
		return KindGeneric
	}
}

// UserMessage は種類に対応する技術的でないメッセージを返します。
func UserMessage(kind UserKind) string {
	if msg, ok := userMessages[kind]; ok {
		return msg
	}
	return userMessages[KindGeneric]
}

// HTTPStatus はクォータ/レート制限系を 429、それ以外を 500 に対応付けます。
func HTTPStatus(err error) int {
	if IsQuotaOrRateLimit(err) {
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
