package failure

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Classification はエラーに対する独立した判定の集合です。各フラグは排他ではありません。
type Classification struct {
	QuotaOrRateLimit bool
	PermanentQuota   bool
	Timeout          bool
	TransientServer  bool
	AuthFailure      bool
	SafetyBlock      bool
	// Canceled は呼び出し元が処理を打ち切ったことを示し、他の判定より優先されます。
	// プロバイダ側のタイムアウトはこれに含まれません。
	Canceled bool
}

// Retryable は同一プロバイダでの再試行に値するかどうかを返します。
func (c Classification) Retryable() bool {
	if c.Canceled {
		return false
	}
	return c.TransientServer || (c.QuotaOrRateLimit && !c.PermanentQuota) || c.Timeout
}

// FallbackEligible は次のプロバイダへ進むべきかどうかを返します。
func (c Classification) FallbackEligible() bool {
	if c.Canceled {
		return false
	}
	return c.QuotaOrRateLimit || c.AuthFailure || c.TransientServer
}

var (
	quotaMarkers     = []string{"resource_exhausted", "quota", "429", "limit", "exceeded"}
	permanentMarkers = []string{"limit: 0", "limit:0", `"limit": 0`, "perdayperproject", "per_day", "free_tier"}
	timeoutMarkers   = []string{"timeout", "timed out"}
	transientMarkers = []string{"overloaded", "unavailable", "high demand", "service_unavailable"}
	authMarkers      = []string{"unauthorized", "forbidden", "invalid api key", "api key not valid", "authentication"}

	// "rate" は "generate" 等に含まれるため単語として扱う。
	rateWordPattern = regexp.MustCompile(`\brate\b`)
	statusPattern   = regexp.MustCompile(`(?i)\b(?:status(?:\s*code)?|http)\s*[:=]?\s*\(?([1-5]\d{2})\b`)
	retryDelayJSON  = regexp.MustCompile(`"retryDelay"\s*:\s*"(\d+(?:\.\d+)?)s"`)
	retryAfterText  = regexp.MustCompile(`(?i)retry (?:after|in) (\d+(?:\.\d+)?)\s*(?:s\b|sec|second)`)
)

// MaxRetryHint はプロバイダ提示の待機時間の上限です。
const MaxRetryHint = 60 * time.Second

// Classify はエラーを分類します。副作用はありません。
// context.DeadlineExceeded を包むエラーは HTTP クライアント自身のタイムアウトでも発生するため、
// ここではキャンセル扱いせずメッセージで判定します。呼び出し元の期限切れは ClassifyContext で判定します。
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}
	if errors.Is(err, context.Canceled) {
		return Classification{Canceled: true}
	}

	status := StatusCode(err)
	c := classifyMessage(strings.ToLower(err.Error()), status)

	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		c.Timeout = true
	}
	if errors.Is(err, ErrSafetyBlocked) {
		c.SafetyBlock = true
	}
	return c
}

// ClassifyContext は呼び出し元の ctx を考慮して分類します。
// ctx が終了している場合のみキャンセルとみなし、それ以外は Classify と同じ結果を返します。
func ClassifyContext(ctx context.Context, err error) Classification {
	if err == nil {
		return Classification{}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Classification{Canceled: true, Timeout: errors.Is(ctxErr, context.DeadlineExceeded)}
	}
	return Classify(err)
}

// ClassifyValue はエラー以外の値（文字列など）も文字列化して分類します。
func ClassifyValue(v any) Classification {
	switch x := v.(type) {
	case nil:
		return Classification{}
	case error:
		return Classify(x)
	case string:
		return classifyMessage(strings.ToLower(x), statusFromMessage(x))
	default:
		s := fmt.Sprint(x)
		return classifyMessage(strings.ToLower(s), statusFromMessage(s))
	}
}

func classifyMessage(msg string, status int) Classification {
	var c Classification

	c.PermanentQuota = containsAny(msg, permanentMarkers)
	c.QuotaOrRateLimit = status == 429 || containsAny(msg, quotaMarkers) || rateWordPattern.MatchString(msg) || c.PermanentQuota
	c.Timeout = status == 504 || containsAny(msg, timeoutMarkers)
	c.TransientServer = status == 503 || containsAny(msg, transientMarkers)
	c.AuthFailure = status == 401 || status == 403 || containsAny(msg, authMarkers)
	c.SafetyBlock = strings.Contains(msg, strings.ToLower(ErrSafetyBlocked.Error()))
	return c
}

func containsAny(msg string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsQuotaOrRateLimit はクォータ超過またはレート制限かどうかを返します。
func IsQuotaOrRateLimit(err error) bool { return Classify(err).QuotaOrRateLimit }

// IsPermanentQuota は待っても回復しないクォータ超過かどうかを返します。
func IsPermanentQuota(err error) bool { return Classify(err).PermanentQuota }

// IsTimeout はタイムアウトかどうかを返します。
func IsTimeout(err error) bool { return Classify(err).Timeout }

// IsTransientServerError は 503 系の一時的なサーバーエラーかどうかを返します。
func IsTransientServerError(err error) bool { return Classify(err).TransientServer }

// IsAuthFailure は認証・認可の失敗かどうかを返します。
func IsAuthFailure(err error) bool { return Classify(err).AuthFailure }

// StatusCode はエラーから HTTP ステータスコードを取り出します。見つからない場合は 0 です。
func StatusCode(err error) int {
	if err == nil {
		return 0
	}
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) && sc.StatusCode() > 0 {
		return sc.StatusCode()
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code > 0 {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && apiErrPtr.Code > 0 {
		return apiErrPtr.Code
	}
	return statusFromMessage(err.Error())
}

func statusFromMessage(msg string) int {
	m := statusPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}

// RetryHint はプロバイダが提示した待機時間を取り出します。上限は MaxRetryHint です。
func RetryHint(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return capHint(pe.RetryAfter), true
	}

	msg := err.Error()
	for _, re := range []*regexp.Regexp{retryDelayJSON, retryAfterText} {
		if m := re.FindStringSubmatch(msg); m != nil {
			secs, perr := strconv.ParseFloat(m[1], 64)
			if perr != nil {
				continue
			}
			return capHint(time.Duration(secs * float64(time.Second))), true
		}
	}
	return 0, false
}

func capHint(d time.Duration) time.Duration {
	if d > MaxRetryHint {
		return MaxRetryHint
	}
	return d
}
