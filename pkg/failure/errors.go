package failure

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoProvidersConfigured は有効なプロバイダが1つもない設定エラーです。
	ErrNoProvidersConfigured = errors.New("no image providers configured")
	// ErrSafetyBlocked はコンテンツが安全ポリシーによりブロックされたことを示します。
	ErrSafetyBlocked = errors.New("image blocked by safety policy")
	// ErrNoImage は応答に画像が含まれていなかったことを示します。
	ErrNoImage = errors.New("no image in response")
	// ErrInvalidRequest はリクエスト自体の不備を示します。
	ErrInvalidRequest = errors.New("invalid request")
)

// ProviderError はアダプター境界で外部プロバイダのエラーを包む型です。
// 元のメッセージとステータスコードを保持し、分類器が上流で判定できるようにします。
type ProviderError struct {
	Provider   string
	Code       int
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// StatusCode は HTTP ステータスコードを返します。不明な場合は 0 です。
func (e *ProviderError) StatusCode() int {
	return e.Code
}

// Wrap は任意のエラーを ProviderError に変換します。
// 既に ProviderError の場合はそのまま返し、ステータスとメッセージは元のエラーから引き継ぎます。
func Wrap(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{
		Provider: provider,
		Code:     StatusCode(err),
		Message:  err.Error(),
		Cause:    err,
	}
}

// NewHTTPError は HTTP 応答から ProviderError を生成します。
func NewHTTPError(provider string, status int, body string) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Code:     status,
		Message:  body,
	}
}
