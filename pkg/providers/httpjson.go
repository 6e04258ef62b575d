package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shouni/image-fallback-kit/pkg/failure"
)

// HTTPDoer は HTTP リクエストを実行します。*http.Client が満たします。
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxErrorBody はエラー応答から読み取る本文の上限です。
const maxErrorBody = 4 << 10

// DoJSON は JSON ボディを送信し、2xx の応答を out にデコードします。
// 2xx 以外はステータス、本文、Retry-After を保持した *failure.ProviderError として返します。
func DoJSON(ctx context.Context, client HTTPDoer, provider, method, url string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: リクエストのエンコードに失敗しました: %w", provider, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%s: リクエストの作成に失敗しました: %w", provider, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return failure.Wrap(provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		pe := failure.NewHTTPError(provider, resp.StatusCode, errorMessage(raw, resp.Status))
		pe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return pe
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: レスポンスのデコードに失敗しました: %w", provider, err)
	}
	return nil
}

// errorMessage はエラー応答の本文から人が読めるメッセージを取り出します。
// JSON の detail / error / message を優先し、なければ本文そのものを返します。
func errorMessage(raw []byte, status string) string {
	var body struct {
		Detail  any    `json:"detail"`
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, v := range []any{body.Detail, body.Error, body.Message} {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return status
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

// parseRetryAfter は秒数または HTTP 日付形式の Retry-After を解釈します。
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
