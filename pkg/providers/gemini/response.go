package gemini

import (
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/shouni/image-fallback-kit/pkg/failure"
)

// ImageOutput は応答から取り出した画像です。
type ImageOutput struct {
	Data     []byte
	MimeType string
}

// blockedReasons は安全フィルター等によるブロックを示す FinishReason です。
var blockedReasons = map[string]bool{
	"SAFETY":                   true,
	"IMAGE_SAFETY":             true,
	"BLOCKLIST":                true,
	"PROHIBITED_CONTENT":       true,
	"IMAGE_PROHIBITED_CONTENT": true,
	"SPII":                     true,
}

// parseToResponse は Gemini のレスポンスを解析して画像を取り出します。
// 画像がない場合、ブロック理由があれば ErrSafetyBlocked、なければ ErrNoImage を返します。
func parseToResponse(resp *genai.GenerateContentResponse) (*ImageOutput, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: Geminiからの有効な応答がありませんでした", failure.ErrNoImage)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("%w (BlockReason: %s)", failure.ErrSafetyBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: Geminiからの有効な応答がありませんでした", failure.ErrNoImage)
	}

	// 現在の仕様では、Geminiからの最初の候補 (Candidate) のみを利用する。
	candidate := resp.Candidates[0]

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mimeType := part.InlineData.MIMEType
				if mimeType == "" {
					mimeType = "image/png"
				}
				return &ImageOutput{Data: part.InlineData.Data, MimeType: mimeType}, nil
			}
		}
	}

	reason := strings.ToUpper(string(candidate.FinishReason))
	if blockedReasons[reason] {
		return nil, fmt.Errorf("%w (FinishReason: %s)", failure.ErrSafetyBlocked, reason)
	}
	if reason != "" && reason != string(genai.FinishReasonStop) && reason != string(genai.FinishReasonUnspecified) {
		return nil, fmt.Errorf("%w: 画像生成が異常終了しました (FinishReason: %s)", failure.ErrNoImage, reason)
	}
	return nil, fmt.Errorf("%w: 画像データが見つかりませんでした", failure.ErrNoImage)
}
