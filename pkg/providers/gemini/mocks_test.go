package gemini

import (
	"context"
	"sync"

	"google.golang.org/genai"

	"github.com/shouni/image-fallback-kit/pkg/assets"
	"github.com/shouni/image-fallback-kit/pkg/domain"
)

// --- Mocks ---

type mockGenerator struct {
	mu        sync.Mutex
	calls     int
	lastModel string
	lastParts []*genai.Part
	lastCfg   *genai.GenerateContentConfig

	resp *genai.GenerateContentResponse
	err  error
}

func (m *mockGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastModel = model
	if len(contents) > 0 {
		m.lastParts = contents[0].Parts
	}
	m.lastCfg = config
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

type mockResolver struct {
	err error
}

func (m *mockResolver) Resolve(ctx context.Context, img domain.Image) (*assets.Payload, error) {
	if m.err != nil {
		return nil, m.err
	}
	// テストでは base64 / URL の文字列をそのままデータとして扱う。
	data := img.Base64
	if data == "" {
		data = img.URL
	}
	mimeType := img.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return &assets.Payload{Data: []byte(data), MimeType: mimeType}, nil
}

func imageResponse(data string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Parts: []*genai.Part{{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte(data)}}},
			},
		}},
	}
}

func finishResponse(reason genai.FinishReason) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: "I can't draw that."}}},
			FinishReason: reason,
		}},
	}
}
