package gemini

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// ContentGenerator は Gemini のコンテンツ生成 API です。*genai.Models が満たします。
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ClientFactory は API キーから ContentGenerator を生成します。
type ClientFactory func(ctx context.Context, apiKey string) (ContentGenerator, error)

// NewSDKClient は genai SDK のクライアントを生成します。
func NewSDKClient(ctx context.Context, apiKey string) (ContentGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client.Models, nil
}

// LazyClient は最初の呼び出し時に SDK クライアントを1度だけ生成し、以後使い回します。
// 生成はミューテックスで保護され、失敗した場合は次回の呼び出しで再試行されます。
type LazyClient struct {
	apiKey  string
	factory ClientFactory

	mu     sync.Mutex
	client ContentGenerator
}

// NewLazyClient は LazyClient を初期化します。factory が nil の場合は NewSDKClient を使います。
func NewLazyClient(apiKey string, factory ClientFactory) *LazyClient {
	if factory == nil {
		factory = NewSDKClient
	}
	return &LazyClient{apiKey: apiKey, factory: factory}
}

func (c *LazyClient) get(ctx context.Context) (ContentGenerator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := c.factory(ctx, c.apiKey)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

// GenerateContent は ContentGenerator を実装します。
func (c *LazyClient) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	client, err := c.get(ctx)
	if err != nil {
		return nil, err
	}
	return client.GenerateContent(ctx, model, contents, config)
}

// Reset はキャッシュ済みのクライアントを破棄します。
func (c *LazyClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = nil
}
