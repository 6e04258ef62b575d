package orchestrator

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/shouni/image-fallback-kit/pkg/domain"
)

// --- Mocks ---

type mockAdapter struct {
	mock.Mock
	name string
}

func newMockAdapter(name string) *mockAdapter {
	return &mockAdapter{name: name}
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.ProviderResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*domain.ProviderResult)
	return res, args.Error(1)
}

func (m *mockAdapter) Edit(ctx context.Context, req domain.EditRequest) (*domain.ProviderResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*domain.ProviderResult)
	return res, args.Error(1)
}
