package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/image-fallback-kit/pkg/domain"
	"github.com/shouni/image-fallback-kit/pkg/failure"
)

func TestReferenceImages(t *testing.T) {
	products := make([]domain.Image, 20)
	for i := range products {
		products[i] = domain.Image{URL: "https://cdn.example.com/p.png"}
	}
	person := &domain.Image{Base64: "cGVyc29u"}
	style := &domain.Image{Base64: "c3R5bGU="}

	t.Run("人物、スタイル、商品の順に並べる", func(t *testing.T) {
		refs := ReferenceImages(domain.GenerationRequest{
			ProductImages:        products[:1],
			StyleReferenceImage:  style,
			PersonReferenceImage: person,
		}, 3)
		require.Len(t, refs, 3)
		assert.Equal(t, *person, refs[0])
		assert.Equal(t, *style, refs[1])
		assert.Equal(t, products[0], refs[2])
	})

	t.Run("商品画像は上限で黙って切り詰める", func(t *testing.T) {
		req := domain.GenerationRequest{ProductImages: products}
		assert.Len(t, ReferenceImages(req, MaxProductImages(domain.TierStandard)), 3)
		assert.Len(t, ReferenceImages(req, MaxProductImages(domain.TierPro)), 14)
	})

	t.Run("空の画像は数えない", func(t *testing.T) {
		req := domain.GenerationRequest{ProductImages: []domain.Image{{}, products[0], {}}}
		assert.Len(t, ReferenceImages(req, 3), 1)
	})
}

func TestMaxProductImages(t *testing.T) {
	assert.Equal(t, 3, MaxProductImages(""))
	assert.Equal(t, 14, MaxProductImages(domain.TierPro))
}

func TestCheckResult(t *testing.T) {
	_, err := CheckResult("fal", nil)
	assert.ErrorIs(t, err, failure.ErrNoImage)

	_, err = CheckResult("fal", &domain.ProviderResult{})
	assert.ErrorIs(t, err, failure.ErrNoImage)

	_, err = CheckResult("fal", &domain.ProviderResult{ImageURL: "ftp://x"})
	assert.ErrorIs(t, err, failure.ErrNoImage)

	r, err := CheckResult("fal", &domain.ProviderResult{ImageURL: "https://cdn.fal.ai/x.png", UsedModel: "m"})
	require.NoError(t, err)
	assert.Equal(t, "m", r.UsedModel)

	_, err = CheckResult("gemini", &domain.ProviderResult{ImageURL: "data:image/png;base64,AAAA"})
	assert.NoError(t, err)
}

func TestIsKnown(t *testing.T) {
	assert.True(t, IsKnown("gemini"))
	assert.True(t, IsKnown("fal"))
	assert.False(t, IsKnown("openrouter"))
}
