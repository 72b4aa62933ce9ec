package imagegen

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// MockSeed is the seed reported when a job passes none.
const MockSeed = 12345

const mockFallbackSize = 64

// MockProvider renders a solid red PNG the size of the template without any
// network access. Output depends only on the template size, so repeated calls
// are byte-identical.
type MockProvider struct{}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a MockProvider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Generate implements Provider.
func (p *MockProvider) Generate(ctx context.Context, template []byte, prompt string, params map[string]any) ([]byte, map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, cancelled(ctx)
	}

	w, h := mockFallbackSize, mockFallbackSize
	if len(template) > 0 {
		if tw, th, err := ImageSize(template); err == nil {
			w, h = tw, th
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 0xff, A: 0xff}}, image.Point{}, draw.Src)
	data, err := encodePNG(img)
	if err != nil {
		return nil, nil, FatalError("mock", "", err)
	}

	var seed any = MockSeed
	if v, ok := params["seed"]; ok {
		seed = v
	}
	metadata := map[string]any{
		"prompt":      prompt,
		"model":       "mock",
		"seed":        seed,
		"params":      cloneMetadata(params),
		"response_id": fmt.Sprintf("mock-%dx%d", w, h),
	}
	return data, metadata, nil
}
