package imagegen

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
)

// Static renders a deterministic placeholder image. It backs local
// development when no OpenAI key is configured.
type Static struct{}

func NewStatic() *Static { return &Static{} }

func (Static) Generate(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: empty prompt", ErrGenerationFailed)
	}
	normal, err := placeholder(req.Prompt, 256)
	if err != nil {
		return nil, err
	}
	preview, err := placeholder(req.Prompt, 64)
	if err != nil {
		return nil, err
	}
	return &Result{Image: normal, Preview: preview, ContentType: "image/png"}, nil
}

func placeholder(seed string, size int) ([]byte, error) {
	var h uint32 = 2166136261
	for i := 0; i < len(seed); i++ {
		h ^= uint32(seed[i])
		h *= 16777619
	}
	fill := color.RGBA{R: uint8(h), G: uint8(h >> 8), B: uint8(h >> 16), A: 255}

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if x < size/8 || y < size/8 || x >= size-size/8 || y >= size-size/8 {
				img.Set(x, y, color.White)
				continue
			}
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
