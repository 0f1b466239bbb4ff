// Package imagegen produces design artwork from a text prompt.
package imagegen

import (
	"context"
	"errors"
)

var ErrGenerationFailed = errors.New("image generation failed")

type Request struct {
	Prompt string
	SizeCM int
}

// Result carries the full resolution image and a downscaled preview.
type Result struct {
	Image       []byte
	Preview     []byte
	ContentType string
}

type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}
