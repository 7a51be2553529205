// Package embedding computes unit-normalized CLIP embeddings for text and
// images. The pretrained network itself sits behind the Encoder interface.
package embedding

import (
	"context"
	"errors"
)

var (
	// ErrUpstreamFetch is returned when an image URL cannot be downloaded.
	ErrUpstreamFetch = errors.New("image fetch failed")
	// ErrDecode is returned when fetched bytes are not a supported image.
	ErrDecode = errors.New("cannot identify image file")
	// ErrDimension is returned when an encoder yields a vector of the wrong size.
	ErrDimension = errors.New("unexpected embedding dimension")
	// ErrUnknownArchitecture is returned for model names missing from the registry.
	ErrUnknownArchitecture = errors.New("unknown model architecture")
)

// Vector is a unit-normalized embedding.
type Vector []float32

// Tensor is a preprocessed image in CHW layout.
type Tensor struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// Shape returns the tensor dimensions as [C, H, W].
func (t Tensor) Shape() []int {
	return []int{t.Channels, t.Height, t.Width}
}

// LoadRequest asks an encoder to bring a set of pretrained weights into memory.
type LoadRequest struct {
	Model      string `json:"model"`
	Pretrained string `json:"pretrained"`
	Device     string `json:"device"`
}

// LoadInfo describes the loaded weights.
type LoadInfo struct {
	Device    string `json:"device"`
	Dimension int    `json:"dimension"`
}

// Encoder runs a pretrained text/image network in inference mode. Output
// vectors need not be normalized. Implementations must be safe for
// concurrent use once Load has returned.
type Encoder interface {
	Load(ctx context.Context, req LoadRequest) (LoadInfo, error)
	EncodeText(ctx context.Context, text string) ([]float32, error)
	EncodeImage(ctx context.Context, img Tensor) ([]float32, error)
	Close() error
}
