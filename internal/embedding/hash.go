package embedding

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"sync/atomic"
	"unicode"
)

// HashEncoder is a deterministic stand-in for a pretrained network. Text is
// embedded by summing per-word pseudo-random vectors, so texts sharing words
// score higher cosine similarity; images are embedded from a hash of the
// quantized tensor. Useful for local development and tests.
type HashEncoder struct {
	dim atomic.Int64
}

// NewHashEncoder creates an unloaded HashEncoder.
func NewHashEncoder() *HashEncoder {
	return &HashEncoder{}
}

// Load sizes the output to the architecture of req.Model. Device is always "cpu".
func (e *HashEncoder) Load(_ context.Context, req LoadRequest) (LoadInfo, error) {
	arch, err := LookupArchitecture(req.Model)
	if err != nil {
		return LoadInfo{}, err
	}
	e.dim.Store(int64(arch.Dimension))
	return LoadInfo{Device: "cpu", Dimension: arch.Dimension}, nil
}

func (e *HashEncoder) EncodeText(_ context.Context, text string) ([]float32, error) {
	dim, err := e.dimension()
	if err != nil {
		return nil, err
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		words = []string{text}
	}

	out := make([]float32, dim)
	for _, w := range words {
		addSeeded(out, seed("text:"+w))
	}
	return out, nil
}

func (e *HashEncoder) EncodeImage(_ context.Context, img Tensor) ([]float32, error) {
	dim, err := e.dimension()
	if err != nil {
		return nil, err
	}

	h := fnv.New64a()
	buf := make([]byte, 2)
	for _, v := range img.Data {
		binary.LittleEndian.PutUint16(buf, uint16(int16(math.Round(float64(v)*64))))
		h.Write(buf)
	}

	out := make([]float32, dim)
	addSeeded(out, int64(h.Sum64()))
	return out, nil
}

func (e *HashEncoder) Close() error { return nil }

func (e *HashEncoder) dimension() (int, error) {
	dim := int(e.dim.Load())
	if dim == 0 {
		return 0, errors.New("hash encoder: not loaded")
	}
	return dim, nil
}

func seed(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}

func addSeeded(dst []float32, s int64) {
	r := rand.New(rand.NewSource(s))
	for i := range dst {
		dst[i] += float32(r.NormFloat64())
	}
}

var _ Encoder = (*HashEncoder)(nil)
