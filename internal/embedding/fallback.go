package embedding

import (
	"context"
	"crypto/md5"
)

// FallbackModel is recorded on chunks embedded without a remote provider.
const FallbackModel = "fallback-md5"

// Fallback is the offline provider. Each byte of the MD5 digest of the text
// becomes one value (b-128)/128 in [-1, 1), and the 16 values are tiled until
// the vector has the configured dimension. Same text, same vector. The
// vectors carry no semantic signal.
type Fallback struct {
	dim int
}

func NewFallback(dim int) *Fallback {
	return &Fallback{dim: dim}
}

func (f *Fallback) Embed(_ context.Context, text string) ([]float32, error) {
	sum := md5.Sum([]byte(text))

	vec := make([]float32, f.dim)
	for i := range vec {
		vec[i] = (float32(sum[i%len(sum)]) - 128) / 128
	}
	return vec, nil
}

func (f *Fallback) Name() string     { return "fallback" }
func (f *Fallback) Model() string    { return FallbackModel }
func (f *Fallback) Dimension() int   { return f.dim }
func (f *Fallback) Configured() bool { return false }
