// Package vectorindex stores passage vectors partitioned by persona.
//
// Every read is filtered by persona id; that filter is the only isolation
// between personas sharing the table, so a query without one is rejected.
// Distances are cosine distance halved, which puts them in [0,1].
package vectorindex

import (
	"context"
	"errors"
	"math"
	"time"

	"persona-kb/internal/models"
)

// ErrPersonaRequired is returned by operations called without a persona filter.
var ErrPersonaRequired = errors.New("vectorindex: persona filter is required")

// DefaultTimeout bounds each index call when none is configured.
const DefaultTimeout = 10 * time.Second

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

func indexErr(op string, err error) error {
	return &models.IndexError{Op: op, Err: err}
}

// cosineDistance returns (1 - cos(a, b)) / 2. Zero vectors are treated as
// maximally distant.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Min(1, math.Max(0, (1-cos)/2))
}
