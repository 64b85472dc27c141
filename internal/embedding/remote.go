package embedding

import (
	"context"
	"fmt"
	"time"

	"persona-kb/internal/middleware"
	"persona-kb/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// Embedder is the slice of the OpenAI client the remote provider needs.
type Embedder interface {
	CreateEmbedding(ctx context.Context, text, model string, dimensions int) ([]float32, error)
}

type RemoteOptions struct {
	Model     string
	Dimension int
	// Timeout bounds each call. Zero means no extra bound beyond ctx.
	Timeout time.Duration
	// RequestsPerSec <= 0 disables throttling.
	RequestsPerSec float64
	Burst          int
}

// Remote delegates to an external embedding service. Failures are returned
// as *models.ProviderError and never retried here.
type Remote struct {
	client  Embedder
	model   string
	dim     int
	timeout time.Duration
	limiter *rate.Limiter
}

func NewRemote(client Embedder, opts RemoteOptions) *Remote {
	r := &Remote{
		client:  client,
		model:   opts.Model,
		dim:     opts.Dimension,
		timeout: opts.Timeout,
	}
	if opts.RequestsPerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSec), burst)
	}
	return r
}

func (r *Remote) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := middleware.StartSpan(ctx, "Embedding.Remote",
		attribute.String("model", r.model),
		attribute.Int("text_length", len(text)),
	)
	defer span.End()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, r.fail(ctx, "rate limit", err)
		}
	}

	vec, err := r.client.CreateEmbedding(ctx, text, r.model, r.dim)
	if err != nil {
		return nil, r.fail(ctx, "create embedding", err)
	}
	if len(vec) != r.dim {
		return nil, r.fail(ctx, "create embedding",
			fmt.Errorf("expected %d dimensions, got %d", r.dim, len(vec)))
	}
	return vec, nil
}

func (r *Remote) fail(ctx context.Context, op string, err error) error {
	perr := &models.ProviderError{Op: op, Err: err}
	middleware.AddSpanError(ctx, perr)
	return perr
}

func (r *Remote) Name() string     { return "openai" }
func (r *Remote) Model() string    { return r.model }
func (r *Remote) Dimension() int   { return r.dim }
func (r *Remote) Configured() bool { return true }
