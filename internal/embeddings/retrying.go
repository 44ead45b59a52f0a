package embeddings

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/pkg/contracts"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Retrying adapts a batch EmbeddingDriver to the single-text Embedder.
// Transient failures are retried with exponential backoff; when every
// attempt fails a zero vector of the driver's dimension is returned and
// the result is marked degraded.
type Retrying struct {
	driver    contracts.EmbeddingDriver
	attempts  int
	baseDelay time.Duration
}

var _ contracts.Embedder = (*Retrying)(nil)

// NewRetrying wraps driver. attempts counts the first call.
func NewRetrying(driver contracts.EmbeddingDriver, attempts int, baseDelay time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &Retrying{driver: driver, attempts: attempts, baseDelay: baseDelay}
}

// Embed never fails; see Embedding.Degraded.
func (r *Retrying) Embed(ctx context.Context, text string) contracts.Embedding {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.baseDelay
	policy.MaxElapsedTime = 0

	var vector []float64
	op := func() error {
		vecs, err := r.driver.Embed(ctx, []string{text})
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(vecs) != 1 || len(vecs[0]) == 0 {
			return backoff.Permanent(errors.New("embedding response was empty"))
		}
		vector = vecs[0]
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.attempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		log.Warn().Err(err).Str("driver", r.driver.Kind()).Msg("Embedding failed, substituting zero vector")
		return contracts.Embedding{Vector: make([]float64, r.driver.Dimensions()), Degraded: true, Err: err}
	}
	return contracts.Embedding{Vector: vector}
}

// retryable reports whether an embedding error is worth another attempt:
// transport failures, rate limits and server errors.
func retryable(err error) bool {
	var up *errs.UpstreamProviderError
	if !errors.As(err, &up) {
		return false
	}
	if up.StatusCode == 0 {
		return true
	}
	return up.StatusCode == http.StatusTooManyRequests || up.StatusCode >= 500
}
