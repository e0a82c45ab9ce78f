package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/harun/mnemo/internal/observability"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// EmbedderOptions bounds every provider call
type EmbedderOptions struct {
	// Timeout applies to a single provider call
	Timeout time.Duration
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int
	// InitialBackoff is the wait before the second attempt; later waits double up to MaxBackoff
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RequestsPerMinute caps the provider call rate; zero disables the limiter
	RequestsPerMinute int
}

// DefaultEmbedderOptions returns the defaults used by the CLI
func DefaultEmbedderOptions() EmbedderOptions {
	return EmbedderOptions{
		Timeout:        30 * time.Second,
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// Embedder obtains one vector per unit from an EmbeddingProvider with
// timeouts, rate limiting and retries for transient failures.
type Embedder struct {
	provider EmbeddingProvider
	opts     EmbedderOptions
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

// NewEmbedder wraps provider with the given call policy
func NewEmbedder(provider EmbeddingProvider, opts EmbedderOptions, logger zerolog.Logger) *Embedder {
	defaults := DefaultEmbedderOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaults.InitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaults.MaxBackoff
	}

	e := &Embedder{
		provider: provider,
		opts:     opts,
		logger:   logger,
	}
	if opts.RequestsPerMinute > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), 1)
	}
	return e
}

// Provider returns the wrapped provider
func (e *Embedder) Provider() EmbeddingProvider {
	return e.provider
}

// Dimension returns the vector dimension produced by the provider
func (e *Embedder) Dimension() int {
	return e.provider.Dimension()
}

// Embed returns the vector for text. Authorization failures and dimension
// mismatches surface as ConfigurationError, rejected input as DataError and
// exhausted retries as TransportError.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	attempt := 0

	operation := func() ([]float32, error) {
		attempt++
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()

		vec, err := e.provider.GenerateEmbedding(callCtx, text)
		if err != nil {
			// A deadline on the per-call context is a timeout, not a cancellation of the run
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrUnavailable) {
				err = fmt.Errorf("%w: call timed out after %s: %v", ErrUnavailable, e.opts.Timeout, err)
			}
			if ctx.Err() == nil && retryable(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}

		if len(vec) != e.provider.Dimension() {
			return nil, backoff.Permanent(fmt.Errorf("%w: provider returned %d, want %d", ErrDimensionMismatch, len(vec), e.provider.Dimension()))
		}
		return vec, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.InitialBackoff
	b.MaxInterval = e.opts.MaxBackoff

	vec, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			observability.RecordEmbeddingRetry()
			e.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", e.opts.MaxAttempts).
				Dur("next_delay", next).
				Msg("Embedding call failed, retrying")
		}),
	)

	observability.RecordEmbeddingCall(time.Since(start), err == nil)

	if err != nil {
		return nil, classifyEmbedError(err, attempt)
	}
	return vec, nil
}

// EmbedChunks embeds units one call at a time, in emission order.
// The first failure stops the remaining units.
func (e *Embedder) EmbedChunks(ctx context.Context, units []Chunk) ([]Record, error) {
	records := make([]Record, 0, len(units))
	for _, u := range units {
		vec, err := e.Embed(ctx, u.Text)
		if err != nil {
			var de *DataError
			if errors.As(err, &de) {
				return nil, &DataError{
					SourceType: u.SourceType,
					SourceID:   u.SourceID,
					Err:        fmt.Errorf("chunk %s: %w", u.ChunkID, de.Err),
				}
			}
			return nil, err
		}

		records = append(records, Record{
			SourceType:  u.SourceType,
			SourceID:    u.SourceID,
			ChunkID:     u.ChunkID,
			Content:     u.Text,
			ContentHash: u.Hash(),
			Vector:      vec,
		})
	}
	return records, nil
}

func retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// classifyEmbedError maps a final provider failure onto the error taxonomy
func classifyEmbedError(err error, attempts int) error {
	switch {
	case errors.Is(err, ErrAuth), errors.Is(err, ErrNoCredentials), errors.Is(err, ErrDimensionMismatch):
		return &ConfigurationError{Op: "embed", Err: err}
	case errors.Is(err, ErrInvalidInput):
		return &DataError{Err: err}
	case errors.Is(err, context.Canceled):
		return err
	default:
		return &TransportError{Op: fmt.Sprintf("embed (%d attempts)", attempts), Err: err}
	}
}
