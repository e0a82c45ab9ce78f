package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider returns queued errors before answering normally
type scriptedProvider struct {
	mu        sync.Mutex
	dimension int
	errs      []error
	calls     int
	delay     time.Duration
	short     bool
}

func (p *scriptedProvider) Dimension() int { return p.dimension }
func (p *scriptedProvider) Model() string  { return "scripted" }

func (p *scriptedProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.calls++
	var err error
	if len(p.errs) > 0 {
		err = p.errs[0]
		p.errs = p.errs[1:]
	}
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if p.short {
		return make([]float32, p.dimension-1), nil
	}
	return make([]float32, p.dimension), nil
}

func (p *scriptedProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, err := p.GenerateEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func fastOptions(attempts int) EmbedderOptions {
	return EmbedderOptions{
		Timeout:        time.Second,
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestEmbedder_RetriesTransientFailures(t *testing.T) {
	p := &scriptedProvider{dimension: 8, errs: []error{
		fmt.Errorf("%w: slow down", ErrRateLimited),
		fmt.Errorf("%w: 502", ErrUnavailable),
	}}
	e := NewEmbedder(p, fastOptions(4), zerolog.Nop())

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Equal(t, 3, p.callCount())
}

func TestEmbedder_ExhaustedRetriesIsTransportError(t *testing.T) {
	p := &scriptedProvider{dimension: 8, errs: []error{ErrUnavailable, ErrUnavailable, ErrUnavailable}}
	e := NewEmbedder(p, fastOptions(3), zerolog.Nop())

	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, p.callCount())
}

func TestEmbedder_ClassifiesPermanentFailures(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"auth", fmt.Errorf("%w (status 401)", ErrAuth), IsConfiguration},
		{"missing credentials", ErrNoCredentials, IsConfiguration},
		{"invalid input", fmt.Errorf("%w (status 400)", ErrInvalidInput), IsData},
		{"unknown failure", errors.New("boom"), IsTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{dimension: 4, errs: []error{tt.err}}
			e := NewEmbedder(p, fastOptions(4), zerolog.Nop())

			_, err := e.Embed(context.Background(), "x")
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected class for %v", err)
			assert.Equal(t, 1, p.callCount(), "permanent failures must not be retried")
		})
	}
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	p := &scriptedProvider{dimension: 4, short: true}
	e := NewEmbedder(p, fastOptions(4), zerolog.Nop())

	_, err := e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 1, p.callCount())
}

func TestEmbedder_TimeoutIsRetried(t *testing.T) {
	p := &scriptedProvider{dimension: 4, delay: 50 * time.Millisecond}
	opts := fastOptions(2)
	opts.Timeout = 5 * time.Millisecond
	e := NewEmbedder(p, opts, zerolog.Nop())

	_, err := e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, p.callCount())
}

func TestEmbedder_CancelledContext(t *testing.T) {
	p := &scriptedProvider{dimension: 4, errs: []error{ErrUnavailable}}
	e := NewEmbedder(p, fastOptions(4), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Embed(ctx, "x")
	require.Error(t, err)
	assert.False(t, IsConfiguration(err))
}

func TestEmbedder_EmbedChunks(t *testing.T) {
	p := &scriptedProvider{dimension: 4}
	e := NewEmbedder(p, fastOptions(1), zerolog.Nop())

	chunks := []Chunk{
		{SourceType: SourceDailyLog, SourceID: "a.md", ChunkID: "a.md:chunk0", Text: "first"},
		{SourceType: SourceDailyLog, SourceID: "a.md", ChunkID: "a.md:chunk1", Text: "second"},
	}

	records, err := e.EmbedChunks(context.Background(), chunks)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a.md:chunk0", records[0].ChunkID)
	assert.Equal(t, ContentHash("first"), records[0].ContentHash)
	assert.Equal(t, "second", records[1].Content)
	assert.Len(t, records[1].Vector, 4)
}

func TestEmbedder_EmbedChunksDataErrorNamesUnit(t *testing.T) {
	p := &scriptedProvider{dimension: 4, errs: []error{nil, ErrInvalidInput}}
	e := NewEmbedder(p, fastOptions(1), zerolog.Nop())

	chunks := []Chunk{
		{SourceType: SourceEvent, SourceID: "event:1", ChunkID: "event:1", Text: "ok"},
		{SourceType: SourceEvent, SourceID: "event:2", ChunkID: "event:2", Text: "bad"},
	}

	_, err := e.EmbedChunks(context.Background(), chunks)
	require.Error(t, err)

	var de *DataError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, SourceEvent, de.SourceType)
	assert.Equal(t, "event:2", de.SourceID)
}

func TestEmbedder_EmbedChunksDataErrorNamesSource(t *testing.T) {
	p := &scriptedProvider{dimension: 4, errs: []error{nil, ErrInvalidInput}}
	e := NewEmbedder(p, fastOptions(1), zerolog.Nop())

	chunks := []Chunk{
		{SourceType: SourceDailyLog, SourceID: "a.md", ChunkID: "a.md:chunk0", Text: "ok"},
		{SourceType: SourceDailyLog, SourceID: "a.md", ChunkID: "a.md:chunk1", Text: "bad"},
	}

	_, err := e.EmbedChunks(context.Background(), chunks)
	require.Error(t, err)

	var de *DataError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "a.md", de.SourceID)
	assert.Contains(t, de.Error(), "chunk a.md:chunk1")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEmbedder_RateLimiter(t *testing.T) {
	p := &scriptedProvider{dimension: 4}
	opts := fastOptions(1)
	opts.RequestsPerMinute = 60000
	e := NewEmbedder(p, opts, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := e.Embed(context.Background(), "x")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, p.callCount())
}
