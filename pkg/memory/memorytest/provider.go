// Package memorytest provides test doubles for the memory package
package memorytest

import (
	"context"
	"sync"
)

// Provider generates deterministic embeddings. Individual texts can be
// pinned to a vector or made to fail.
type Provider struct {
	dimension int
	model     string

	mu      sync.Mutex
	vectors map[string][]float32
	errs    map[string]error
	calls   []string
}

// NewProvider creates a provider producing vectors of the given dimension
func NewProvider(dimension int) *Provider {
	return &Provider{
		dimension: dimension,
		model:     "mock-embedding",
		vectors:   make(map[string][]float32),
		errs:      make(map[string]error),
	}
}

// SetVector pins the vector returned for text
func (p *Provider) SetVector(text string, vec []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vectors[text] = vec
}

// FailOn makes every call for text return err
func (p *Provider) FailOn(text string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[text] = err
}

// Calls returns the texts embedded so far, in call order
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Reset forgets recorded calls
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

func (p *Provider) Dimension() int {
	return p.dimension
}

func (p *Provider) Model() string {
	return p.model
}

func (p *Provider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.calls = append(p.calls, text)
	err := p.errs[text]
	pinned, ok := p.vectors[text]
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ok {
		return append([]float32(nil), pinned...), nil
	}

	// Generate deterministic embedding based on text hash
	embedding := make([]float32, p.dimension)
	var hash uint64
	for _, c := range text {
		hash = hash*31 + uint64(c)
	}
	for i := 0; i < p.dimension; i++ {
		embedding[i] = float32((hash+uint64(i))%100)/100.0 + 0.01
	}

	return embedding, nil
}

func (p *Provider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := p.GenerateEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
