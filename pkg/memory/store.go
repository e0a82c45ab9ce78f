package memory

import (
	"context"
	"fmt"
)

// VectorStore is durable storage for embedding records with similarity queries
type VectorStore interface {
	// Begin opens the per-source transaction. It blocks until no other run
	// holds the same source identity.
	Begin(ctx context.Context, sourceType SourceType, sourceID string) (StoreTx, error)

	// Nearest returns up to limit records ordered by ascending distance
	Nearest(ctx context.Context, vector []float32, limit int) ([]Neighbor, error)

	// Counts returns the number of stored records per source type
	Counts(ctx context.Context) (map[SourceType]int, error)

	// SourceIDs returns the committed source identities of a type, sorted
	SourceIDs(ctx context.Context, sourceType SourceType) ([]string, error)

	// Dimension returns the fixed vector dimension of the store
	Dimension() int

	Close() error
}

// StoreTx is the write surface for a single source identity.
// Nothing is visible to readers until Commit.
type StoreTx interface {
	// Exists reports whether any record is stored under the identity
	Exists(ctx context.Context, sourceType SourceType, sourceID string) (bool, error)

	// ChunkHashes returns chunk id to content hash for the identity
	ChunkHashes(ctx context.Context, sourceType SourceType, sourceID string) (map[string]string, error)

	// DeleteWhere removes every record of the identity
	DeleteWhere(ctx context.Context, sourceType SourceType, sourceID string) (int64, error)

	// DeleteChunks removes the named chunks of a source type
	DeleteChunks(ctx context.Context, sourceType SourceType, chunkIDs []string) (int64, error)

	// InsertOrIgnore writes rec unless its chunk id already exists.
	// It reports whether a row was written.
	InsertOrIgnore(ctx context.Context, rec Record) (bool, error)

	// Insert writes rec and fails on a chunk id conflict
	Insert(ctx context.Context, rec Record) error

	Commit() error
	Rollback() error
}

// ValidateVector rejects vectors whose length differs from the store dimension
func ValidateVector(vector []float32, dimension int) error {
	if len(vector) != dimension {
		return &ConfigurationError{
			Op:  "vector store",
			Err: fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), dimension),
		}
	}
	return nil
}

// CheckStoreIdentity compares the model and dimension a store was created
// with against the ones requested for this run.
func CheckStoreIdentity(storedModel string, storedDimension int, model string, dimension int) error {
	if storedDimension != dimension {
		return &ConfigurationError{
			Op:  "vector store",
			Err: fmt.Errorf("%w: store has %d, provider produces %d", ErrDimensionMismatch, storedDimension, dimension),
		}
	}
	if storedModel != "" && model != "" && storedModel != model {
		return &ConfigurationError{
			Op:  "vector store",
			Err: fmt.Errorf("%w: store built with %s, provider uses %s", ErrModelMismatch, storedModel, model),
		}
	}
	return nil
}
