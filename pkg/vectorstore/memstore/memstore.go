// Package memstore is an in-process vector store with brute-force cosine
// ranking. Nothing survives the process.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/harun/mnemo/pkg/memory"
)

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("memstore: store is closed")

type row struct {
	id  int64
	rec memory.Record
}

// Store keeps every record in memory
type Store struct {
	model     string
	dimension int
	locks     *memory.KeyedMutex

	mu     sync.RWMutex
	rows   []row
	nextID int64
	closed bool
}

var _ memory.VectorStore = (*Store)(nil)

// New creates an empty store for vectors of the given dimension
func New(model string, dimension int) *Store {
	return &Store{
		model:     model,
		dimension: dimension,
		locks:     memory.NewKeyedMutex(),
		nextID:    1,
	}
}

// Model returns the embedding model the store was created for
func (s *Store) Model() string {
	return s.model
}

func (s *Store) Dimension() int {
	return s.dimension
}

// Begin acquires the identity lock and opens a staged transaction
func (s *Store) Begin(ctx context.Context, sourceType memory.SourceType, sourceID string) (memory.StoreTx, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	unlock, err := s.locks.Lock(ctx, memory.IdentityKey(sourceType, sourceID))
	if err != nil {
		return nil, err
	}
	return &tx{store: s, unlock: unlock, deleted: make(map[int64]struct{})}, nil
}

// Nearest ranks every record by cosine distance, ties by insertion order
func (s *Store) Nearest(ctx context.Context, vector []float32, limit int) ([]memory.Neighbor, error) {
	if err := memory.ValidateVector(vector, s.dimension); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	type scored struct {
		id       int64
		distance float64
		rec      memory.Record
	}
	all := make([]scored, 0, len(s.rows))
	for _, r := range s.rows {
		all = append(all, scored{id: r.id, distance: CosineDistance(vector, r.rec.Vector), rec: r.rec})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].distance != all[j].distance {
			return all[i].distance < all[j].distance
		}
		return all[i].id < all[j].id
	})

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	neighbors := make([]memory.Neighbor, 0, len(all))
	for _, sc := range all {
		neighbors = append(neighbors, memory.Neighbor{
			SourceType: sc.rec.SourceType,
			SourceID:   sc.rec.SourceID,
			ChunkID:    sc.rec.ChunkID,
			Content:    sc.rec.Content,
			Distance:   sc.distance,
		})
	}
	return neighbors, nil
}

func (s *Store) Counts(ctx context.Context) (map[memory.SourceType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	counts := make(map[memory.SourceType]int)
	for _, r := range s.rows {
		counts[r.rec.SourceType]++
	}
	return counts, nil
}

func (s *Store) SourceIDs(ctx context.Context, sourceType memory.SourceType) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, r := range s.rows {
		if r.rec.SourceType != sourceType {
			continue
		}
		if _, ok := seen[r.rec.SourceID]; ok {
			continue
		}
		seen[r.rec.SourceID] = struct{}{}
		ids = append(ids, r.rec.SourceID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are at distance 1.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// tx stages deletes and inserts and applies them on Commit
type tx struct {
	store   *Store
	unlock  func()
	deleted map[int64]struct{}
	inserts []memory.Record
	done    bool
}

// visible returns committed rows not deleted in this tx followed by staged inserts
func (t *tx) visible() []row {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	rows := make([]row, 0, len(t.store.rows)+len(t.inserts))
	for _, r := range t.store.rows {
		if _, gone := t.deleted[r.id]; !gone {
			rows = append(rows, r)
		}
	}
	for _, rec := range t.inserts {
		rows = append(rows, row{rec: rec})
	}
	return rows
}

func (t *tx) Exists(ctx context.Context, sourceType memory.SourceType, sourceID string) (bool, error) {
	for _, r := range t.visible() {
		if r.rec.SourceType == sourceType && r.rec.SourceID == sourceID {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) ChunkHashes(ctx context.Context, sourceType memory.SourceType, sourceID string) (map[string]string, error) {
	hashes := make(map[string]string)
	for _, r := range t.visible() {
		if r.rec.SourceType == sourceType && r.rec.SourceID == sourceID {
			hashes[r.rec.ChunkID] = r.rec.ContentHash
		}
	}
	return hashes, nil
}

func (t *tx) DeleteWhere(ctx context.Context, sourceType memory.SourceType, sourceID string) (int64, error) {
	return t.deleteMatching(func(rec memory.Record) bool {
		return rec.SourceType == sourceType && rec.SourceID == sourceID
	}), nil
}

func (t *tx) DeleteChunks(ctx context.Context, sourceType memory.SourceType, chunkIDs []string) (int64, error) {
	ids := make(map[string]struct{}, len(chunkIDs))
	for _, id := range chunkIDs {
		ids[id] = struct{}{}
	}
	return t.deleteMatching(func(rec memory.Record) bool {
		_, ok := ids[rec.ChunkID]
		return rec.SourceType == sourceType && ok
	}), nil
}

func (t *tx) deleteMatching(match func(memory.Record) bool) int64 {
	var n int64

	t.store.mu.RLock()
	for _, r := range t.store.rows {
		if _, gone := t.deleted[r.id]; gone {
			continue
		}
		if match(r.rec) {
			t.deleted[r.id] = struct{}{}
			n++
		}
	}
	t.store.mu.RUnlock()

	kept := t.inserts[:0]
	for _, rec := range t.inserts {
		if match(rec) {
			n++
			continue
		}
		kept = append(kept, rec)
	}
	t.inserts = kept

	return n
}

func (t *tx) conflicts(rec memory.Record) bool {
	for _, r := range t.visible() {
		if r.rec.SourceType == rec.SourceType && r.rec.ChunkID == rec.ChunkID {
			return true
		}
	}
	return false
}

func (t *tx) InsertOrIgnore(ctx context.Context, rec memory.Record) (bool, error) {
	if err := memory.ValidateVector(rec.Vector, t.store.dimension); err != nil {
		return false, err
	}
	if t.conflicts(rec) {
		return false, nil
	}
	t.inserts = append(t.inserts, rec)
	return true, nil
}

func (t *tx) Insert(ctx context.Context, rec memory.Record) error {
	if err := memory.ValidateVector(rec.Vector, t.store.dimension); err != nil {
		return err
	}
	if t.conflicts(rec) {
		return fmt.Errorf("memstore: duplicate chunk %s/%s", rec.SourceType, rec.ChunkID)
	}
	t.inserts = append(t.inserts, rec)
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return errors.New("memstore: transaction already finished")
	}
	t.done = true
	defer t.unlock()

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	kept := s.rows[:0]
	for _, r := range s.rows {
		if _, gone := t.deleted[r.id]; !gone {
			kept = append(kept, r)
		}
	}
	s.rows = kept

	for _, rec := range t.inserts {
		vec := make([]float32, len(rec.Vector))
		copy(vec, rec.Vector)
		rec.Vector = vec
		s.rows = append(s.rows, row{id: s.nextID, rec: rec})
		s.nextID++
	}
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.unlock()
	return nil
}
