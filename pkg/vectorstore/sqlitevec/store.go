// Package sqlitevec stores memory embeddings in a local SQLite database
// using the sqlite-vec extension for cosine distance.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/harun/mnemo/pkg/memory"
	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// Config configures a SQLite vector store
type Config struct {
	Path      string
	Model     string
	Dimension int
	Logger    zerolog.Logger
}

// Store is a memory.VectorStore backed by SQLite and sqlite-vec
type Store struct {
	db        *sql.DB
	model     string
	dimension int
	locks     *memory.KeyedMutex
	logger    zerolog.Logger
}

var _ memory.VectorStore = (*Store)(nil)

// Open opens or creates the store at cfg.Path. A store created for a
// different model or dimension is rejected with a ConfigurationError.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, &memory.ConfigurationError{Op: "sqlite store", Err: errors.New("database path is required")}
	}
	if cfg.Dimension <= 0 {
		return nil, &memory.ConfigurationError{Op: "sqlite store", Err: fmt.Errorf("invalid dimension %d", cfg.Dimension)}
	}

	// Writers take the database lock at BEGIN so two runs never deadlock on upgrade
	db, err := sql.Open("sqlite3", cfg.Path+"?_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:        db,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		locks:     memory.NewKeyedMutex(),
		logger:    cfg.Logger,
	}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Debug().Str("path", cfg.Path).Int("dimension", cfg.Dimension).Msg("SQLite vector store opened")
	return s, nil
}

// initSchema creates tables and pins the store to its model and dimension
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS memory_embeddings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			chunk_id TEXT NOT NULL,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE (source_type, chunk_id)
		);
		CREATE INDEX IF NOT EXISTS idx_memory_source ON memory_embeddings(source_type, source_id);

		CREATE TABLE IF NOT EXISTS store_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := s.checkIdentity(ctx); err != nil {
		return err
	}

	vectorSchema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS vec_memory USING vec0(
			embedding float[%d] distance_metric=cosine
		);
	`, s.dimension)
	if _, err := s.db.ExecContext(ctx, vectorSchema); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}
	return nil
}

func (s *Store) checkIdentity(ctx context.Context) error {
	meta := make(map[string]string)
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM store_meta")
	if err != nil {
		return fmt.Errorf("failed to read store metadata: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("failed to read store metadata: %w", err)
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read store metadata: %w", err)
	}

	if raw, ok := meta["dimension"]; ok {
		dim, err := strconv.Atoi(raw)
		if err != nil {
			return &memory.ConfigurationError{Op: "sqlite store", Err: fmt.Errorf("corrupt stored dimension %q", raw)}
		}
		return memory.CheckStoreIdentity(meta["model"], dim, s.model, s.dimension)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO store_meta (key, value) VALUES ('model', ?), ('dimension', ?)",
		s.model, strconv.Itoa(s.dimension))
	if err != nil {
		return fmt.Errorf("failed to write store metadata: %w", err)
	}
	return nil
}

// Model returns the embedding model the store is pinned to
func (s *Store) Model() string {
	return s.model
}

func (s *Store) Dimension() int {
	return s.dimension
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Begin takes the in-process identity lock, then an immediate SQLite
// transaction that excludes writers in other processes.
func (s *Store) Begin(ctx context.Context, sourceType memory.SourceType, sourceID string) (memory.StoreTx, error) {
	unlock, err := s.locks.Lock(ctx, memory.IdentityKey(sourceType, sourceID))
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &storeTx{tx: tx, dimension: s.dimension, unlock: unlock}, nil
}

func (s *Store) Nearest(ctx context.Context, vector []float32, limit int) ([]memory.Neighbor, error) {
	if err := memory.ValidateVector(vector, s.dimension); err != nil {
		return nil, err
	}

	embeddingJSON, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	query := `
		SELECT
			e.source_type,
			e.source_id,
			e.chunk_id,
			e.content,
			vec_distance_cosine(v.embedding, ?) AS distance
		FROM vec_memory v
		JOIN memory_embeddings e ON e.id = v.rowid
		ORDER BY distance ASC, e.id ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, string(embeddingJSON), limit)
	if err != nil {
		return nil, fmt.Errorf("nearest query failed: %w", err)
	}
	defer rows.Close()

	var neighbors []memory.Neighbor
	for rows.Next() {
		var n memory.Neighbor
		var sourceType string
		if err := rows.Scan(&sourceType, &n.SourceID, &n.ChunkID, &n.Content, &n.Distance); err != nil {
			return nil, err
		}
		n.SourceType = memory.SourceType(sourceType)
		neighbors = append(neighbors, n)
	}
	return neighbors, rows.Err()
}

func (s *Store) Counts(ctx context.Context) (map[memory.SourceType]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT source_type, COUNT(*) FROM memory_embeddings GROUP BY source_type")
	if err != nil {
		return nil, fmt.Errorf("count query failed: %w", err)
	}
	defer rows.Close()

	counts := make(map[memory.SourceType]int)
	for rows.Next() {
		var sourceType string
		var n int
		if err := rows.Scan(&sourceType, &n); err != nil {
			return nil, err
		}
		counts[memory.SourceType(sourceType)] = n
	}
	return counts, rows.Err()
}

func (s *Store) SourceIDs(ctx context.Context, sourceType memory.SourceType) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT source_id FROM memory_embeddings WHERE source_type = ? ORDER BY source_id",
		string(sourceType))
	if err != nil {
		return nil, fmt.Errorf("source id query failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type storeTx struct {
	tx        *sql.Tx
	dimension int
	unlock    func()
	done      bool
}

func (t *storeTx) Exists(ctx context.Context, sourceType memory.SourceType, sourceID string) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx,
		"SELECT 1 FROM memory_embeddings WHERE source_type = ? AND source_id = ? LIMIT 1",
		string(sourceType), sourceID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *storeTx) ChunkHashes(ctx context.Context, sourceType memory.SourceType, sourceID string) (map[string]string, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT chunk_id, content_hash FROM memory_embeddings WHERE source_type = ? AND source_id = ?",
		string(sourceType), sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var chunkID, hash string
		if err := rows.Scan(&chunkID, &hash); err != nil {
			return nil, err
		}
		hashes[chunkID] = hash
	}
	return hashes, rows.Err()
}

func (t *storeTx) DeleteWhere(ctx context.Context, sourceType memory.SourceType, sourceID string) (int64, error) {
	return t.deleteSelected(ctx,
		"SELECT id FROM memory_embeddings WHERE source_type = ? AND source_id = ?",
		string(sourceType), sourceID)
}

func (t *storeTx) DeleteChunks(ctx context.Context, sourceType memory.SourceType, chunkIDs []string) (int64, error) {
	if len(chunkIDs) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(chunkIDs)+1)
	args = append(args, string(sourceType))
	for _, id := range chunkIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunkIDs)), ",")

	return t.deleteSelected(ctx,
		"SELECT id FROM memory_embeddings WHERE source_type = ? AND chunk_id IN ("+placeholders+")",
		args...)
}

// deleteSelected removes the rows returned by query from both tables.
// vec0 tables only support deletes by rowid.
func (t *storeTx) deleteSelected(ctx context.Context, query string, args ...any) (int64, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if _, err := t.tx.ExecContext(ctx, "DELETE FROM vec_memory WHERE rowid = ?", id); err != nil {
			return 0, fmt.Errorf("failed to delete vector %d: %w", id, err)
		}
		if _, err := t.tx.ExecContext(ctx, "DELETE FROM memory_embeddings WHERE id = ?", id); err != nil {
			return 0, fmt.Errorf("failed to delete record %d: %w", id, err)
		}
	}
	return int64(len(ids)), nil
}

func (t *storeTx) InsertOrIgnore(ctx context.Context, rec memory.Record) (bool, error) {
	return t.insert(ctx, rec, "INSERT OR IGNORE")
}

func (t *storeTx) Insert(ctx context.Context, rec memory.Record) error {
	_, err := t.insert(ctx, rec, "INSERT")
	return err
}

func (t *storeTx) insert(ctx context.Context, rec memory.Record, verb string) (bool, error) {
	if err := memory.ValidateVector(rec.Vector, t.dimension); err != nil {
		return false, err
	}

	embeddingJSON, err := json.Marshal(rec.Vector)
	if err != nil {
		return false, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	res, err := t.tx.ExecContext(ctx, verb+` INTO memory_embeddings
		(source_type, source_id, chunk_id, content, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(rec.SourceType), rec.SourceID, rec.ChunkID, rec.Content, rec.ContentHash, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to insert %s: %w", rec.ChunkID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return false, err
	}
	if _, err := t.tx.ExecContext(ctx, "INSERT INTO vec_memory (rowid, embedding) VALUES (?, ?)", id, string(embeddingJSON)); err != nil {
		return false, fmt.Errorf("failed to insert vector for %s: %w", rec.ChunkID, err)
	}
	return true, nil
}

func (t *storeTx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	defer t.unlock()
	return t.tx.Commit()
}

func (t *storeTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.unlock()
	return t.tx.Rollback()
}
