// Package postgres stores memory embeddings in PostgreSQL with pgvector.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/harun/mnemo/pkg/memory"
	"github.com/rs/zerolog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Config configures a PostgreSQL vector store
type Config struct {
	DSN       string
	Model     string
	Dimension int
	Logger    zerolog.Logger
}

// Store is a memory.VectorStore backed by PostgreSQL and pgvector
type Store struct {
	db        *sql.DB
	model     string
	dimension int
	logger    zerolog.Logger
}

var _ memory.VectorStore = (*Store)(nil)

// Open connects, creates or upgrades the schema and checks the stored
// model and dimension.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, &memory.ConfigurationError{Op: "postgres store", Err: errors.New("dsn is required")}
	}
	if cfg.Dimension <= 0 {
		return nil, &memory.ConfigurationError{Op: "postgres store", Err: fmt.Errorf("invalid dimension %d", cfg.Dimension)}
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{
		db:        db,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		logger:    cfg.Logger,
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Debug().Int("dimension", cfg.Dimension).Msg("Postgres vector store opened")
	return s, nil
}

// schemaStatements creates the schema. Tables written before chunk ids and
// content hashes existed are upgraded in place: the old source_id becomes the
// chunk id and chunked sources get their file name back as source_id. Those
// tables may hold the same chunk many times, so duplicates are dropped,
// keeping the oldest row, before the unique key is built.
func schemaStatements(dimension int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_embeddings (
			id BIGSERIAL PRIMARY KEY,
			source_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			chunk_id TEXT,
			content TEXT NOT NULL,
			content_hash TEXT,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dimension),
		`ALTER TABLE memory_embeddings ADD COLUMN IF NOT EXISTS chunk_id TEXT`,
		`ALTER TABLE memory_embeddings ADD COLUMN IF NOT EXISTS content_hash TEXT`,
		`UPDATE memory_embeddings
			SET chunk_id = source_id,
				source_id = CASE
					WHEN source_type IN ('daily_log', 'memory_md') AND position(':chunk' IN source_id) > 0
					THEN split_part(source_id, ':chunk', 1)
					ELSE source_id
				END
			WHERE chunk_id IS NULL`,
		`UPDATE memory_embeddings
			SET content_hash = encode(sha256(convert_to(content, 'UTF8')), 'hex')
			WHERE content_hash IS NULL`,
		dedupStatement,
		`CREATE UNIQUE INDEX IF NOT EXISTS memory_embeddings_chunk_key ON memory_embeddings (source_type, chunk_id)`,
		`CREATE INDEX IF NOT EXISTS memory_embeddings_source_idx ON memory_embeddings (source_type, source_id)`,
		`CREATE TABLE IF NOT EXISTS mnemo_store_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
}

const dedupStatement = `DELETE FROM memory_embeddings a
	USING memory_embeddings b
	WHERE a.source_type = b.source_type
		AND a.chunk_id = b.chunk_id
		AND a.id > b.id`

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.dimension) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres store: %w", err)
		}
	}

	return s.checkIdentity(ctx)
}

func (s *Store) checkIdentity(ctx context.Context) error {
	var storedModel, storedDim sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT value FROM mnemo_store_meta WHERE key = 'model'),
			(SELECT value FROM mnemo_store_meta WHERE key = 'dimension')`).Scan(&storedModel, &storedDim)
	if err != nil {
		return fmt.Errorf("read store metadata: %w", err)
	}

	if storedDim.Valid {
		dim, err := strconv.Atoi(storedDim.String)
		if err != nil {
			return &memory.ConfigurationError{Op: "postgres store", Err: fmt.Errorf("corrupt stored dimension %q", storedDim.String)}
		}
		return memory.CheckStoreIdentity(storedModel.String, dim, s.model, s.dimension)
	}

	// Tables created before metadata existed carry the dimension in the column type
	var columnDim int
	err = s.db.QueryRowContext(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'memory_embeddings'::regclass AND attname = 'embedding'`).Scan(&columnDim)
	if err != nil {
		return fmt.Errorf("read embedding column type: %w", err)
	}
	if columnDim > 0 {
		if err := memory.CheckStoreIdentity("", columnDim, s.model, s.dimension); err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mnemo_store_meta (key, value) VALUES ('model', $1), ('dimension', $2)
		ON CONFLICT (key) DO NOTHING`, s.model, strconv.Itoa(s.dimension))
	if err != nil {
		return fmt.Errorf("write store metadata: %w", err)
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

// Begin opens a transaction holding a transaction-scoped advisory lock on
// the source identity, so concurrent runs on any host serialize per source.
func (s *Store) Begin(ctx context.Context, sourceType memory.SourceType, sourceID string) (memory.StoreTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", memory.IdentityKey(sourceType, sourceID)); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("acquire identity lock: %w", err)
	}

	return &storeTx{tx: tx, dimension: s.dimension}, nil
}

func (s *Store) Nearest(ctx context.Context, vector []float32, limit int) ([]memory.Neighbor, error) {
	if err := memory.ValidateVector(vector, s.dimension); err != nil {
		return nil, err
	}

	vecStr := vectorToString(vector)
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_type, source_id, COALESCE(chunk_id, source_id), content,
			embedding <=> $1::vector AS distance
		FROM memory_embeddings
		ORDER BY embedding <=> $1::vector, id
		LIMIT $2`, vecStr, limit)
	if err != nil {
		return nil, fmt.Errorf("nearest query: %w", err)
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
		return nil, fmt.Errorf("count query: %w", err)
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
		"SELECT DISTINCT source_id FROM memory_embeddings WHERE source_type = $1 ORDER BY source_id",
		string(sourceType))
	if err != nil {
		return nil, fmt.Errorf("source id query: %w", err)
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
	done      bool
}

func (t *storeTx) Exists(ctx context.Context, sourceType memory.SourceType, sourceID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM memory_embeddings WHERE source_type = $1 AND source_id = $2)",
		string(sourceType), sourceID).Scan(&exists)
	return exists, err
}

func (t *storeTx) ChunkHashes(ctx context.Context, sourceType memory.SourceType, sourceID string) (map[string]string, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT chunk_id, COALESCE(content_hash, '') FROM memory_embeddings WHERE source_type = $1 AND source_id = $2",
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
	res, err := t.tx.ExecContext(ctx,
		"DELETE FROM memory_embeddings WHERE source_type = $1 AND source_id = $2",
		string(sourceType), sourceID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *storeTx) DeleteChunks(ctx context.Context, sourceType memory.SourceType, chunkIDs []string) (int64, error) {
	if len(chunkIDs) == 0 {
		return 0, nil
	}
	res, err := t.tx.ExecContext(ctx,
		"DELETE FROM memory_embeddings WHERE source_type = $1 AND chunk_id = ANY($2)",
		string(sourceType), chunkIDs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const insertSQL = `INSERT INTO memory_embeddings
	(source_type, source_id, chunk_id, content, content_hash, embedding)
	VALUES ($1, $2, $3, $4, $5, $6::vector)`

func (t *storeTx) InsertOrIgnore(ctx context.Context, rec memory.Record) (bool, error) {
	if err := memory.ValidateVector(rec.Vector, t.dimension); err != nil {
		return false, err
	}

	res, err := t.tx.ExecContext(ctx, insertSQL+" ON CONFLICT (source_type, chunk_id) DO NOTHING",
		string(rec.SourceType), rec.SourceID, rec.ChunkID, rec.Content, rec.ContentHash, vectorToString(rec.Vector))
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", rec.ChunkID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *storeTx) Insert(ctx context.Context, rec memory.Record) error {
	if err := memory.ValidateVector(rec.Vector, t.dimension); err != nil {
		return err
	}

	_, err := t.tx.ExecContext(ctx, insertSQL,
		string(rec.SourceType), rec.SourceID, rec.ChunkID, rec.Content, rec.ContentHash, vectorToString(rec.Vector))
	if err != nil {
		return fmt.Errorf("insert %s: %w", rec.ChunkID, err)
	}
	return nil
}

func (t *storeTx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	return t.tx.Commit()
}

func (t *storeTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

// vectorToString renders v as a pgvector literal
func vectorToString(v []float32) string {
	if len(v) == 0 {
		return ""
	}
	buf := make([]byte, 0, len(v)*10)
	buf = append(buf, '[')
	for i, f := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, float64(f), 'g', -1, 32)
	}
	buf = append(buf, ']')
	return string(buf)
}
