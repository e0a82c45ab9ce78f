package postgres

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/harun/mnemo/pkg/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorToString(t *testing.T) {
	assert.Equal(t, "", vectorToString(nil))
	assert.Equal(t, "[1,0.5,-0.25]", vectorToString([]float32{1, 0.5, -0.25}))
	assert.Equal(t, "[0.1]", vectorToString([]float32{0.1}))
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(context.Background(), Config{Dimension: 3})
	require.Error(t, err)
	assert.True(t, memory.IsConfiguration(err))

	_, err = Open(context.Background(), Config{DSN: "postgres://localhost/x"})
	require.Error(t, err)
	assert.True(t, memory.IsConfiguration(err))
}

// createTestStore connects to the database named by MNEMO_TEST_POSTGRES_DSN.
// The database must have the pgvector extension available.
func createTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("MNEMO_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MNEMO_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	s, err := Open(ctx, Config{
		DSN:       dsn,
		Model:     "text-embedding-3-small",
		Dimension: 3,
		Logger:    zerolog.New(os.Stdout).Level(zerolog.Disabled),
	})
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, "TRUNCATE memory_embeddings")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestStore_Integration(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := func(chunkID, content string, vec ...float32) memory.Record {
		return memory.Record{
			SourceType:  memory.SourceDailyLog,
			SourceID:    "2026-01-01.md",
			ChunkID:     chunkID,
			Content:     content,
			ContentHash: memory.ContentHash(content),
			Vector:      vec,
		}
	}

	tx, err := s.Begin(ctx, memory.SourceDailyLog, "2026-01-01.md")
	require.NoError(t, err)

	exists, err := tx.Exists(ctx, memory.SourceDailyLog, "2026-01-01.md")
	require.NoError(t, err)
	assert.False(t, exists)

	inserted, err := tx.InsertOrIgnore(ctx, rec("2026-01-01.md:chunk0", "morning", 1, 0, 0))
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = tx.InsertOrIgnore(ctx, rec("2026-01-01.md:chunk1", "evening", 0, 1, 0))
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = tx.InsertOrIgnore(ctx, rec("2026-01-01.md:chunk0", "morning", 1, 0, 0))
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, tx.Commit())

	ids, err := s.SourceIDs(ctx, memory.SourceDailyLog)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-01.md"}, ids)

	neighbors, err := s.Nearest(ctx, []float32{1, 0.1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, "2026-01-01.md:chunk0", neighbors[0].ChunkID)
	assert.Less(t, neighbors[0].Distance, neighbors[1].Distance)

	tx, err = s.Begin(ctx, memory.SourceDailyLog, "2026-01-01.md")
	require.NoError(t, err)
	hashes, err := tx.ChunkHashes(ctx, memory.SourceDailyLog, "2026-01-01.md")
	require.NoError(t, err)
	assert.Equal(t, memory.ContentHash("evening"), hashes["2026-01-01.md:chunk1"])

	n, err := tx.DeleteChunks(ctx, memory.SourceDailyLog, []string{"2026-01-01.md:chunk1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, tx.Commit())

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[memory.SourceDailyLog])

	tx, err = s.Begin(ctx, memory.SourceDailyLog, "2026-01-01.md")
	require.NoError(t, err)
	n, err = tx.DeleteWhere(ctx, memory.SourceDailyLog, "2026-01-01.md")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, tx.Rollback())

	counts, err = s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[memory.SourceDailyLog])
}

func TestStore_RejectsDifferentDimension(t *testing.T) {
	s := createTestStore(t)

	_, err := Open(context.Background(), Config{
		DSN:       os.Getenv("MNEMO_TEST_POSTGRES_DSN"),
		Model:     s.Model(),
		Dimension: 4,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, memory.ErrDimensionMismatch)
}

func TestSchemaStatements_DedupBeforeUniqueKey(t *testing.T) {
	stmts := schemaStatements(3)

	index := func(substr string) int {
		for i, stmt := range stmts {
			if strings.Contains(stmt, substr) {
				return i
			}
		}
		return -1
	}

	backfill := index("SET chunk_id = source_id")
	dedup := index("DELETE FROM memory_embeddings a")
	unique := index("CREATE UNIQUE INDEX")

	require.NotEqual(t, -1, backfill)
	require.NotEqual(t, -1, dedup)
	require.NotEqual(t, -1, unique)
	assert.Less(t, backfill, dedup)
	assert.Less(t, dedup, unique)
	assert.Contains(t, stmts[dedup], "a.id > b.id", "the oldest row of a chunk is kept")
}

// The original scripts re-inserted daily log chunks on every run, so an old
// table can hold the same chunk many times.
func TestOpen_UpgradesLegacyTableWithDuplicates(t *testing.T) {
	dsn := os.Getenv("MNEMO_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MNEMO_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	seed := createTestStore(t)
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS memory_embeddings`,
		`DROP TABLE IF EXISTS mnemo_store_meta`,
		`CREATE TABLE memory_embeddings (
			id SERIAL PRIMARY KEY,
			source_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(3) NOT NULL
		)`,
		`INSERT INTO memory_embeddings (source_type, source_id, content, embedding) VALUES
			('daily_log', '2026-01-01.md:chunk0', 'morning', '[1,0,0]'),
			('daily_log', '2026-01-01.md:chunk0', 'morning', '[1,0,0]'),
			('daily_log', '2026-01-01.md:chunk1', 'evening', '[0,1,0]'),
			('lesson', 'lesson:1', 'Lesson: test', '[0,0,1]')`,
	} {
		_, err := seed.db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	s, err := Open(ctx, Config{
		DSN:       dsn,
		Model:     "text-embedding-3-small",
		Dimension: 3,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	defer s.Close()

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[memory.SourceDailyLog])
	assert.Equal(t, 1, counts[memory.SourceLesson])

	tx, err := s.Begin(ctx, memory.SourceDailyLog, "2026-01-01.md")
	require.NoError(t, err)
	defer tx.Rollback()

	hashes, err := tx.ChunkHashes(ctx, memory.SourceDailyLog, "2026-01-01.md")
	require.NoError(t, err)
	assert.Len(t, hashes, 2)
	assert.Equal(t, memory.ContentHash("morning"), hashes["2026-01-01.md:chunk0"])
}
