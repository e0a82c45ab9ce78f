package sources

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/mnemo/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyLogs_Load(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2026-01-02.md"), []byte("second day"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2026-01-01.md"), []byte("first day"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.md"), []byte("  \n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "archive"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "archive", "old.md"), []byte("nested"), 0644))

	adapter := &DailyLogs{Dir: dir}
	assert.Equal(t, memory.SourceDailyLog, adapter.Type())

	srcs, dataErrs, err := adapter.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dataErrs)
	require.Len(t, srcs, 3)
	assert.Equal(t, "2026-01-01.md", srcs[0].ID)
	assert.Equal(t, "first day", srcs[0].Text)
	assert.Equal(t, "2026-01-02.md", srcs[1].ID)
	assert.Equal(t, "empty.md", srcs[2].ID)
	assert.Equal(t, "  \n", srcs[2].Text)
	assert.True(t, adapter.Exhaustive())
}

func TestDailyLogs_MissingDir(t *testing.T) {
	srcs, dataErrs, err := (&DailyLogs{Dir: filepath.Join(t.TempDir(), "nope")}).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, srcs)
	assert.Empty(t, dataErrs)
}

func TestMemoryFile_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MEMORY.md")

	srcs, _, err := (&MemoryFile{Path: path}).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, srcs)

	require.NoError(t, os.WriteFile(path, []byte("# Long-term\nlikes tea"), 0644))
	srcs, _, err = (&MemoryFile{Path: path}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	assert.Equal(t, MemoryFileID, srcs[0].ID)
	assert.Equal(t, memory.SourceMemoryMD, srcs[0].Type)
}

func TestMemoryFile_EmptiedDocumentIsStillReturned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MEMORY.md")
	require.NoError(t, os.WriteFile(path, []byte("\n\n"), 0644))

	adapter := &MemoryFile{Path: path}
	srcs, dataErrs, err := adapter.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dataErrs)
	require.Len(t, srcs, 1)
	assert.Equal(t, MemoryFileID, srcs[0].ID)
	assert.Equal(t, "\n\n", srcs[0].Text)
	assert.True(t, adapter.Exhaustive())

	var _ memory.ExhaustiveAdapter = adapter
	var _ memory.ExhaustiveAdapter = &DailyLogs{}
}

func createTestRecordsDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := OpenRecordsDB("sqlite", filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE lessons (id INTEGER PRIMARY KEY, lesson TEXT, context TEXT);
		CREATE TABLE events (id INTEGER PRIMARY KEY, title TEXT, description TEXT, event_date DATE);
		CREATE TABLE sops (id INTEGER PRIMARY KEY, name TEXT, description TEXT, steps TEXT);
	`)
	require.NoError(t, err)
	return db
}

func TestLessons_Load(t *testing.T) {
	db := createTestRecordsDB(t)
	_, err := db.Exec(`INSERT INTO lessons (id, lesson, context) VALUES
		(1, 'Check the backups', 'after the March outage'),
		(2, 'Write tests first', NULL),
		(3, '', 'orphan')`)
	require.NoError(t, err)

	srcs, dataErrs, err := (&Lessons{DB: db}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, srcs, 2)
	assert.Equal(t, "lesson:1", srcs[0].ID)
	assert.Equal(t, "Lesson: Check the backups\nContext: after the March outage", srcs[0].Text)
	assert.Equal(t, "Lesson: Write tests first", srcs[1].Text)

	require.Len(t, dataErrs, 1)
	assert.True(t, memory.IsData(dataErrs[0]))
	assert.Contains(t, dataErrs[0].Error(), "lesson:3")
}

func TestEvents_Load(t *testing.T) {
	db := createTestRecordsDB(t)
	_, err := db.Exec(`INSERT INTO events (id, title, description, event_date) VALUES
		(1, 'Launch', 'v1 shipped', '2026-01-10'),
		(2, 'Offsite', NULL, '2026-03-05'),
		(3, 'Kickoff', NULL, '2025-12-01')`)
	require.NoError(t, err)

	srcs, _, err := (&Events{DB: db, Limit: 2}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, srcs, 2)

	assert.Equal(t, "event:2", srcs[0].ID)
	assert.Equal(t, "Event (2026-03-05): Offsite", srcs[0].Text)
	assert.Equal(t, "event:1", srcs[1].ID)
	assert.Equal(t, "Event (2026-01-10): Launch\nv1 shipped", srcs[1].Text)
}

func TestProcedures_Load(t *testing.T) {
	db := createTestRecordsDB(t)
	_, err := db.Exec(`INSERT INTO sops (id, name, description, steps) VALUES
		(1, 'Deploy', 'Ship a release', '["Tag", {"action": "Push", "command": "git push --tags"}]'),
		(2, 'Broken', NULL, '{"not": "a list"}'),
		(3, 'Bare', NULL, NULL)`)
	require.NoError(t, err)

	srcs, dataErrs, err := (&Procedures{DB: db}).Load(context.Background())
	require.NoError(t, err)

	require.Len(t, srcs, 2)
	assert.Equal(t, "sop:1", srcs[0].ID)
	assert.Equal(t, "SOP: Deploy\nDescription: Ship a release\nSteps:\n  1. Tag\n  2. Push\n     Command: git push --tags\n", srcs[0].Text)
	assert.Equal(t, "SOP: Bare\n", srcs[1].Text)

	require.Len(t, dataErrs, 1)
	assert.True(t, memory.IsData(dataErrs[0]))
	assert.Contains(t, dataErrs[0].Error(), "sop:2")
}

func TestRecordAdapters(t *testing.T) {
	adapters := RecordAdapters(createTestRecordsDB(t), 0)
	require.Len(t, adapters, 3)
	assert.Equal(t, memory.SourceLesson, adapters[0].Type())
	assert.Equal(t, memory.SourceEvent, adapters[1].Type())
	assert.Equal(t, memory.SourceProcedure, adapters[2].Type())

	srcs, _, err := adapters[1].Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, srcs)
}

func TestOpenRecordsDB_Validation(t *testing.T) {
	_, err := OpenRecordsDB("mysql", "x")
	require.Error(t, err)
	assert.True(t, memory.IsConfiguration(err))

	_, err = OpenRecordsDB("postgres", "")
	require.Error(t, err)
	assert.True(t, memory.IsConfiguration(err))
}

func TestLoad_MissingTableIsError(t *testing.T) {
	db, err := OpenRecordsDB("sqlite", filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer db.Close()

	_, _, err = (&Lessons{DB: db}).Load(context.Background())
	assert.Error(t, err)
}
