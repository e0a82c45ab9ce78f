package memory

import (
	"context"
	"fmt"

	"github.com/harun/mnemo/internal/observability"
	"github.com/harun/mnemo/internal/tracing"
	"github.com/rs/zerolog"
)

// WriteResult summarizes the rows touched for one source
type WriteResult struct {
	Inserted int
	Ignored  int
	Deleted  int
}

// Writer commits embedding records for one source identity
type Writer struct {
	logger zerolog.Logger
}

// NewWriter creates a persistence writer
func NewWriter(logger zerolog.Logger) *Writer {
	return &Writer{logger: logger}
}

// Apply executes plan inside tx with the embedded records and commits.
// Either every write of the source becomes visible or none does.
func (w *Writer) Apply(ctx context.Context, tx StoreTx, src Source, plan Plan, records []Record) (WriteResult, error) {
	var result WriteResult

	if plan.DeleteAll {
		n, err := tx.DeleteWhere(ctx, src.Type, src.ID)
		if err != nil {
			return result, storeError("delete source", err)
		}
		result.Deleted += int(n)
	}

	if len(plan.Delete) > 0 {
		n, err := tx.DeleteChunks(ctx, src.Type, plan.Delete)
		if err != nil {
			return result, storeError("delete chunks", err)
		}
		result.Deleted += int(n)
	}

	for _, rec := range records {
		if plan.IgnoreConflicts {
			inserted, err := tx.InsertOrIgnore(ctx, rec)
			if err != nil {
				return result, storeError(fmt.Sprintf("insert %s", rec.ChunkID), err)
			}
			if inserted {
				result.Inserted++
			} else {
				result.Ignored++
			}
			continue
		}

		if err := tx.Insert(ctx, rec); err != nil {
			return result, storeError(fmt.Sprintf("insert %s", rec.ChunkID), err)
		}
		result.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return WriteResult{}, storeError("commit", err)
	}

	observability.RecordRecordsWritten(string(src.Type), result.Inserted, result.Deleted)

	logger := tracing.LoggerFromContext(ctx, w.logger)
	logger.Debug().
		Str("source_type", string(src.Type)).
		Str("source_id", src.ID).
		Str("action", string(plan.Action)).
		Int("inserted", result.Inserted).
		Int("ignored", result.Ignored).
		Int("deleted", result.Deleted).
		Msg("Source committed")

	return result, nil
}
