package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/mnemo/internal/observability"
	"github.com/harun/mnemo/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SourceAdapter loads the current sources of one type.
// Malformed records are returned as DataErrors next to the good sources;
// a non-nil error means the origin itself could not be read.
type SourceAdapter interface {
	Type() SourceType
	Load(ctx context.Context) ([]Source, []error, error)
}

// ExhaustiveAdapter is a SourceAdapter whose Load returns every source of
// its type that exists. Forced runs retire stored identities it no longer
// returns.
type ExhaustiveAdapter interface {
	SourceAdapter
	Exhaustive() bool
}

// EventKind classifies per-source progress events
type EventKind string

const (
	EventTypeStarted EventKind = "type_started"
	EventEmbedded    EventKind = "embedded"
	EventUnchanged   EventKind = "unchanged"
	EventSkipped     EventKind = "skipped"
	EventFailed      EventKind = "failed"
	EventUnavailable EventKind = "unavailable"
	EventEmpty       EventKind = "empty"
	EventRetired     EventKind = "retired"
)

// Event reports indexing progress for a source or a source type
type Event struct {
	Kind       EventKind
	SourceType SourceType
	SourceID   string
	Chunks     int
	Deleted    int
	Err        error
}

// SourceResult is the outcome for a single source
type SourceResult struct {
	Action Action
	WriteResult
}

// RunOptions selects what an indexing run covers
type RunOptions struct {
	Types []SourceType
	Force bool
	// OnEvent receives progress events in order; may be nil
	OnEvent func(Event)
}

// Report summarizes an indexing run
type Report struct {
	RunID    string
	Total    int
	PerType  map[SourceType]int
	Skipped  int
	Retired  int
	Failed   []error
	Counts   map[SourceType]int
	Duration time.Duration
}

// Indexer drives sources through chunking, dedup, embedding and persistence
type Indexer struct {
	chunker  *Chunker
	tracker  *Tracker
	embedder *Embedder
	writer   *Writer
	store    VectorStore
	adapters map[SourceType]SourceAdapter
	logger   zerolog.Logger
}

// IndexerConfig wires the indexing pipeline
type IndexerConfig struct {
	Chunker  *Chunker
	Tracker  *Tracker
	Embedder *Embedder
	Store    VectorStore
	Adapters []SourceAdapter
	Logger   zerolog.Logger
}

// NewIndexer creates an indexer
func NewIndexer(cfg IndexerConfig) (*Indexer, error) {
	if cfg.Chunker == nil {
		return nil, errors.New("chunker is required")
	}
	if cfg.Tracker == nil {
		return nil, errors.New("tracker is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("vector store is required")
	}
	if cfg.Embedder.Dimension() != cfg.Store.Dimension() {
		return nil, ValidateVector(make([]float32, cfg.Embedder.Dimension()), cfg.Store.Dimension())
	}

	adapters := make(map[SourceType]SourceAdapter, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		adapters[a.Type()] = a
	}

	return &Indexer{
		chunker:  cfg.Chunker,
		tracker:  cfg.Tracker,
		embedder: cfg.Embedder,
		writer:   NewWriter(cfg.Logger),
		store:    cfg.Store,
		adapters: adapters,
		logger:   cfg.Logger,
	}, nil
}

// Run indexes every selected source type. DataErrors are collected in the
// report and the run continues; configuration and transport errors abort
// the run and are returned together with the partial report.
func (ix *Indexer) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	runID, err := gonanoid.New(12)
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}

	ctx = tracing.WithRunID(ctx, runID)
	ctx, span := tracing.StartSpan(ctx, "memory.index",
		attribute.Bool("force", opts.Force),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, ix.logger)
	start := time.Now()

	types := opts.Types
	if len(types) == 0 {
		types = AllSourceTypes()
	}

	emit := func(ev Event) {
		if opts.OnEvent != nil {
			opts.OnEvent(ev)
		}
	}

	report := &Report{
		RunID:   runID,
		PerType: make(map[SourceType]int),
	}

	logger.Info().Bool("force", opts.Force).Int("types", len(types)).Msg("Starting index run")

	runErr := ix.runTypes(ctx, types, opts.Force, report, emit, logger)

	if runErr == nil || !IsTransport(runErr) {
		counts, err := ix.store.Counts(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to read store counts")
		} else {
			report.Counts = counts
			for t, n := range counts {
				observability.SetMemoryRecords(string(t), n)
			}
		}
	}

	report.Duration = time.Since(start)
	observability.RecordIndexRun(report.Duration, runErr == nil)

	status := "success"
	if runErr != nil {
		status = "failure"
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	observability.RecordIndexAudit(ctx, runID, status, map[string]interface{}{
		"force":   opts.Force,
		"total":   report.Total,
		"skipped": report.Skipped,
		"retired": report.Retired,
		"failed":  len(report.Failed),
	})

	logger.Info().
		Int("embedded", report.Total).
		Int("skipped", report.Skipped).
		Int("retired", report.Retired).
		Int("failed", len(report.Failed)).
		Dur("duration", report.Duration).
		Msg("Index run completed")

	return report, runErr
}

func (ix *Indexer) runTypes(ctx context.Context, types []SourceType, force bool, report *Report, emit func(Event), logger zerolog.Logger) error {
	for _, t := range types {
		if err := ctx.Err(); err != nil {
			return err
		}

		emit(Event{Kind: EventTypeStarted, SourceType: t})

		adapter, ok := ix.adapters[t]
		if !ok {
			logger.Warn().Str("source_type", string(t)).Msg("No adapter configured, skipping source type")
			emit(Event{Kind: EventUnavailable, SourceType: t})
			continue
		}

		sources, dataErrs, err := adapter.Load(ctx)
		if err != nil {
			return &TransportError{Op: fmt.Sprintf("load %s", t), Err: err}
		}
		present := make(map[string]struct{}, len(sources)+len(dataErrs))
		for _, de := range dataErrs {
			logger.Warn().Err(de).Str("source_type", string(t)).Msg("Skipping malformed record")
			report.Failed = append(report.Failed, de)
			emit(Event{Kind: EventFailed, SourceType: t, Err: de})

			var dataErr *DataError
			if errors.As(de, &dataErr) && dataErr.SourceID != "" {
				present[dataErr.SourceID] = struct{}{}
			}
		}

		for _, src := range sources {
			present[src.ID] = struct{}{}

			res, err := ix.IndexSource(ctx, src, force)
			if err != nil {
				if IsData(err) {
					logger.Warn().Err(err).Str("source_id", src.ID).Msg("Skipping source after data error")
					report.Failed = append(report.Failed, err)
					emit(Event{Kind: EventFailed, SourceType: t, SourceID: src.ID, Err: err})
					continue
				}
				emit(Event{Kind: EventFailed, SourceType: t, SourceID: src.ID, Err: err})
				return err
			}

			switch {
			case res.Action == ActionSkip:
				report.Skipped++
				emit(Event{Kind: EventSkipped, SourceType: t, SourceID: src.ID})
			case res.Action == ActionEmpty:
				emit(Event{Kind: EventEmpty, SourceType: t, SourceID: src.ID})
			case res.Inserted == 0 && res.Deleted == 0:
				emit(Event{Kind: EventUnchanged, SourceType: t, SourceID: src.ID})
			case res.Inserted == 0:
				report.Retired += res.Deleted
				emit(Event{Kind: EventRetired, SourceType: t, SourceID: src.ID, Deleted: res.Deleted})
			default:
				report.Total += res.Inserted
				report.PerType[t] += res.Inserted
				emit(Event{Kind: EventEmbedded, SourceType: t, SourceID: src.ID, Chunks: res.Inserted, Deleted: res.Deleted})
			}
		}

		if ex, ok := adapter.(ExhaustiveAdapter); ok && force && ex.Exhaustive() {
			if err := ix.retireMissing(ctx, t, present, report, emit, logger); err != nil {
				return err
			}
		}
	}
	return nil
}

// retireMissing deletes stored identities of t whose source is gone
func (ix *Indexer) retireMissing(ctx context.Context, t SourceType, present map[string]struct{}, report *Report, emit func(Event), logger zerolog.Logger) error {
	stored, err := ix.store.SourceIDs(ctx, t)
	if err != nil {
		return storeError("source ids", err)
	}

	for _, id := range stored {
		if _, ok := present[id]; ok {
			continue
		}

		res, err := ix.retire(ctx, Source{Type: t, ID: id})
		if err != nil {
			emit(Event{Kind: EventFailed, SourceType: t, SourceID: id, Err: err})
			return err
		}
		logger.Info().Str("source_type", string(t)).Str("source_id", id).Int("deleted", res.Deleted).Msg("Retired removed source")
		report.Retired += res.Deleted
		emit(Event{Kind: EventRetired, SourceType: t, SourceID: id, Deleted: res.Deleted})
	}
	return nil
}

func (ix *Indexer) retire(ctx context.Context, src Source) (WriteResult, error) {
	ctx = tracing.WithSource(ctx, IdentityKey(src.Type, src.ID))

	tx, err := ix.store.Begin(ctx, src.Type, src.ID)
	if err != nil {
		return WriteResult{}, storeError("begin", err)
	}
	defer tx.Rollback()

	return ix.writer.Apply(ctx, tx, src, Plan{Action: ActionRetire, DeleteAll: true}, nil)
}

// IndexSource brings one source identity up to date inside a single store
// transaction held under the identity lock.
func (ix *Indexer) IndexSource(ctx context.Context, src Source, force bool) (SourceResult, error) {
	if !src.Type.IsValid() {
		return SourceResult{}, &DataError{SourceType: src.Type, SourceID: src.ID, Err: errors.New("unknown source type")}
	}

	ctx = tracing.WithSource(ctx, IdentityKey(src.Type, src.ID))
	units := ix.chunker.Units(src)

	// An emptied source only has stored records to retire, which a forced
	// run does through the plan.
	if len(units) == 0 && !force {
		return SourceResult{Action: ActionEmpty}, nil
	}

	tx, err := ix.store.Begin(ctx, src.Type, src.ID)
	if err != nil {
		return SourceResult{}, storeError("begin", err)
	}
	defer tx.Rollback()

	plan, err := ix.tracker.Plan(ctx, tx, src, units, force)
	if err != nil {
		return SourceResult{}, err
	}
	if plan.Action == ActionSkip {
		return SourceResult{Action: ActionSkip}, nil
	}

	records, err := ix.embedder.EmbedChunks(ctx, plan.Insert)
	if err != nil {
		var de *DataError
		if errors.As(err, &de) && de.SourceType == "" {
			de.SourceType = src.Type
			de.SourceID = src.ID
		}
		return SourceResult{}, err
	}

	written, err := ix.writer.Apply(ctx, tx, src, plan, records)
	if err != nil {
		return SourceResult{}, err
	}

	return SourceResult{Action: plan.Action, WriteResult: written}, nil
}
