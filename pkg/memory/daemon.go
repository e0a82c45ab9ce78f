package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule is the periodic full indexing schedule
const DefaultSchedule = "@every 6h"

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a five field cron expression or a descriptor such as "@every 6h"
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, &ConfigurationError{Op: "schedule", Err: fmt.Errorf("invalid cron expression %q: %w", expr, err)}
	}
	return sched, nil
}

// DaemonConfig wires a background indexer
type DaemonConfig struct {
	Indexer *Indexer
	// WatchPaths are memory directories or single files to watch
	WatchPaths []string
	Debounce   time.Duration
	// Schedule triggers full runs; empty disables periodic runs
	Schedule string
	// InitialRun starts with a full run before waiting for triggers
	InitialRun bool
	Logger     zerolog.Logger
	// OnRun is called after every run; may be nil
	OnRun func(RunOptions, *Report, error)
}

// Daemon keeps the store current by reindexing changed files and running
// periodic full passes. Runs never overlap.
type Daemon struct {
	cfg    DaemonConfig
	fileCh chan struct{}
	fullCh chan struct{}
}

// NewDaemon creates a daemon
func NewDaemon(cfg DaemonConfig) (*Daemon, error) {
	if cfg.Indexer == nil {
		return nil, errors.New("indexer is required")
	}
	if cfg.Schedule != "" {
		if _, err := ParseSchedule(cfg.Schedule); err != nil {
			return nil, err
		}
	}
	return &Daemon{
		cfg:    cfg,
		fileCh: make(chan struct{}, 1),
		fullCh: make(chan struct{}, 1),
	}, nil
}

// TriggerFiles requests a forced reindex of the file sources.
// Requests made while one is pending are coalesced.
func (d *Daemon) TriggerFiles() {
	select {
	case d.fileCh <- struct{}{}:
	default:
	}
}

// TriggerFull requests a full incremental run
func (d *Daemon) TriggerFull() {
	select {
	case d.fullCh <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done
func (d *Daemon) Run(ctx context.Context) error {
	logger := d.cfg.Logger

	watcher, err := NewFileWatcher(logger, d.cfg.Debounce, d.TriggerFiles)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Stop()

	for _, p := range d.cfg.WatchPaths {
		if _, err := os.Stat(p); err != nil {
			logger.Warn().Str("path", p).Msg("Memory path not found, not watching")
			continue
		}
		if err := watcher.Watch(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		logger.Info().Str("path", p).Msg("Watching memory path")
	}

	if d.cfg.Schedule != "" {
		c := cron.New(cron.WithParser(scheduleParser))
		if _, err := c.AddFunc(d.cfg.Schedule, d.TriggerFull); err != nil {
			return &ConfigurationError{Op: "schedule", Err: err}
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		logger.Info().Str("schedule", d.cfg.Schedule).Msg("Periodic indexing scheduled")
	}

	if d.cfg.InitialRun {
		d.TriggerFull()
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Memory daemon stopping")
			return nil

		case <-d.fileCh:
			d.run(ctx, RunOptions{
				Types: []SourceType{SourceDailyLog, SourceMemoryMD},
				Force: true,
			})

		case <-d.fullCh:
			d.run(ctx, RunOptions{})
		}
	}
}

func (d *Daemon) run(ctx context.Context, opts RunOptions) {
	report, err := d.cfg.Indexer.Run(ctx, opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		d.cfg.Logger.Error().Err(err).Bool("force", opts.Force).Msg("Background index run failed")
	}
	if d.cfg.OnRun != nil {
		d.cfg.OnRun(opts, report, err)
	}
}
