package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/mnemo/internal/observability"
	"github.com/harun/mnemo/internal/tracing"
	"github.com/harun/mnemo/pkg/memory"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"watch"},
	Short:   "Run the memory watch daemon",
	Long: `Run the memory watch daemon in the foreground. Changed daily logs and
MEMORY.md are reindexed as they are written, and a full incremental pass runs
on the configured schedule. Stop it with Ctrl-C or "mnemo stop".`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = tracing.NewCommandContext(ctx, "start")

	s, err := openServices(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()
	log := s.logger

	pid := newPIDFile(s.cfg.PIDFile())
	if pid.Running() {
		return fmt.Errorf("daemon is already running (PID file: %s)", s.cfg.PIDFile())
	}
	if err := pid.Write(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			log.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	if err := tracing.InitOpenTelemetry(tracing.Service{
		Version:        GetVersion(),
		StoreDriver:    s.cfg.Store.Driver,
		EmbeddingModel: s.cfg.Embedding.Model,
	}); err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.ShutdownOpenTelemetry(shutdownCtx)
	}()

	if s.cfg.Watch.AuditLog != "" {
		if err := observability.InitAuditLogger(s.cfg.Watch.AuditLog); err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer observability.GetAuditLogger().Close()
	}

	if addr := s.cfg.Watch.MetricsAddr; addr != "" {
		srv := startMetricsServer(addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info().Str("addr", addr).Msg("Serving metrics")
	}

	ix, err := s.indexer()
	if err != nil {
		return err
	}

	d, err := memory.NewDaemon(memory.DaemonConfig{
		Indexer:    ix,
		WatchPaths: []string{s.cfg.Memory.Dir, s.cfg.Memory.File},
		Debounce:   s.cfg.DebounceDuration(),
		Schedule:   s.cfg.Watch.Schedule,
		InitialRun: s.cfg.Watch.InitialRun,
		Logger:     log,
		OnRun: func(opts memory.RunOptions, report *memory.Report, err error) {
			if report == nil {
				return
			}
			log.Info().
				Str("run_id", report.RunID).
				Bool("force", opts.Force).
				Int("chunks", report.Total).
				Int("failed", len(report.Failed)).
				Dur("duration", report.Duration).
				Msg("Index run finished")
		},
	})
	if err != nil {
		return err
	}

	log.Info().Int("pid", os.Getpid()).Str("store", s.cfg.Store.Driver).Msg("Memory daemon started")
	fmt.Fprintf(cmd.OutOrStdout(), "mnemo daemon running (PID %d), press Ctrl-C to stop\n", os.Getpid())

	return d.Run(ctx)
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}()
	return srv
}
