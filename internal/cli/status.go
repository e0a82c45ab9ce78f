package cli

import (
	"fmt"
	"io"

	"github.com/harun/mnemo/internal/tracing"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status and index size",
	Long:  `Show whether the memory watch daemon is running and how many records are stored per source type.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := tracing.NewCommandContext(cmd.Context(), "status")
	out := cmd.OutOrStdout()

	s, err := openBase(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	printDaemonStatus(out, newPIDFile(s.cfg.PIDFile()))

	counts, err := s.store.Counts(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Store: %s (%s, %d dimensions)\n", s.cfg.Store.Driver, s.cfg.Embedding.Model, s.store.Dimension())
	fmt.Fprintln(out, "\nEmbedding stats:")
	printCounts(out, counts)
	return nil
}

func printDaemonStatus(out io.Writer, pid *pidFile) {
	if !pid.Running() {
		fmt.Fprintln(out, "Status: stopped")
		return
	}

	fmt.Fprintln(out, "Status: running")
	if n, err := pid.PID(); err == nil {
		fmt.Fprintf(out, "PID: %d\n", n)
	}
	if uptime, err := pid.Uptime(); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(uptime))
	}
}
