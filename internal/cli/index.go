package cli

import (
	"fmt"
	"io"

	"github.com/harun/mnemo/internal/tracing"
	"github.com/harun/mnemo/pkg/memory"
	"github.com/spf13/cobra"
)

var (
	indexSource  string
	indexReindex bool
)

var indexCmd = &cobra.Command{
	Use:     "index",
	Aliases: []string{"embed"},
	Short:   "Embed memory sources into the vector store",
	Long: `Embed daily logs, MEMORY.md, lessons, events and SOPs into the vector store.
Sources that are already embedded are skipped unless --reindex is given, in
which case changed content replaces the stored records.`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexSource, "source", memory.SourceAll, "source type to embed (daily_log, memory_md, lesson, event, sop, all)")
	indexCmd.Flags().BoolVar(&indexReindex, "reindex", false, "re-embed sources that were already embedded")
	rootCmd.AddCommand(indexCmd)
}

// progressPrinter writes indexing events as they arrive
func progressPrinter(out io.Writer) func(memory.Event) {
	return func(ev memory.Event) {
		switch ev.Kind {
		case memory.EventTypeStarted:
			fmt.Fprintf(out, "\nEmbedding %s...\n", ev.SourceType.Label())
		case memory.EventEmbedded:
			if ev.Deleted > 0 {
				fmt.Fprintf(out, "  Embedded %s (%d chunks, %d replaced)\n", ev.SourceID, ev.Chunks, ev.Deleted)
			} else {
				fmt.Fprintf(out, "  Embedded %s (%d chunks)\n", ev.SourceID, ev.Chunks)
			}
		case memory.EventUnchanged:
			fmt.Fprintf(out, "  Unchanged %s\n", ev.SourceID)
		case memory.EventSkipped:
			fmt.Fprintf(out, "  Skipping %s (already embedded)\n", ev.SourceID)
		case memory.EventEmpty:
			fmt.Fprintf(out, "  Skipping %s (empty)\n", ev.SourceID)
		case memory.EventRetired:
			fmt.Fprintf(out, "  Removed %s (%d records)\n", ev.SourceID, ev.Deleted)
		case memory.EventFailed:
			if ev.SourceID != "" {
				fmt.Fprintf(out, "  Failed %s: %v\n", ev.SourceID, ev.Err)
			} else {
				fmt.Fprintf(out, "  Failed: %v\n", ev.Err)
			}
		case memory.EventUnavailable:
			fmt.Fprintf(out, "  No %s source configured\n", ev.SourceType.Label())
		}
	}
}

func printCounts(out io.Writer, counts map[memory.SourceType]int) {
	for _, t := range memory.AllSourceTypes() {
		if n, ok := counts[t]; ok {
			fmt.Fprintf(out, "  %s: %d\n", t, n)
		}
	}
}

func runIndex(cmd *cobra.Command, args []string) error {
	types, err := memory.ParseSourceTypes(indexSource)
	if err != nil {
		return err
	}

	ctx := tracing.NewCommandContext(cmd.Context(), "index")
	out := cmd.OutOrStdout()

	s, err := openServices(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	ix, err := s.indexer()
	if err != nil {
		return err
	}

	report, runErr := ix.Run(ctx, memory.RunOptions{
		Types:   types,
		Force:   indexReindex,
		OnEvent: progressPrinter(out),
	})
	if runErr != nil {
		return fmt.Errorf("indexing stopped: %w", runErr)
	}

	fmt.Fprintf(out, "\nDone! Embedded %d chunks total.\n", report.Total)
	if len(report.Failed) > 0 {
		fmt.Fprintf(out, "%d sources failed and were skipped.\n", len(report.Failed))
	}
	fmt.Fprintln(out, "\nEmbedding stats:")
	printCounts(out, report.Counts)

	return nil
}
