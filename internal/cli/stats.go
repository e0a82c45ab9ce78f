package cli

import (
	"fmt"

	"github.com/harun/mnemo/internal/tracing"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the number of stored records per source type",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := tracing.NewCommandContext(cmd.Context(), "stats")
	out := cmd.OutOrStdout()

	s, err := openBase(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	counts, err := s.store.Counts(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Embedding stats:")
	printCounts(out, counts)
	return nil
}
