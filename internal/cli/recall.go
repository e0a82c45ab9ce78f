package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/mnemo/internal/tracing"
	"github.com/harun/mnemo/pkg/memory"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	recallLimit     int
	recallThreshold float64
	recallInject    bool
)

var recallCmd = &cobra.Command{
	Use:   "recall <message>",
	Short: "Recall memories relevant to a message",
	Long: `Recall memories related to an incoming message. Recall never fails: when
credentials, the store or the embedding service are unavailable it prints an
empty result and exits successfully.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRecall,
}

func init() {
	recallCmd.Flags().IntVarP(&recallLimit, "limit", "n", 3, "maximum number of memories")
	recallCmd.Flags().Float64VarP(&recallThreshold, "threshold", "t", 0.4, "minimum similarity (0-1)")
	recallCmd.Flags().BoolVar(&recallInject, "inject", false, "print a context block for injection instead of JSON")
	rootCmd.AddCommand(recallCmd)
}

func runRecall(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	ctx := tracing.NewCommandContext(cmd.Context(), "recall")
	out := cmd.OutOrStdout()

	opts := memory.SearchOptions{Limit: recallLimit, Threshold: recallThreshold}

	open := func(ctx context.Context) (*memory.Retriever, func(), error) {
		s, err := openServices(ctx, false)
		if err != nil {
			return nil, nil, err
		}
		r, err := s.retriever()
		if err != nil {
			s.Close()
			return nil, nil, err
		}
		return r, func() { s.Close() }, nil
	}

	res := memory.ProactiveRecall(ctx, open, query, opts, zerolog.Nop())

	if recallInject {
		if text := memory.FormatInjection(res.Memories); text != "" {
			fmt.Fprintln(out, text)
		}
		return nil
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(memory.NewRecallOutput(res))
}
