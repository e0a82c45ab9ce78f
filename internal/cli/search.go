package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/mnemo/internal/tracing"
	"github.com/harun/mnemo/pkg/memory"
	"github.com/spf13/cobra"
)

var (
	searchLimit     int
	searchThreshold float64
	searchJSON      bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memory by meaning",
	Long: `Search embedded memory for the query and print the closest matches with
a similarity above the threshold. Failures are reported with a non-zero exit.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "maximum number of results")
	searchCmd.Flags().Float64VarP(&searchThreshold, "threshold", "t", 0.5, "minimum similarity (0-1)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	ctx := tracing.NewCommandContext(cmd.Context(), "search")
	out := cmd.OutOrStdout()

	results, err := search(ctx, query, memory.SearchOptions{
		Limit:     searchLimit,
		Threshold: searchThreshold,
	})

	if searchJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(memory.NewSearchOutput(query, results, err)); encErr != nil {
			return encErr
		}
		return err
	}
	if err != nil {
		return err
	}

	fmt.Fprint(out, memory.FormatSearchText(results))
	return nil
}

func search(ctx context.Context, query string, opts memory.SearchOptions) ([]memory.SimilarityResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s, err := openServices(ctx, false)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	r, err := s.retriever()
	if err != nil {
		return nil, err
	}
	return r.Search(ctx, query, opts)
}
