package cli

import (
	"fmt"

	"github.com/harun/mnemo/internal/config"
	"github.com/harun/mnemo/internal/observability"
	"github.com/harun/mnemo/internal/tracing"
	"github.com/spf13/cobra"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run interactive configuration wizard",
	Long: `Run an interactive configuration wizard to set up mnemo.
The wizard will guide you through the embedding model, memory locations and
the vector store. Current values are offered as defaults.`,
	Args: cobra.NoArgs,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	ctx := tracing.NewCommandContext(cmd.Context(), "configure")
	out := cmd.OutOrStdout()

	loader := config.NewLoader(cfgFile)
	base, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	wizard := config.NewWizard(cmd.InOrStdin(), out)
	cfg, err := wizard.Run(base)
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(out, "Error: %v\n", e)
		}
		return fmt.Errorf("invalid configuration: %w", errs[0])
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	configPath := loader.GetConfigPath()
	observability.RecordConfigAudit(ctx, "config_written", "configure", map[string]interface{}{
		"path":  configPath,
		"store": cfg.Store.Driver,
		"model": cfg.Embedding.Model,
	})

	fmt.Fprintf(out, "\nConfiguration saved to: %s\n", configPath)
	fmt.Fprintln(out, "\nYou can now index your memory with: mnemo index")
	return nil
}
