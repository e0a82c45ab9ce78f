package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading answers from in and prompting on out
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard starting from base
func (w *Wizard) Run(base *Config) (*Config, error) {
	fmt.Fprintln(w.out, "=== mnemo Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := *base
	validator := NewValidator()

	// OpenAI API key
	fmt.Fprintln(w.out, "Embeddings:")
	for {
		key, err := w.ask("OpenAI API Key (press Enter to use OPENAI_API_KEY)", "")
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateAPIKey(key); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		if key != "" {
			cfg.Embedding.APIKey = key
		}
		break
	}

	for {
		model, err := w.ask("Embedding model", cfg.Embedding.Model)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateModel(model); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Embedding.Model = model
		break
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Memory sources:")

	dir, err := w.ask("Daily log directory", cfg.Memory.Dir)
	if err != nil {
		return nil, err
	}
	cfg.Memory.Dir = dir

	file, err := w.ask("Standing memory file", cfg.Memory.File)
	if err != nil {
		return nil, err
	}
	cfg.Memory.File = file

	dsn, err := w.ask("Records database DSN, postgres:// or sqlite file (press Enter to skip)", cfg.Records.DSN)
	if err != nil {
		return nil, err
	}
	cfg.Records.DSN = dsn
	switch {
	case dsn == "":
		cfg.Records.Driver = ""
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		cfg.Records.Driver = "postgres"
	default:
		cfg.Records.Driver = "sqlite"
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Vector store options:")
	fmt.Fprintln(w.out, "  sqlite   - local file in the data directory (default)")
	fmt.Fprintln(w.out, "  postgres - pgvector database")
	fmt.Fprintln(w.out, "  memory   - nothing is persisted")
	for {
		driver, err := w.ask("Vector store", cfg.Store.Driver)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateStoreDriver(driver); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Store.Driver = driver
		break
	}

	if cfg.Store.Driver == "postgres" {
		for {
			storeDSN, err := w.ask("Vector store DSN", cfg.Store.DSN)
			if err != nil {
				return nil, err
			}
			if storeDSN == "" {
				fmt.Fprintln(w.out, "Error: DSN is required for the postgres store")
				continue
			}
			cfg.Store.DSN = storeDSN
			break
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Logging:")
	level, err := w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateLogLevel(level); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		level = "info"
	}
	cfg.Logging.Level = level

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return &cfg, nil
}

// ask prompts with an optional default; an empty answer keeps the default
func (w *Wizard) ask(prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}

	line, err := w.readLine()
	if err != nil {
		return "", err
	}
	if line == "" {
		return def, nil
	}
	return line, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
