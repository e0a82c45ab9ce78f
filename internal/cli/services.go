package cli

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/harun/mnemo/internal/config"
	"github.com/harun/mnemo/internal/logger"
	"github.com/harun/mnemo/pkg/memory"
	"github.com/harun/mnemo/pkg/memory/sources"
	"github.com/harun/mnemo/pkg/vectorstore/memstore"
	"github.com/harun/mnemo/pkg/vectorstore/postgres"
	"github.com/harun/mnemo/pkg/vectorstore/sqlitevec"
	"github.com/rs/zerolog"
)

// providerFactory builds the embedding provider. Tests replace it with a
// deterministic provider.
var providerFactory = newOpenAIProvider

func newOpenAIProvider(cfg *config.Config, configPath string) (memory.EmbeddingProvider, error) {
	key, err := config.DefaultCredentialResolver(cfg, configPath).Resolve()
	if err != nil {
		return nil, err
	}

	return memory.NewOpenAIProvider(memory.OpenAIConfig{
		APIKey:     key,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    time.Duration(cfg.Embedding.Timeout) * time.Second,
	})
}

// loadConfig reads and validates the config, applying the --log-level flag
func loadConfig() (*config.Config, string, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, "", &memory.ConfigurationError{Op: "load config", Err: err}
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", &memory.ConfigurationError{Op: "validate config", Err: err}
	}
	return cfg, loader.GetConfigPath(), nil
}

// newLogger builds the command logger. Only the daemon writes a log file.
func newLogger(cfg *config.Config, toFile bool) (*logger.Logger, error) {
	lc := logger.Config{
		Level:     cfg.Logging.Level,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
	}
	if toFile {
		lc.File = cfg.Logging.File
		lc.MaxSize = cfg.Logging.MaxSize
		lc.MaxAge = cfg.Logging.MaxAge
		lc.Compress = cfg.Logging.Compress
	}
	return logger.New(lc)
}

// storeDimension is the vector size the configured model produces
func storeDimension(cfg *config.Config) int {
	if cfg.Embedding.Dimensions > 0 {
		return cfg.Embedding.Dimensions
	}
	return memory.ModelDimension(cfg.Embedding.Model)
}

func openStore(ctx context.Context, cfg *config.Config, model string, dimension int, log zerolog.Logger) (memory.VectorStore, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return postgres.Open(ctx, postgres.Config{
			DSN:       cfg.Store.DSN,
			Model:     model,
			Dimension: dimension,
			Logger:    log,
		})
	case "memory":
		return memstore.New(model, dimension), nil
	default:
		return sqlitevec.Open(ctx, sqlitevec.Config{
			Path:      cfg.Store.Path,
			Model:     model,
			Dimension: dimension,
			Logger:    log,
		})
	}
}

// services holds everything a command needs, opened once per invocation
type services struct {
	cfg        *config.Config
	configPath string
	log        *logger.Logger
	logger     zerolog.Logger

	store     memory.VectorStore
	embedder  *memory.Embedder
	recordsDB *sql.DB
}

// openBase loads config, logger and store without touching credentials
func openBase(ctx context.Context, daemon bool) (*services, error) {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, err := newLogger(cfg, daemon)
	if err != nil {
		return nil, err
	}

	s := &services{
		cfg:        cfg,
		configPath: configPath,
		log:        log,
		logger:     log.GetZerolog(),
	}

	s.store, err = openStore(ctx, cfg, cfg.Embedding.Model, storeDimension(cfg), s.logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// openServices additionally resolves credentials and builds the embedder
func openServices(ctx context.Context, daemon bool) (*services, error) {
	s, err := openBase(ctx, daemon)
	if err != nil {
		return nil, err
	}

	provider, err := providerFactory(s.cfg, s.configPath)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.embedder = memory.NewEmbedder(provider, s.cfg.EmbedderOptions(), s.logger)
	return s, nil
}

// adapters returns the source adapters for the configured origins
func (s *services) adapters() ([]memory.SourceAdapter, error) {
	adapters := []memory.SourceAdapter{
		&sources.DailyLogs{Dir: s.cfg.Memory.Dir},
		&sources.MemoryFile{Path: s.cfg.Memory.File},
	}

	if s.cfg.Records.Driver == "" {
		s.logger.Warn().Msg("No records database configured, lessons, events and sops are skipped")
		return adapters, nil
	}

	if s.recordsDB == nil {
		db, err := sources.OpenRecordsDB(s.cfg.Records.Driver, s.cfg.Records.DSN)
		if err != nil {
			return nil, err
		}
		s.recordsDB = db
	}
	return append(adapters, sources.RecordAdapters(s.recordsDB, s.cfg.Index.EventLimit)...), nil
}

func (s *services) indexer() (*memory.Indexer, error) {
	chunker, err := memory.NewChunker(s.cfg.Index.ChunkSize, s.cfg.Index.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	tracker, err := memory.NewTracker(s.cfg.ReindexPolicy())
	if err != nil {
		return nil, err
	}
	adapters, err := s.adapters()
	if err != nil {
		return nil, err
	}

	return memory.NewIndexer(memory.IndexerConfig{
		Chunker:  chunker,
		Tracker:  tracker,
		Embedder: s.embedder,
		Store:    s.store,
		Adapters: adapters,
		Logger:   s.logger,
	})
}

func (s *services) retriever() (*memory.Retriever, error) {
	return memory.NewRetriever(s.embedder, s.store, s.logger)
}

// Close releases the store, the records database and the log file
func (s *services) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.recordsDB != nil {
		errs = append(errs, s.recordsDB.Close())
	}
	if s.log != nil {
		errs = append(errs, s.log.Close())
	}
	return errors.Join(errs...)
}
