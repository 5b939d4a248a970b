package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlsql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/audit"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/config"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/database"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/datasource"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/guard"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/handlers"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/llm"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/logging"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/metrics"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/middleware"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/prompts"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/retrieval"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/services"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/sql"
)

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "nlsql",
		Short:         "Natural language to SQL query service",
		Long:          "Translates free-text questions into read-only SQL, runs them and returns paginated rows.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newIndexCmd(&configPath),
		newAskCmd(&configPath),
		newCheckCmd(&configPath),
		newVersionCmd(),
	)
	return rootCmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func newIndexCmd(configPath *string) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Chunk, embed and store the schema descriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if dir == "" {
				dir = cfg.Retrieval.SchemaDir
			}
			if cfg.Retrieval.IndexBackend != "postgres" {
				logger.Warn("Memory index backend does not persist; documents are embedded again on every start",
					zap.String("backend", cfg.Retrieval.IndexBackend))
			}

			ctx := cmd.Context()
			store, err := openIndex(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			embedder, err := llm.NewEmbeddingClient(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create embedding client: %w", err)
			}

			stats, err := retrieval.NewIngester(embedder, store.index, cfg.Retrieval.ChunkSize, logger).IngestDir(ctx, dir)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "indexed %d files into %d documents\n", stats.Files, stats.Chunks)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory of *.txt schema descriptions (default retrieval.schema_dir)")
	return cmd
}

func newAskCmd(configPath *string) *cobra.Command {
	var offset, limit int

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Run one question through the pipeline and print the JSON response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if offset < 0 || limit < 0 {
				return errors.New("offset and limit must not be negative")
			}

			cfg, logger, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			out := a.service.Execute(ctx, services.DataRequest{UserQuery: args[0], Offset: offset, Limit: limit})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(handlers.NewDataResponse(out)); err != nil {
				return err
			}
			if out.IsServerError() {
				return errors.New(out.Reason)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().IntVar(&limit, "limit", handlers.DefaultLimit, "page size, capped at query.max_limit")
	return cmd
}

func newCheckCmd(configPath *string) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the chat and embedding providers answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			chat, err := llm.NewChatClient(cfg.LLM, logger)
			if err != nil {
				return fmt.Errorf("failed to create llm client: %w", err)
			}
			embedder, err := llm.NewEmbeddingClient(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create embedding client: %w", err)
			}

			result := llm.NewProber(timeout).Probe(cmd.Context(), chat, embedder)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.Success {
				return errors.New(result.Message)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per-provider request timeout")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "nlsql version %s\n", Version)
			return nil
		},
	}
}

// loadRuntime reads configuration and builds the logger every command shares.
func loadRuntime(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath, Version)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func runServe(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadRuntime(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.String("index_backend", cfg.Retrieval.IndexBackend),
		zap.Int("max_limit", cfg.Query.MaxLimit),
		zap.Bool("require_context", cfg.Retrieval.RequireContext),
		zap.Bool("skip_count_for_joins", cfg.Query.SkipCountForJoins))

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	metrics.BuildInfo.WithLabelValues(cfg.Version).Set(1)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-nlsql", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown did not finish", zap.Error(err))
		return err
	}
	logger.Info("Server stopped")
	return nil
}

// app holds every long-lived dependency of the pipeline.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *database.DB
	store   *indexStore
	service *services.NLQueryService
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.db, err = database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	}, logger.Named("database"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	embedder, err := llm.NewEmbeddingClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	a.store, err = openIndex(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.store.warm(ctx, embedder, cfg, logger); err != nil {
		return nil, err
	}

	phrases, err := guard.LoadKeywords(cfg.Filter.KeywordsFile)
	if err != nil {
		return nil, err
	}
	filter, err := guard.NewFilter(phrases, cfg.Filter.InjectionCheck, logger)
	if err != nil {
		return nil, err
	}

	aggregates, err := sql.LoadAggregateKeywords(cfg.Query.AggregateKeywordsFile)
	if err != nil {
		return nil, err
	}
	shaper, err := sql.NewShaper(cfg.Query.MaxLimit, aggregates)
	if err != nil {
		return nil, err
	}

	hints := make([]prompts.JoinHint, 0, len(cfg.Query.JoinHints))
	for _, h := range cfg.Query.JoinHints {
		hints = append(hints, prompts.JoinHint{LeftTable: h.LeftTable, RightTable: h.RightTable, Column: h.Column})
	}

	chat, err := llm.NewChatClient(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	invoker := services.NewInvoker(chat, services.InvokerConfig{
		MaxConcurrent:     cfg.Translation.MaxConcurrent,
		Timeout:           time.Duration(cfg.Translation.TimeoutSeconds) * time.Second,
		CircuitThreshold:  cfg.Translation.CircuitThreshold,
		CircuitResetAfter: time.Duration(cfg.Translation.CircuitResetSeconds) * time.Second,
	}, logger)

	a.service = services.NewNLQueryService(
		filter,
		retrieval.NewRetriever(embedder, a.store.index, cfg.Retrieval.TopK, logger),
		prompts.NewNLToSQLCompiler(cfg.Query.Dialect, hints...),
		invoker,
		shaper,
		datasource.NewQueryExecutor(a.db.Pool, logger),
		audit.NewSecurityAuditor(logger),
		services.NLQueryConfig{
			RequireContext:    cfg.Retrieval.RequireContext,
			SkipCountForJoins: cfg.Query.SkipCountForJoins,
		},
		logger,
	)
	return a, nil
}

// routes builds the HTTP handler tree. Middleware runs outermost first:
// CORS, request ID, request logging, metrics. Metrics wraps the mux directly
// because the route pattern is only recorded on the request the mux receives.
func (a *app) routes() http.Handler {
	mux := http.NewServeMux()

	var db handlers.Pinger
	if a.db != nil {
		db = a.db
	}
	handlers.NewHealthHandler(a.cfg, db, a.logger).RegisterRoutes(mux)
	handlers.NewDataRequestHandler(a.service, a.logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	h := metrics.Middleware(mux)
	h = middleware.RequestLogger(a.logger)(h)
	h = middleware.RequestID()(h)
	h = cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: a.cfg.CORS.AllowCredentials,
		MaxAge:           300,
	})(h)
	return h
}

// Close releases pools. Safe to call on a partially built app.
func (a *app) Close() {
	if a == nil {
		return
	}
	a.store.Close()
	a.db.Close()
}

// indexStore is the configured retrieval index plus the pool backing it, if any.
type indexStore struct {
	index retrieval.Index
	db    *database.DB
}

func openIndex(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*indexStore, error) {
	if cfg.Retrieval.IndexBackend != "postgres" {
		return &indexStore{index: retrieval.NewMemoryIndex()}, nil
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Retrieval.IndexDatabaseURL,
		MaxConnections: 4,
	}, logger.Named("index-database"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to index database: %w", err)
	}
	if err := database.MigratePool(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate index database: %w", err)
	}
	return &indexStore{index: retrieval.NewPostgresIndex(db.Pool), db: db}, nil
}

// warm fills an in-memory index from the schema directory. A persistent index
// is left alone. A missing schema directory, a failing embedding provider or an
// empty index only earn a warning because requests still work without context
// unless retrieval.require_context is set.
func (s *indexStore) warm(ctx context.Context, embedder llm.EmbeddingClient, cfg *config.Config, logger *zap.Logger) error {
	if s.db == nil {
		_, err := retrieval.NewIngester(embedder, s.index, cfg.Retrieval.ChunkSize, logger).IngestDir(ctx, cfg.Retrieval.SchemaDir)
		switch {
		case errors.Is(err, apperrors.ErrNoDocuments):
			logger.Warn("No schema descriptions found; retrieval will return no context",
				zap.String("dir", cfg.Retrieval.SchemaDir))
		case err != nil:
			logger.Warn("Failed to build schema index; retrieval will return no context",
				zap.String("dir", cfg.Retrieval.SchemaDir),
				zap.String("error", logging.SanitizeError(err)))
		}
		return nil
	}

	n, err := s.index.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to inspect schema index: %w", err)
	}
	if n == 0 {
		logger.Warn("Schema index is empty; run `nlsql index` to populate it")
	}
	return nil
}

func (s *indexStore) Close() {
	if s == nil {
		return
	}
	s.db.Close()
}
