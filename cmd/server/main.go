package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"medrag/internal/config"
	"medrag/internal/diagnosis"
	"medrag/internal/kg"
	"medrag/internal/llm"
	"medrag/internal/report"
	"medrag/internal/retrieval"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "medrag-server",
		Short:         "Differential diagnosis engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	// 1. Store. Without DATABASE_URL the server runs on the in-memory
	// store; useful for development, nothing survives a restart.
	var store diagnosis.Store
	if cfg.DatabaseURL != "" {
		db, err := connectDB(cfg.DatabaseURL, log)
		if err != nil {
			log.Error().Err(err).Msg("could not connect to database")
			return err
		}
		defer db.Close()

		if err := runMigrations(cfg, log); err != nil {
			log.Error().Err(err).Msg("migrations failed")
			return err
		}
		store = diagnosis.NewPostgresStore(db)
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory session store")
		store = diagnosis.NewMemoryStore()
	}

	// 2. Engines and clients.
	retrievalEngine := retrieval.NewEngine(retrieval.NewHashingEmbedder(256), log)
	if err := retrievalEngine.LoadIndex(cfg.CaseIndexPath); err != nil {
		log.Warn().Err(err).Str("path", cfg.CaseIndexPath).Msg("case index not loaded, retrieval will degrade")
	}

	kgEngine := kg.NewEngine(log)
	if err := kgEngine.Load(cfg.KGPath); err != nil {
		log.Warn().Err(err).Str("path", cfg.KGPath).Msg("knowledge graph not loaded, expansion will be empty")
	}

	var provider llm.Client
	switch cfg.LLMProvider {
	case "perplexity":
		provider = llm.NewPerplexityClient(cfg.PerplexityAPIKey, cfg.PerplexityURL)
	default:
		provider = llm.NewOfflineClient()
	}
	log.Info().Str("provider", provider.Name()).Msg("generation provider selected")

	// 3. Services.
	mgr := diagnosis.NewManager(store, log)
	executor := diagnosis.NewExecutor(mgr, store, retrievalEngine, kgEngine, provider, diagnosis.ExecutorConfig{
		Workers:      cfg.WorkerCount,
		QueueSize:    cfg.QueueSize,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBase:    cfg.RetryBase(),
		StageTimeout: cfg.StageTimeout(),
		KGMaxDepth:   cfg.KGMaxDepth,
		Limits: diagnosis.PromptLimits{
			MaxCases: cfg.PromptMaxCases,
			MaxFacts: cfg.PromptMaxFacts,
		},
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	executor.Start(ctx)
	if err := executor.Recover(ctx); err != nil {
		log.Warn().Err(err).Msg("job recovery failed")
	}

	diagHandler := diagnosis.NewHandler(executor, mgr, report.NewRenderer(), cfg.ExposeDegraded)
	kgHandler := kg.NewHandler(kgEngine)

	// 4. Router.
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		diagnosis.RegisterRoutes(r, diagHandler)
		kg.RegisterRoutes(r, kgHandler)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", healthHandler(retrievalEngine, kgEngine))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("port", cfg.Port).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("server failed")
		return err
	}

	executor.Wait()
	return nil
}

func connectDB(connStr string, log zerolog.Logger) (*sql.DB, error) {
	var db *sql.DB
	var err error
	for i := 0; i < 10; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			err = db.Ping()
		}
		if err == nil {
			log.Info().Msg("connected to database")
			return db, nil
		}
		log.Info().Int("attempt", i+1).Msg("waiting for database")
		time.Sleep(2 * time.Second)
	}
	return nil, err
}

func runMigrations(cfg *config.Config, log zerolog.Logger) error {
	m, err := migrate.New(cfg.MigrationsPath, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	log.Info().Msg("migrations applied")
	return nil
}

func healthHandler(retrievalEngine *retrieval.Engine, kgEngine *kg.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if !retrievalEngine.Stats().Loaded || !kgEngine.Stats().Loaded {
			status = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"` + status + `"}`))
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}
