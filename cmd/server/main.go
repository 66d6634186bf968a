package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tollsync/internal/config"
	"tollsync/internal/infrastructure"
	"tollsync/internal/ingest"
	"tollsync/internal/services"
	"tollsync/internal/store"
	transport "tollsync/internal/transport/http"
	"tollsync/pkg/contracts"
)

func main() {
	migrationsDir := flag.String("migrations", "internal/store/migrations", "path to SQL migrations")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(contracts.GetFullVersionString())
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Paths.EnsureDirectories(); err != nil {
		fmt.Printf("Error: failed to create required directories: %v\n", err)
		os.Exit(1)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		fmt.Printf("Error: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer infrastructure.CloseLogFile()

	if err := run(cfg, logger, *migrationsDir); err != nil {
		logger.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, migrationsDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := store.NewConnection(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer conn.Close()

	if err := store.RunMigrations(ctx, conn.Pool, migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	transactions := store.NewTransactionRepository(conn.Pool)
	runs := store.NewRunRepository(conn.Pool)

	orchestrator := ingest.NewOrchestrator(transactions, runs, ingest.Options{
		LockRetry:   ingest.RetryPolicy{Attempts: cfg.Ingest.LockRetries, Delay: cfg.Ingest.LockRetryDelay},
		DeleteGrace: cfg.Ingest.DeleteGrace,
	}, logger)

	ingestionService := services.NewIngestionService(
		orchestrator, runs, ingest.PortalFetch(cfg, logger), cfg.Ingest.RunTimeout, logger)
	statsService := services.NewStatsService(transactions, logger)

	router := transport.NewRouter(transport.RouterDeps{
		Ingestions: transport.NewIngestionHandler(ingestionService, logger),
		Stats:      transport.NewStatsHandler(statsService, logger),
		Health:     transport.NewHealthHandler(conn.Pool, logger),
		Server:     cfg.Server,
		Logger:     logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening", slog.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	// In-flight background runs get a bounded window to finalize their
	// audit rows before the pool closes.
	time.Sleep(time.Second)
	logger.Info("server stopped")
	return nil
}
