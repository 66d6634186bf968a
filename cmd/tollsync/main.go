package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"tollsync/internal/config"
	"tollsync/internal/infrastructure"
	"tollsync/internal/ingest"
	"tollsync/internal/store"
	"tollsync/pkg/contracts"
)

func main() {
	// Panic recovery at the very start so a crash always leaves a trace
	var logger *slog.Logger
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("PANIC RECOVERED: %v\n", r)
			fmt.Printf("Stack trace:\n%s\n", debug.Stack())
			if logger != nil {
				logger.Error("pipeline panicked",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
			}
			os.Exit(1)
		}
	}()

	subject := flag.String("subject", "", "subject identifier (portal login)")
	secret := flag.String("secret", "", "portal credential secret")
	fromStr := flag.String("from", "", "range start (YYYY-MM-DD)")
	toStr := flag.String("to", "", "range end (YYYY-MM-DD)")
	autoIngest := flag.Bool("auto-ingest", true, "ingest the export after download")
	localFile := flag.String("file", "", "ingest an existing export instead of driving the portal")
	headless := flag.Bool("headless", true, "run browser headless")
	outDir := flag.String("out", "", "directory to save exports (defaults to configured downloads dir)")
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
	cfg.Portal.Headless = *headless
	if *outDir != "" {
		cfg.Paths.DownloadsDir = *outDir
	}

	if err := cfg.Paths.EnsureDirectories(); err != nil {
		fmt.Printf("Error: failed to create required directories: %v\n", err)
		os.Exit(1)
	}

	logger, err = infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		fmt.Printf("Error: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer infrastructure.CloseLogFile()

	params, err := buildParams(*subject, *secret, *fromStr, *toStr, *autoIngest)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Ingest.RunTimeout)
	defer cancel()

	conn, err := store.NewConnection(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	if err := store.RunMigrations(ctx, conn.Pool, *migrationsDir); err != nil {
		logger.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	orchestrator := ingest.NewOrchestrator(
		store.NewTransactionRepository(conn.Pool),
		store.NewRunRepository(conn.Pool),
		ingest.Options{
			LockRetry:   ingest.RetryPolicy{Attempts: cfg.Ingest.LockRetries, Delay: cfg.Ingest.LockRetryDelay},
			DeleteGrace: cfg.Ingest.DeleteGrace,
		},
		logger,
	)

	fetch := ingest.PortalFetch(cfg, logger)
	if *localFile != "" {
		fetch = ingest.LocalFetch(*localFile)
	}

	run, err := orchestrator.Execute(ctx, params, fetch)
	if err != nil {
		logger.Error("run failed",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()))
		os.Exit(1)
	}

	fmt.Printf("run %s finished: status=%s found=%d processed=%d errored=%d\n",
		run.ID, run.Status, run.RecordsFound, run.RecordsProcessed, run.RecordsErrored)
	if run.ErrorDetails != "" {
		fmt.Printf("errors: %s\n", run.ErrorDetails)
	}
}

func buildParams(subject, secret, fromStr, toStr string, autoIngest bool) (ingest.Params, error) {
	if subject == "" {
		return ingest.Params{}, fmt.Errorf("-subject is required")
	}
	if secret == "" {
		secret = os.Getenv("TOLLSYNC_SECRET")
	}
	if secret == "" {
		return ingest.Params{}, fmt.Errorf("-secret (or TOLLSYNC_SECRET) is required")
	}

	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return ingest.Params{}, fmt.Errorf("-from: expected YYYY-MM-DD, got %q", fromStr)
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return ingest.Params{}, fmt.Errorf("-to: expected YYYY-MM-DD, got %q", toStr)
	}
	if to.Before(from) {
		return ingest.Params{}, fmt.Errorf("-to precedes -from")
	}

	return ingest.Params{
		SubjectID:        subject,
		CredentialSecret: secret,
		RangeStart:       from,
		RangeEnd:         to,
		AutoIngest:       autoIngest,
	}, nil
}
