package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoralesv/bankmail/app/api"
	"github.com/jmoralesv/bankmail/app/cfg"
	"github.com/jmoralesv/bankmail/app/config"
	"github.com/jmoralesv/bankmail/app/database"
	"github.com/jmoralesv/bankmail/app/mailbox"
	"github.com/jmoralesv/bankmail/app/synth"
	"github.com/jmoralesv/bankmail/app/template"
	"github.com/jmoralesv/bankmail/app/workers"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	setupLogger(appCfg.Debug)

	slog.Info("Starting Bankmail server", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath)

	// Repositories
	accountRepo := database.NewAccountRepository(db)
	sourceRepo := database.NewSourceRepository(db)
	templateRepo := database.NewTemplateRepository(db)
	parseRepo := database.NewParseRepository(db)
	txRepo := database.NewTransactionRepository(db)
	jobRepo := database.NewJobRepository(db)
	batchRepo := database.NewBatchRepository(db)

	// Register bank sources from definition files
	loader := config.NewLoader(appCfg.SourcesDir)
	sourceConfigs, err := loader.LoadAll()
	if err != nil {
		slog.Error("Failed to load source definitions", "dir", appCfg.SourcesDir, "error", err)
		os.Exit(1)
	}

	for slug, sc := range sourceConfigs {
		id, err := sourceRepo.UpsertSource(&database.Source{
			Slug:          sc.Source.Slug,
			Name:          sc.Source.Name,
			SenderDomains: sc.Matching.SenderDomains,
			SenderEmails:  sc.Matching.SenderEmails,
			Keywords:      sc.Matching.Keywords,
			MatchPriority: sc.Matching.Priority,
			IsActive:      *sc.Matching.Enabled,
		})
		if err != nil {
			slog.Warn("Failed to register source", "slug", slug, "error", err)
			continue
		}
		slog.Info("Source registered", "slug", slug, "source_id", id, "enabled", *sc.Matching.Enabled)
	}

	// Core components
	engine := template.NewEngine(appCfg.MatchFloor)
	synthesizer := synth.NewClient(appCfg.SynthBaseURL, appCfg.SynthAPIKey, appCfg.SynthModel)
	generator := template.NewGenerator(synthesizer, templateRepo, engine,
		appCfg.ValidationFloor, appCfg.GenerationAttempts)
	optimizer := template.NewOptimizer(templateRepo, appCfg.RetirementFloor)
	mailClient := mailbox.NewGmailClient()

	// Background machinery
	sink := workers.NewResultSink()
	detector := workers.NewDetector(accountRepo, jobRepo, appCfg.MaxAttempts)
	importWorker := workers.NewImportWorker(accountRepo, parseRepo, sourceRepo, mailClient, sink,
		time.Duration(appCfg.FetchTimeout)*time.Second, appCfg.LookbackDays,
		appCfg.SuspendThreshold, time.Duration(appCfg.SuspendMinutes)*time.Minute)
	extractionWorker := workers.NewExtractionWorker(parseRepo, sourceRepo, templateRepo, txRepo,
		engine, appCfg.ConfidenceThreshold)
	parseDetector := workers.NewParseDetector(parseRepo, jobRepo, appCfg.ParseBatchSize, appCfg.MaxAttempts)
	coordinator := workers.NewCoordinator(batchRepo, jobRepo, sourceRepo, detector, optimizer,
		sink, batchWaitBudget(appCfg.SchedulerInterval))

	runner := workers.NewRunner(jobRepo, coordinator, parseDetector, importWorker, extractionWorker)
	runner.Start()
	defer runner.Stop()

	// HTTP server
	handler := api.NewHandler(accountRepo, sourceRepo, templateRepo, parseRepo, txRepo,
		jobRepo, batchRepo, generator, coordinator)
	server := api.NewServer(handler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Runner is stopped via defer
	slog.Info("Shutdown complete")
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// batchWaitBudget leaves a margin before the next tick so a slow import
// cannot make ticks pile up.
func batchWaitBudget(intervalSeconds int) time.Duration {
	budget := time.Duration(intervalSeconds)*time.Second - 10*time.Second
	if budget < 30*time.Second {
		budget = 30 * time.Second
	}
	return budget
}
