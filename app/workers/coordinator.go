package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoralesv/bankmail/app/database"
	"github.com/jmoralesv/bankmail/app/template"
)

const batchPollInterval = time.Second

// Coordinator drives one scheduler tick end to end: enqueue imports for due
// accounts, wait (bounded) for them to drain, and write exactly one batch
// summary row. Template priorities are re-optimized at the end of each tick.
type Coordinator struct {
	batchRepo  database.BatchRepository
	jobRepo    database.JobRepository
	sourceRepo database.SourceRepository
	detector   *Detector
	optimizer  *template.Optimizer
	sink       *ResultSink
	waitBudget time.Duration
}

func NewCoordinator(batchRepo database.BatchRepository, jobRepo database.JobRepository,
	sourceRepo database.SourceRepository, detector *Detector, optimizer *template.Optimizer,
	sink *ResultSink, waitBudget time.Duration) *Coordinator {
	return &Coordinator{
		batchRepo:  batchRepo,
		jobRepo:    jobRepo,
		sourceRepo: sourceRepo,
		detector:   detector,
		optimizer:  optimizer,
		sink:       sink,
		waitBudget: waitBudget,
	}
}

func (c *Coordinator) RunTick(ctx context.Context) (*database.BatchRun, error) {
	startedAt := time.Now().UTC()

	runID, err := c.batchRepo.CreateBatchRun(startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch run: %w", err)
	}

	accountIDs, detectErr := c.detector.DetectReady(startedAt)
	if detectErr != nil {
		slog.Error("Account detection failed", "batch_id", runID, "error", detectErr)
	}

	if len(accountIDs) > 0 {
		c.waitForImports(ctx, accountIDs)
	}

	results := c.sink.Drain()
	for _, id := range accountIDs {
		if _, ok := results[id]; !ok {
			results[id] = database.AccountResult{Error: "import did not finish within batch window"}
		}
	}

	finishedAt := time.Now().UTC()
	run := &database.BatchRun{
		ID:                runID,
		StartedAt:         startedAt,
		FinishedAt:        &finishedAt,
		AccountsProcessed: len(accountIDs),
		DurationMS:        finishedAt.Sub(startedAt).Milliseconds(),
		Results:           results,
	}
	for _, r := range results {
		run.EmailsFound += r.EmailsFound
		run.EmailsProcessed += r.EmailsProcessed
		if r.Error != "" {
			run.Errors++
		}
	}

	if err := c.batchRepo.FinalizeBatchRun(run); err != nil {
		return nil, fmt.Errorf("failed to finalize batch run: %w", err)
	}

	c.optimizeTemplates()

	slog.Info("Batch run completed",
		"batch_id", runID, "accounts", run.AccountsProcessed,
		"found", run.EmailsFound, "processed", run.EmailsProcessed,
		"errors", run.Errors, "duration_ms", run.DurationMS)

	return run, detectErr
}

// waitForImports polls the queue until none of this tick's import refs are
// live or the wait budget runs out. Workers complete jobs concurrently.
func (c *Coordinator) waitForImports(ctx context.Context, accountIDs []int64) {
	deadline := time.Now().Add(c.waitBudget)
	ticker := time.NewTicker(batchPollInterval)
	defer ticker.Stop()

	for {
		if c.allDrained(accountIDs) {
			return
		}
		if time.Now().After(deadline) {
			slog.Warn("Batch wait budget exhausted", "accounts", len(accountIDs))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) allDrained(accountIDs []int64) bool {
	for _, id := range accountIDs {
		live, err := c.jobRepo.HasLive(database.QueueImport, importRef(id))
		if err != nil {
			slog.Warn("Failed to poll import job", "account_id", id, "error", err)
			return false
		}
		if live {
			return false
		}
	}
	return true
}

func (c *Coordinator) optimizeTemplates() {
	sources, err := c.sourceRepo.ListActiveSources()
	if err != nil {
		slog.Warn("Failed to load sources for optimization", "error", err)
		return
	}

	for _, s := range sources {
		if err := c.optimizer.OptimizeSource(s.ID); err != nil {
			slog.Warn("Template optimization failed", "source", s.Slug, "error", err)
		}
	}
}
