package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmoralesv/bankmail/app/cfg"
	"github.com/jmoralesv/bankmail/app/database"
)

const idlePollInterval = time.Second

// Runner owns the background machinery: a ticker goroutine driving batch
// ticks and parse detection, plus a pool of workers draining both queues.
type Runner struct {
	jobRepo          database.JobRepository
	coordinator      *Coordinator
	parseDetector    *ParseDetector
	importWorker     *ImportWorker
	extractionWorker *ExtractionWorker
	interval         time.Duration
	workerCount      int
	leaseDuration    time.Duration
	ctx              context.Context
	cancel           context.CancelFunc
	wg               sync.WaitGroup
}

func NewRunner(jobRepo database.JobRepository, coordinator *Coordinator, parseDetector *ParseDetector,
	importWorker *ImportWorker, extractionWorker *ExtractionWorker) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	return &Runner{
		jobRepo:          jobRepo,
		coordinator:      coordinator,
		parseDetector:    parseDetector,
		importWorker:     importWorker,
		extractionWorker: extractionWorker,
		interval:         time.Duration(cfg.SchedulerInterval) * time.Second,
		workerCount:      cfg.WorkerCount,
		leaseDuration:    time.Duration(cfg.LeaseDuration) * time.Second,
		ctx:              ctx,
		cancel:           cancel,
	}
}

func (r *Runner) Start() {
	for i := 0; i < r.workerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.tick()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.tick()
			}
		}
	}()

	slog.Info("Runner started", "workers", r.workerCount, "interval", r.interval.String())
}

func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) tick() {
	if _, err := r.coordinator.RunTick(r.ctx); err != nil {
		slog.Error("Batch tick failed", "error", err)
	}

	if _, err := r.parseDetector.DetectReady(); err != nil {
		slog.Error("Parse detection failed", "error", err)
	}
}

// worker drains the import queue first, then the parse queue, then idles.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	holderID := fmt.Sprintf("worker-%d-%s", id, uuid.NewString()[:8])

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		if r.leaseAndRun(holderID, database.QueueImport) {
			continue
		}
		if r.leaseAndRun(holderID, database.QueueParse) {
			continue
		}

		select {
		case <-r.ctx.Done():
			return
		case <-time.After(idlePollInterval):
		}
	}
}

// leaseAndRun claims one entry from the queue and executes it. Reports
// whether an entry was found.
func (r *Runner) leaseAndRun(holderID, queue string) bool {
	job, err := r.jobRepo.Lease(queue, holderID, r.leaseDuration)
	if err != nil {
		slog.Error("Failed to lease job", "queue", queue, "holder_id", holderID, "error", err)
		return false
	}
	if job == nil {
		return false
	}

	var execErr error
	switch queue {
	case database.QueueImport:
		execErr = r.importWorker.Process(r.ctx, job)
	case database.QueueParse:
		execErr = r.extractionWorker.Process(r.ctx, job)
	}

	if execErr != nil {
		slog.Error("Job execution failed",
			"queue", queue, "job_id", job.ID, "ref", job.Ref,
			"attempts", job.Attempts, "holder_id", holderID, "error", execErr)
		if err := r.jobRepo.Fail(job.ID, execErr.Error()); err != nil {
			slog.Error("Failed to record job failure", "job_id", job.ID, "error", err)
		}
		return true
	}

	if err := r.jobRepo.Complete(job.ID); err != nil {
		slog.Error("Failed to complete job", "job_id", job.ID, "error", err)
	}

	return true
}
