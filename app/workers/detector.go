package workers

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoralesv/bankmail/app/database"
)

// Detector scans for due accounts and turns each one into exactly one
// import job. The waiting to running flip is atomic, so two concurrent
// scans can never double-enqueue the same account.
type Detector struct {
	accountRepo database.AccountRepository
	jobRepo     database.JobRepository
	maxAttempts int
}

func NewDetector(accountRepo database.AccountRepository, jobRepo database.JobRepository, maxAttempts int) *Detector {
	return &Detector{
		accountRepo: accountRepo,
		jobRepo:     jobRepo,
		maxAttempts: maxAttempts,
	}
}

// DetectReady claims every due account and enqueues an import job for it.
// Returns the IDs of the accounts that were enqueued this tick.
func (d *Detector) DetectReady(now time.Time) ([]int64, error) {
	if err := d.recoverOrphans(now); err != nil {
		return nil, err
	}

	due, err := d.accountRepo.GetDueAccounts(now)
	if err != nil {
		return nil, fmt.Errorf("failed to scan due accounts: %w", err)
	}

	if len(due) == 0 {
		slog.Debug("No accounts due for import")
		return nil, nil
	}

	var enqueued []int64
	for _, account := range due {
		ref := importRef(account.ID)

		live, err := d.jobRepo.HasLive(database.QueueImport, ref)
		if err != nil {
			return enqueued, fmt.Errorf("failed to check live jobs: %w", err)
		}
		if live {
			slog.Debug("Import already in flight, skipping", "account_id", account.ID)
			continue
		}

		claimed, err := d.accountRepo.ClaimForImport(account.ID)
		if err != nil {
			return enqueued, fmt.Errorf("failed to claim account %d: %w", account.ID, err)
		}
		if !claimed {
			continue
		}

		payload := encodePayload(importPayload{AccountID: account.ID})
		if _, err := d.jobRepo.Enqueue(database.QueueImport, ref, payload, 0, d.maxAttempts); err != nil {
			return enqueued, fmt.Errorf("failed to enqueue import for account %d: %w", account.ID, err)
		}

		enqueued = append(enqueued, account.ID)
		slog.Debug("Import job enqueued", "account_id", account.ID, "email", account.EmailAddress)
	}

	return enqueued, nil
}

// recoverOrphans returns "running" accounts with no live import job to the
// waiting state. A job that exhausted its retries leaves its account claimed
// forever otherwise, since due scans only see waiting and suspended accounts.
func (d *Detector) recoverOrphans(now time.Time) error {
	running, err := d.accountRepo.GetRunningAccounts()
	if err != nil {
		return fmt.Errorf("failed to scan running accounts: %w", err)
	}

	for _, account := range running {
		live, err := d.jobRepo.HasLive(database.QueueImport, importRef(account.ID))
		if err != nil {
			return fmt.Errorf("failed to check live jobs: %w", err)
		}
		if live {
			continue
		}

		backoff := retryBackoff(account.ConsecutiveErrors + 1)
		count, err := d.accountRepo.MarkImportError(account.ID,
			"import job failed permanently", now.Add(backoff))
		if err != nil {
			return fmt.Errorf("failed to reset orphaned account %d: %w", account.ID, err)
		}

		slog.Warn("Reset account with no live import job",
			"account_id", account.ID, "email", account.EmailAddress,
			"consecutive_errors", count, "retry_in", backoff.String())
	}

	return nil
}
