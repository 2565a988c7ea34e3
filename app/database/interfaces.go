package database

import (
	"time"
)

type AccountRepository interface {
	GetAccount(id int64) (*Account, error)
	GetAccountByEmail(email string) (*Account, error)
	ListAccounts() ([]Account, error)
	CreateAccount(a *Account) (int64, error)

	// GetDueAccounts returns active accounts in "waiting" whose next_run_at
	// and suspend_until have both elapsed (or are unset), ordered by
	// next_run_at ascending.
	GetDueAccounts(now time.Time) ([]Account, error)

	// GetRunningAccounts returns accounts currently claimed for import.
	GetRunningAccounts() ([]Account, error)

	// ClaimForImport atomically flips waiting -> running. Returns false if
	// the account was not in "waiting" (someone else claimed it).
	ClaimForImport(id int64) (bool, error)

	MarkImportSuccess(id int64, found, processed int, lastRun, nextRun time.Time) error

	// MarkImportError records a failed run, returns the account to "waiting"
	// with nextRun as its retry time, and reports the consecutive error count.
	MarkImportError(id int64, errMsg string, nextRun time.Time) (int, error)

	// MarkImportFatal moves the account to the terminal "error" state.
	MarkImportFatal(id int64, errMsg string) error

	SuspendAccount(id int64, until time.Time, reason string) error

	CountByStatus() (map[string]int, error)
}

type JobRepository interface {
	Enqueue(queue, ref, payload string, priority, maxAttempts int) (int64, error)

	// Lease atomically claims the highest-priority pending entry (tie-break:
	// oldest) or one whose previous lease has expired. Returns nil if the
	// queue is empty.
	Lease(queue, holderID string, leaseDuration time.Duration) (*JobEntry, error)

	Complete(id int64) error

	// Fail increments the attempt count and returns the entry to "pending",
	// or marks it permanently "failed" once attempts reach max_attempts.
	Fail(id int64, reason string) error

	// HasLive reports whether a pending or leased entry with the given ref
	// exists in the queue.
	HasLive(queue, ref string) (bool, error)

	Depth(queue string) (map[string]int, error)
}

type SourceRepository interface {
	UpsertSource(s *Source) (int64, error)
	GetSourceBySlug(slug string) (*Source, error)
	ListActiveSources() ([]Source, error)
	IncrementProcessed(id int64, transactions int) error
}

type TemplateRepository interface {
	GetTemplate(id int64) (*Template, error)
	GetActiveTemplates(sourceID int64) ([]Template, error)
	ListTemplates(sourceID int64) ([]Template, error)
	CreateTemplate(t *Template) (int64, error)

	// RecordAttempt updates usage counters and the rolling average
	// confidence after every extraction attempt.
	RecordAttempt(id int64, success bool, confidence float64) error

	UpdatePriority(id int64, priority int) error
	SetTemplateActive(id int64, active bool) error
}

type ParseRepository interface {
	GetParseRecord(id int64) (*ParseRecord, error)
	MessageExists(messageID string) (bool, error)
	CreateParseRecord(r *ParseRecord) (int64, error)
	GetPendingRecords(limit int) ([]ParseRecord, error)
	GetRecordsBySource(sourceID int64, limit int) ([]ParseRecord, error)

	MarkSuccess(id int64, sourceID, templateID int64, confidence float64) error
	MarkFailed(id int64, sourceID *int64, reason string, confidence float64) error

	CountByStatus() (map[string]int, error)
}

type TransactionRepository interface {
	ExistsForRecord(parseRecordID int64) (bool, error)
	CreateTransaction(t *Transaction) (int64, error)
	ListTransactions(limit int) ([]Transaction, error)
	GetTransactionCount() (int, error)
}

type BatchRepository interface {
	CreateBatchRun(startedAt time.Time) (int64, error)
	FinalizeBatchRun(run *BatchRun) error
	GetRecentBatchRuns(limit int) ([]BatchRun, error)
}
