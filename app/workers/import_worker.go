package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoralesv/bankmail/app/database"
	"github.com/jmoralesv/bankmail/app/mailbox"
)

const maxRetryBackoff = 120 * time.Minute

// ImportWorker executes one leased import job: fetch new messages for the
// account, dedup on provider message id, insert pending parse records.
// Account-level failures are absorbed into the account state machine; an
// error return means the job itself should be retried.
type ImportWorker struct {
	accountRepo      database.AccountRepository
	parseRepo        database.ParseRepository
	sourceRepo       database.SourceRepository
	mailClient       mailbox.Client
	sink             *ResultSink
	fetchTimeout     time.Duration
	lookbackDays     int
	suspendThreshold int
	suspendDuration  time.Duration
}

func NewImportWorker(accountRepo database.AccountRepository, parseRepo database.ParseRepository,
	sourceRepo database.SourceRepository, mailClient mailbox.Client, sink *ResultSink,
	fetchTimeout time.Duration, lookbackDays, suspendThreshold int, suspendDuration time.Duration) *ImportWorker {
	return &ImportWorker{
		accountRepo:      accountRepo,
		parseRepo:        parseRepo,
		sourceRepo:       sourceRepo,
		mailClient:       mailClient,
		sink:             sink,
		fetchTimeout:     fetchTimeout,
		lookbackDays:     lookbackDays,
		suspendThreshold: suspendThreshold,
		suspendDuration:  suspendDuration,
	}
}

func (w *ImportWorker) Process(ctx context.Context, job *database.JobEntry) error {
	var payload importPayload
	if err := decodePayload(job.Payload, &payload); err != nil {
		return err
	}

	account, err := w.accountRepo.GetAccount(payload.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load account %d: %w", payload.AccountID, err)
	}
	if account == nil {
		slog.Warn("Import job for missing account, dropping", "account_id", payload.AccountID)
		return nil
	}
	if account.ImportStatus != database.ImportStatusRunning {
		slog.Warn("Account no longer claimed for import, dropping",
			"account_id", account.ID, "import_status", account.ImportStatus)
		return nil
	}

	// A missing credential is a configuration problem, not a transient one.
	if account.AccessToken == "" {
		if err := w.accountRepo.MarkImportFatal(account.ID, "missing access token"); err != nil {
			return fmt.Errorf("failed to mark account fatal: %w", err)
		}
		w.sink.Record(account.ID, database.AccountResult{Error: "missing access token"})
		slog.Error("Account has no access token, marking as failed",
			"account_id", account.ID, "email", account.EmailAddress)
		return nil
	}

	now := time.Now().UTC()

	query, err := w.buildQuery()
	if err != nil {
		return err
	}

	since := now.AddDate(0, 0, -w.lookbackDays)
	if account.LookbackDays > 0 {
		since = now.AddDate(0, 0, -account.LookbackDays)
	}
	if account.LastRunAt != nil && account.LastRunAt.After(since) {
		since = *account.LastRunAt
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.fetchTimeout)
	defer cancel()

	messages, err := w.mailClient.FetchMessages(fetchCtx, mailbox.Credential{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
	}, query, since)
	if err != nil {
		return w.recordFailure(account, now, err)
	}

	processed := 0
	for _, msg := range messages {
		exists, err := w.parseRepo.MessageExists(msg.ID)
		if err != nil {
			return fmt.Errorf("failed to check message %s: %w", msg.ID, err)
		}
		if exists {
			continue
		}

		receivedAt := msg.Timestamp
		if _, err := w.parseRepo.CreateParseRecord(&database.ParseRecord{
			AccountID:  account.ID,
			MessageID:  msg.ID,
			Sender:     msg.Sender,
			Subject:    msg.Subject,
			Body:       msg.Body,
			ReceivedAt: &receivedAt,
		}); err != nil {
			return fmt.Errorf("failed to store parse record: %w", err)
		}
		processed++
	}

	nextRun := now.Add(time.Duration(account.SyncIntervalMinutes) * time.Minute)
	if err := w.accountRepo.MarkImportSuccess(account.ID, len(messages), processed, now, nextRun); err != nil {
		return fmt.Errorf("failed to record import success: %w", err)
	}

	w.sink.Record(account.ID, database.AccountResult{
		EmailsFound:     len(messages),
		EmailsProcessed: processed,
	})

	slog.Info("Import completed",
		"account_id", account.ID, "email", account.EmailAddress,
		"found", len(messages), "new", processed)

	return nil
}

// recordFailure returns the account to waiting with an exponential retry
// backoff and suspends it once consecutive failures cross the threshold.
func (w *ImportWorker) recordFailure(account *database.Account, now time.Time, cause error) error {
	backoff := retryBackoff(account.ConsecutiveErrors + 1)

	count, err := w.accountRepo.MarkImportError(account.ID, cause.Error(), now.Add(backoff))
	if err != nil {
		return fmt.Errorf("failed to record import error: %w", err)
	}

	reason := "repeated import failures"
	var authErr *mailbox.AuthError
	if errors.As(cause, &authErr) {
		reason = "repeated authentication failures"
	}

	if count >= w.suspendThreshold {
		until := now.Add(w.suspendDuration)
		if err := w.accountRepo.SuspendAccount(account.ID, until, reason); err != nil {
			return fmt.Errorf("failed to suspend account: %w", err)
		}
		slog.Warn("Account suspended",
			"account_id", account.ID, "email", account.EmailAddress,
			"consecutive_errors", count, "until", until, "reason", reason)
	} else {
		slog.Warn("Import failed",
			"account_id", account.ID, "email", account.EmailAddress,
			"consecutive_errors", count, "retry_in", backoff.String(), "error", cause)
	}

	w.sink.Record(account.ID, database.AccountResult{Error: cause.Error()})

	return nil
}

func retryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	backoff := time.Duration(5*(1<<uint(attempt-1))) * time.Minute
	if backoff > maxRetryBackoff {
		backoff = maxRetryBackoff
	}
	return backoff
}

// buildQuery narrows the mailbox search to registered bank senders so the
// fetch does not page through the whole inbox.
func (w *ImportWorker) buildQuery() (string, error) {
	sources, err := w.sourceRepo.ListActiveSources()
	if err != nil {
		return "", fmt.Errorf("failed to load sources: %w", err)
	}

	var senders []string
	for _, s := range sources {
		senders = append(senders, s.SenderDomains...)
		senders = append(senders, s.SenderEmails...)
	}
	if len(senders) == 0 {
		return "", nil
	}

	return "from:(" + strings.Join(senders, " OR ") + ")", nil
}
