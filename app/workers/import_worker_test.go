package workers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmoralesv/bankmail/app/database"
	"github.com/jmoralesv/bankmail/app/mailbox"
)

func newImportWorker(t *testing.T, db *database.DB, client mailbox.Client, sink *ResultSink) *ImportWorker {
	t.Helper()

	return NewImportWorker(
		database.NewAccountRepository(db),
		database.NewParseRepository(db),
		database.NewSourceRepository(db),
		client, sink,
		10*time.Second, 30, 2, 2*time.Hour,
	)
}

func enqueueImport(t *testing.T, db *database.DB, accountID int64) *database.JobEntry {
	t.Helper()

	jobRepo := database.NewJobRepository(db)
	_, err := jobRepo.Enqueue(database.QueueImport, importRef(accountID),
		encodePayload(importPayload{AccountID: accountID}), 0, 3)
	require.NoError(t, err)
	return leaseJob(t, jobRepo, database.QueueImport)
}

func TestImportWorkerStoresNewMessages(t *testing.T) {
	db := newTestDB(t)
	accountRepo := database.NewAccountRepository(db)
	parseRepo := database.NewParseRepository(db)
	sink := NewResultSink()

	client := &fakeMailClient{messages: []mailbox.RawMessage{
		{ID: "m1", Sender: "alertas@banco.cr", Subject: "Compra", Body: "Monto: CRC 100", Timestamp: time.Now().UTC()},
		{ID: "m2", Sender: "alertas@banco.cr", Subject: "Retiro", Body: "Monto: CRC 200", Timestamp: time.Now().UTC()},
	}}
	worker := newImportWorker(t, db, client, sink)

	accountID := createDueAccount(t, accountRepo, "import@example.com")
	claimed, err := accountRepo.ClaimForImport(accountID)
	require.NoError(t, err)
	require.True(t, claimed)

	job := enqueueImport(t, db, accountID)
	require.NoError(t, worker.Process(context.Background(), job))

	pending, err := parseRepo.GetPendingRecords(10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	account, err := accountRepo.GetAccount(accountID)
	require.NoError(t, err)
	require.Equal(t, database.ImportStatusWaiting, account.ImportStatus)
	require.Equal(t, 2, account.EmailsFoundToday)
	require.Equal(t, 2, account.EmailsProcessedToday)
	require.NotNil(t, account.NextRunAt)
	require.True(t, account.NextRunAt.After(time.Now().UTC()))

	result := sink.Drain()[accountID]
	require.Equal(t, 2, result.EmailsFound)
	require.Equal(t, 2, result.EmailsProcessed)
	require.Empty(t, result.Error)
}

func TestImportWorkerDedupsOnMessageID(t *testing.T) {
	db := newTestDB(t)
	accountRepo := database.NewAccountRepository(db)
	parseRepo := database.NewParseRepository(db)
	sink := NewResultSink()

	client := &fakeMailClient{messages: []mailbox.RawMessage{
		{ID: "m1", Sender: "alertas@banco.cr", Subject: "Compra", Body: "Monto: CRC 100", Timestamp: time.Now().UTC()},
	}}
	worker := newImportWorker(t, db, client, sink)

	accountID := createDueAccount(t, accountRepo, "dedup@example.com")

	for i := 0; i < 2; i++ {
		claimed, err := accountRepo.ClaimForImport(accountID)
		require.NoError(t, err)
		require.True(t, claimed)

		job := enqueueImport(t, db, accountID)
		require.NoError(t, worker.Process(context.Background(), job))
	}

	pending, err := parseRepo.GetPendingRecords(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Second run found the message again but processed nothing new.
	result := sink.Drain()[accountID]
	require.Equal(t, 1, result.EmailsFound)
	require.Equal(t, 0, result.EmailsProcessed)
}

func TestImportWorkerSuspendsAfterRepeatedAuthFailures(t *testing.T) {
	db := newTestDB(t)
	accountRepo := database.NewAccountRepository(db)
	sink := NewResultSink()

	client := &fakeMailClient{err: &mailbox.AuthError{Status: 401}}
	worker := newImportWorker(t, db, client, sink) // suspendThreshold 2

	accountID := createDueAccount(t, accountRepo, "auth@example.com")

	// First failure backs the account off but keeps it waiting.
	claimed, err := accountRepo.ClaimForImport(accountID)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, worker.Process(context.Background(), enqueueImport(t, db, accountID)))

	account, err := accountRepo.GetAccount(accountID)
	require.NoError(t, err)
	require.Equal(t, database.ImportStatusWaiting, account.ImportStatus)
	require.Equal(t, 1, account.ConsecutiveErrors)

	// Second consecutive failure crosses the threshold.
	_, err = db.Exec(`UPDATE accounts SET next_run_at = NULL WHERE id = ?`, accountID)
	require.NoError(t, err)
	claimed, err = accountRepo.ClaimForImport(accountID)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, worker.Process(context.Background(), enqueueImport(t, db, accountID)))

	account, err = accountRepo.GetAccount(accountID)
	require.NoError(t, err)
	require.Equal(t, database.ImportStatusSuspended, account.ImportStatus)
	require.Equal(t, "repeated authentication failures", account.SuspendReason)
	require.NotNil(t, account.SuspendUntil)
	require.True(t, account.SuspendUntil.After(time.Now().UTC()))
}

func TestImportWorkerMarksMissingTokenFatal(t *testing.T) {
	db := newTestDB(t)
	accountRepo := database.NewAccountRepository(db)
	sink := NewResultSink()

	worker := newImportWorker(t, db, &fakeMailClient{}, sink)

	accountID, err := accountRepo.CreateAccount(&database.Account{
		Provider:            "gmail",
		EmailAddress:        "notoken@example.com",
		IsActive:            true,
		SyncIntervalMinutes: 15,
	})
	require.NoError(t, err)

	claimed, err := accountRepo.ClaimForImport(accountID)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, worker.Process(context.Background(), enqueueImport(t, db, accountID)))

	account, err := accountRepo.GetAccount(accountID)
	require.NoError(t, err)
	require.Equal(t, database.ImportStatusError, account.ImportStatus)
	require.Equal(t, "missing access token", account.LastError)

	// Terminal accounts never become due again.
	due, err := accountRepo.GetDueAccounts(time.Now().UTC().Add(24 * time.Hour))
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestImportWorkerDropsStaleJob(t *testing.T) {
	db := newTestDB(t)
	accountRepo := database.NewAccountRepository(db)
	sink := NewResultSink()

	client := &fakeMailClient{}
	worker := newImportWorker(t, db, client, sink)

	// Account exists but was never claimed: the job is stale.
	accountID := createDueAccount(t, accountRepo, "stale@example.com")
	job := enqueueImport(t, db, accountID)

	require.NoError(t, worker.Process(context.Background(), job))
	require.Equal(t, 0, client.calls)
}
