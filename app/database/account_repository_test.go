package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func createTestAccount(t *testing.T, repo AccountRepository, email string) int64 {
	t.Helper()

	id, err := repo.CreateAccount(&Account{
		Provider:            "gmail",
		EmailAddress:        email,
		AccessToken:         "token",
		IsActive:            true,
		SyncIntervalMinutes: 15,
	})
	require.NoError(t, err)
	return id
}

func TestGetDueAccountsSelection(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	now := time.Now().UTC()

	dueID := createTestAccount(t, repo, "due@example.com")

	notYetID := createTestAccount(t, repo, "notyet@example.com")
	_, err := db.Exec(`UPDATE accounts SET next_run_at = ? WHERE id = ?`, now.Add(time.Hour), notYetID)
	require.NoError(t, err)

	resumedID := createTestAccount(t, repo, "resumed@example.com")
	require.NoError(t, repo.SuspendAccount(resumedID, now.Add(-time.Minute), "past suspension"))

	stillSuspendedID := createTestAccount(t, repo, "suspended@example.com")
	require.NoError(t, repo.SuspendAccount(stillSuspendedID, now.Add(time.Hour), "active suspension"))

	fatalID := createTestAccount(t, repo, "fatal@example.com")
	require.NoError(t, repo.MarkImportFatal(fatalID, "missing access token"))

	inactiveID := createTestAccount(t, repo, "inactive@example.com")
	_, err = db.Exec(`UPDATE accounts SET is_active = 0 WHERE id = ?`, inactiveID)
	require.NoError(t, err)

	due, err := repo.GetDueAccounts(now)
	require.NoError(t, err)

	ids := make([]int64, 0, len(due))
	for _, a := range due {
		ids = append(ids, a.ID)
	}
	require.ElementsMatch(t, []int64{dueID, resumedID}, ids)
}

func TestClaimForImportIsExclusive(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)

	id := createTestAccount(t, repo, "claim@example.com")

	claimed, err := repo.ClaimForImport(id)
	require.NoError(t, err)
	require.True(t, claimed)

	again, err := repo.ClaimForImport(id)
	require.NoError(t, err)
	require.False(t, again)

	account, err := repo.GetAccount(id)
	require.NoError(t, err)
	require.Equal(t, ImportStatusRunning, account.ImportStatus)
}

func TestClaimForImportResumesElapsedSuspension(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	now := time.Now().UTC()

	id := createTestAccount(t, repo, "resume@example.com")
	require.NoError(t, repo.SuspendAccount(id, now.Add(-time.Minute), "past suspension"))

	claimed, err := repo.ClaimForImport(id)
	require.NoError(t, err)
	require.True(t, claimed)

	account, err := repo.GetAccount(id)
	require.NoError(t, err)
	require.Equal(t, ImportStatusRunning, account.ImportStatus)
	require.Nil(t, account.SuspendUntil)
	require.Empty(t, account.SuspendReason)
}

func TestMarkImportErrorReturnsToWaitingWithBackoff(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	now := time.Now().UTC()

	id := createTestAccount(t, repo, "errors@example.com")
	_, err := repo.ClaimForImport(id)
	require.NoError(t, err)

	retryAt := now.Add(10 * time.Minute)
	count, err := repo.MarkImportError(id, "fetch failed", retryAt)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = repo.MarkImportError(id, "fetch failed again", retryAt)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	account, err := repo.GetAccount(id)
	require.NoError(t, err)
	require.Equal(t, ImportStatusWaiting, account.ImportStatus)
	require.Equal(t, "fetch failed again", account.LastError)
	require.NotNil(t, account.NextRunAt)
	require.WithinDuration(t, retryAt, *account.NextRunAt, time.Second)

	// Backed-off account is not due until the retry time passes.
	due, err := repo.GetDueAccounts(now)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestMarkImportSuccessRollsDailyCounters(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	now := time.Now().UTC()

	id := createTestAccount(t, repo, "counters@example.com")

	require.NoError(t, repo.MarkImportSuccess(id, 5, 3, now, now.Add(15*time.Minute)))
	require.NoError(t, repo.MarkImportSuccess(id, 2, 1, now, now.Add(15*time.Minute)))

	account, err := repo.GetAccount(id)
	require.NoError(t, err)
	require.Equal(t, 7, account.EmailsFoundToday)
	require.Equal(t, 4, account.EmailsProcessedToday)
	require.Equal(t, now.Format("2006-01-02"), account.CounterDate)
	require.Equal(t, 0, account.ConsecutiveErrors)
	require.Equal(t, ImportStatusWaiting, account.ImportStatus)

	// A run on a later date starts the counters over.
	tomorrow := now.AddDate(0, 0, 1)
	require.NoError(t, repo.MarkImportSuccess(id, 4, 4, tomorrow, tomorrow.Add(15*time.Minute)))

	account, err = repo.GetAccount(id)
	require.NoError(t, err)
	require.Equal(t, 4, account.EmailsFoundToday)
	require.Equal(t, 4, account.EmailsProcessedToday)
	require.Equal(t, tomorrow.Format("2006-01-02"), account.CounterDate)
}

func TestMarkImportSuccessClearsErrorStreak(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	now := time.Now().UTC()

	id := createTestAccount(t, repo, "recovery@example.com")

	_, err := repo.MarkImportError(id, "flaky network", now)
	require.NoError(t, err)

	require.NoError(t, repo.MarkImportSuccess(id, 1, 1, now, now.Add(15*time.Minute)))

	account, err := repo.GetAccount(id)
	require.NoError(t, err)
	require.Equal(t, 0, account.ConsecutiveErrors)
	require.Empty(t, account.LastError)
}

func TestCountByStatus(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)

	createTestAccount(t, repo, "a@example.com")
	createTestAccount(t, repo, "b@example.com")
	suspendedID := createTestAccount(t, repo, "c@example.com")
	require.NoError(t, repo.SuspendAccount(suspendedID, time.Now().UTC().Add(time.Hour), "failures"))

	counts, err := repo.CountByStatus()
	require.NoError(t, err)
	require.Equal(t, 2, counts[ImportStatusWaiting])
	require.Equal(t, 1, counts[ImportStatusSuspended])
}
