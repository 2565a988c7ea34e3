package workers

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmoralesv/bankmail/app/database"
	"github.com/jmoralesv/bankmail/app/mailbox"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

// fakeMailClient serves canned messages or a canned error.
type fakeMailClient struct {
	messages []mailbox.RawMessage
	err      error
	calls    int
}

func (f *fakeMailClient) FetchMessages(_ context.Context, _ mailbox.Credential, _ string, _ time.Time) ([]mailbox.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.messages, nil
}

func createDueAccount(t *testing.T, repo database.AccountRepository, email string) int64 {
	t.Helper()

	id, err := repo.CreateAccount(&database.Account{
		Provider:            "gmail",
		EmailAddress:        email,
		AccessToken:         "token",
		IsActive:            true,
		SyncIntervalMinutes: 15,
	})
	require.NoError(t, err)
	return id
}

func createBankSource(t *testing.T, repo database.SourceRepository) int64 {
	t.Helper()

	id, err := repo.UpsertSource(&database.Source{
		Slug:          "banco-central",
		Name:          "Banco Central",
		SenderDomains: []string{"banco.cr"},
		SenderEmails:  []string{"alertas@banco.cr"},
		Keywords:      []string{"banco central"},
		MatchPriority: 10,
		IsActive:      true,
	})
	require.NoError(t, err)
	return id
}

func leaseJob(t *testing.T, repo database.JobRepository, queue string) *database.JobEntry {
	t.Helper()

	job, err := repo.Lease(queue, "test-worker", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}
