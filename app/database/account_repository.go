package database

import (
	"database/sql"
	"fmt"
	"time"
)

type accountRepository struct {
	db *DB
}

func NewAccountRepository(db *DB) AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `id, provider, email_address, COALESCE(access_token, ''), COALESCE(refresh_token, ''),
	is_active, sync_interval_minutes, lookback_days, import_status,
	last_run_at, next_run_at, suspend_until, COALESCE(suspend_reason, ''),
	consecutive_errors, emails_found_today, emails_processed_today, COALESCE(counter_date, ''),
	COALESCE(last_error, ''), last_error_at, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.Provider, &a.EmailAddress, &a.AccessToken, &a.RefreshToken,
		&a.IsActive, &a.SyncIntervalMinutes, &a.LookbackDays, &a.ImportStatus,
		&a.LastRunAt, &a.NextRunAt, &a.SuspendUntil, &a.SuspendReason,
		&a.ConsecutiveErrors, &a.EmailsFoundToday, &a.EmailsProcessedToday, &a.CounterDate,
		&a.LastError, &a.LastErrorAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *accountRepository) GetAccount(id int64) (*Account, error) {
	row := r.db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

func (r *accountRepository) GetAccountByEmail(email string) (*Account, error) {
	row := r.db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE email_address = ?`, email)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}

	return account, nil
}

func (r *accountRepository) ListAccounts() ([]Account, error) {
	rows, err := r.db.Query(`SELECT ` + accountColumns + ` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, *account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account rows: %w", err)
	}

	return accounts, nil
}

func (r *accountRepository) CreateAccount(a *Account) (int64, error) {
	now := time.Now().UTC()

	result, err := r.db.Exec(`
		INSERT INTO accounts (provider, email_address, access_token, refresh_token,
			is_active, sync_interval_minutes, lookback_days, import_status, next_run_at,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.Provider, a.EmailAddress, a.AccessToken, a.RefreshToken,
		a.IsActive, a.SyncIntervalMinutes, a.LookbackDays, ImportStatusWaiting, now,
		now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to create account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get account id: %w", err)
	}

	return id, nil
}

func (r *accountRepository) GetDueAccounts(now time.Time) ([]Account, error) {
	// Suspended accounts become due again once suspend_until elapses.
	// "error" is terminal for the scheduler: fatal accounts never run.
	rows, err := r.db.Query(`
		SELECT `+accountColumns+`
		FROM accounts
		WHERE is_active = 1
		  AND (import_status = ? OR (import_status = ? AND suspend_until <= ?))
		  AND (next_run_at IS NULL OR next_run_at <= ?)
		  AND (suspend_until IS NULL OR suspend_until <= ?)
		ORDER BY COALESCE(next_run_at, '1970-01-01')
	`, ImportStatusWaiting, ImportStatusSuspended, now, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get due accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, *account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account rows: %w", err)
	}

	return accounts, nil
}

func (r *accountRepository) GetRunningAccounts() ([]Account, error) {
	rows, err := r.db.Query(`
		SELECT `+accountColumns+` FROM accounts WHERE import_status = ? ORDER BY id
	`, ImportStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to get running accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, *account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account rows: %w", err)
	}

	return accounts, nil
}

func (r *accountRepository) ClaimForImport(id int64) (bool, error) {
	now := time.Now().UTC()

	result, err := r.db.Exec(`
		UPDATE accounts
		SET import_status = ?, suspend_until = NULL, suspend_reason = NULL, updated_at = ?
		WHERE id = ?
		  AND (import_status = ? OR (import_status = ? AND suspend_until <= ?))
	`, ImportStatusRunning, now, id, ImportStatusWaiting, ImportStatusSuspended, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim account for import: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check claim result: %w", err)
	}

	return affected == 1, nil
}

func (r *accountRepository) MarkImportSuccess(id int64, found, processed int, lastRun, nextRun time.Time) error {
	today := lastRun.UTC().Format("2006-01-02")

	// Rolling today-counters reset when the counter date moves on.
	_, err := r.db.Exec(`
		UPDATE accounts
		SET import_status = ?,
		    last_run_at = ?,
		    next_run_at = ?,
		    consecutive_errors = 0,
		    last_error = NULL,
		    emails_found_today = CASE WHEN counter_date = ? THEN emails_found_today + ? ELSE ? END,
		    emails_processed_today = CASE WHEN counter_date = ? THEN emails_processed_today + ? ELSE ? END,
		    counter_date = ?,
		    updated_at = ?
		WHERE id = ?
	`, ImportStatusWaiting, lastRun, nextRun,
		today, found, found,
		today, processed, processed,
		today, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark import success: %w", err)
	}

	return nil
}

// MarkImportError records a failed run and returns the account to "waiting"
// so a later tick retries it after the backoff encoded in nextRun.
func (r *accountRepository) MarkImportError(id int64, errMsg string, nextRun time.Time) (int, error) {
	now := time.Now().UTC()

	_, err := r.db.Exec(`
		UPDATE accounts
		SET import_status = ?,
		    consecutive_errors = consecutive_errors + 1,
		    last_error = ?,
		    last_error_at = ?,
		    next_run_at = ?,
		    updated_at = ?
		WHERE id = ?
	`, ImportStatusWaiting, errMsg, now, nextRun, now, id)
	if err != nil {
		return 0, fmt.Errorf("failed to mark import error: %w", err)
	}

	var consecutive int
	err = r.db.QueryRow(`SELECT consecutive_errors FROM accounts WHERE id = ?`, id).Scan(&consecutive)
	if err != nil {
		return 0, fmt.Errorf("failed to read consecutive errors: %w", err)
	}

	return consecutive, nil
}

// MarkImportFatal moves an account to the terminal "error" state. Used for
// configuration problems (missing credential) that retrying cannot fix.
func (r *accountRepository) MarkImportFatal(id int64, errMsg string) error {
	now := time.Now().UTC()

	_, err := r.db.Exec(`
		UPDATE accounts
		SET import_status = ?, last_error = ?, last_error_at = ?, updated_at = ?
		WHERE id = ?
	`, ImportStatusError, errMsg, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark import fatal: %w", err)
	}

	return nil
}

func (r *accountRepository) SuspendAccount(id int64, until time.Time, reason string) error {
	_, err := r.db.Exec(`
		UPDATE accounts
		SET import_status = ?, suspend_until = ?, suspend_reason = ?, updated_at = ?
		WHERE id = ?
	`, ImportStatusSuspended, until, reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to suspend account: %w", err)
	}

	return nil
}

func (r *accountRepository) CountByStatus() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT import_status, COUNT(*) FROM accounts GROUP BY import_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count accounts by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	return counts, nil
}
