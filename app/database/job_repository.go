package database

import (
	"database/sql"
	"fmt"
	"time"
)

type jobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) JobRepository {
	return &jobRepository{db: db}
}

const jobColumns = `id, queue_name, ref, payload, priority, status,
	COALESCE(holder_id, ''), lease_expires_at, attempts, max_attempts,
	COALESCE(last_error, ''), created_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*JobEntry, error) {
	var e JobEntry
	err := row.Scan(
		&e.ID, &e.QueueName, &e.Ref, &e.Payload, &e.Priority, &e.Status,
		&e.HolderID, &e.LeaseExpiresAt, &e.Attempts, &e.MaxAttempts,
		&e.LastError, &e.CreatedAt, &e.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *jobRepository) Enqueue(queue, ref, payload string, priority, maxAttempts int) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO job_queue (queue_name, ref, payload, priority, status, max_attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, queue, ref, payload, priority, JobStatusPending, maxAttempts, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get job id: %w", err)
	}

	return id, nil
}

// Lease claims one entry in a single UPDATE so no two holders can ever win
// the same entry. Expired leases are reclaimable: a crashed worker's entry
// simply becomes claimable again after its lease runs out.
func (r *jobRepository) Lease(queue, holderID string, leaseDuration time.Duration) (*JobEntry, error) {
	now := time.Now().UTC()
	expiry := now.Add(leaseDuration)

	row := r.db.QueryRow(`
		UPDATE job_queue
		SET status = ?, holder_id = ?, lease_expires_at = ?
		WHERE id = (
			SELECT id FROM job_queue
			WHERE queue_name = ?
			  AND (status = ? OR (status = ? AND lease_expires_at <= ?))
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT 1
		)
		RETURNING `+jobColumns,
		JobStatusLeased, holderID, expiry,
		queue,
		JobStatusPending, JobStatusLeased, now)

	entry, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lease job: %w", err)
	}

	return entry, nil
}

func (r *jobRepository) Complete(id int64) error {
	_, err := r.db.Exec(`
		UPDATE job_queue
		SET status = ?, completed_at = ?, holder_id = NULL, lease_expires_at = NULL
		WHERE id = ?
	`, JobStatusDone, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	return nil
}

func (r *jobRepository) Fail(id int64, reason string) error {
	// One statement decides between retry and permanent failure so a
	// concurrent lease cannot observe an intermediate state.
	_, err := r.db.Exec(`
		UPDATE job_queue
		SET attempts = attempts + 1,
		    last_error = ?,
		    holder_id = NULL,
		    lease_expires_at = NULL,
		    status = CASE WHEN attempts + 1 >= max_attempts THEN ? ELSE ? END,
		    completed_at = CASE WHEN attempts + 1 >= max_attempts THEN ? ELSE NULL END
		WHERE id = ?
	`, reason, JobStatusFailed, JobStatusPending, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}

	return nil
}

func (r *jobRepository) HasLive(queue, ref string) (bool, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM job_queue
		WHERE queue_name = ? AND ref = ? AND status IN (?, ?)
	`, queue, ref, JobStatusPending, JobStatusLeased).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check live jobs: %w", err)
	}

	return count > 0, nil
}

func (r *jobRepository) Depth(queue string) (map[string]int, error) {
	rows, err := r.db.Query(`
		SELECT status, COUNT(*) FROM job_queue WHERE queue_name = ? GROUP BY status
	`, queue)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue depth: %w", err)
	}
	defer rows.Close()

	depth := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan depth row: %w", err)
		}
		depth[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating depth rows: %w", err)
	}

	return depth, nil
}
