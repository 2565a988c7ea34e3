package database

import (
	"encoding/json"
	"fmt"
	"time"
)

type batchRepository struct {
	db *DB
}

func NewBatchRepository(db *DB) BatchRepository {
	return &batchRepository{db: db}
}

func (r *batchRepository) CreateBatchRun(startedAt time.Time) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO batch_runs (started_at) VALUES (?)
	`, startedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to create batch run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get batch run id: %w", err)
	}

	return id, nil
}

func (r *batchRepository) FinalizeBatchRun(run *BatchRun) error {
	results, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("failed to encode batch results: %w", err)
	}

	_, err = r.db.Exec(`
		UPDATE batch_runs
		SET finished_at = ?, accounts_processed = ?, emails_found = ?, emails_processed = ?,
		    errors = ?, duration_ms = ?, results = ?
		WHERE id = ?
	`, run.FinishedAt, run.AccountsProcessed, run.EmailsFound, run.EmailsProcessed,
		run.Errors, run.DurationMS, string(results), run.ID)
	if err != nil {
		return fmt.Errorf("failed to finalize batch run: %w", err)
	}

	return nil
}

func (r *batchRepository) GetRecentBatchRuns(limit int) ([]BatchRun, error) {
	rows, err := r.db.Query(`
		SELECT id, started_at, finished_at, accounts_processed, emails_found, emails_processed,
		       errors, duration_ms, COALESCE(results, '{}')
		FROM batch_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch runs: %w", err)
	}
	defer rows.Close()

	var runs []BatchRun
	for rows.Next() {
		var run BatchRun
		var results string
		err := rows.Scan(
			&run.ID, &run.StartedAt, &run.FinishedAt, &run.AccountsProcessed,
			&run.EmailsFound, &run.EmailsProcessed, &run.Errors, &run.DurationMS, &results,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch run row: %w", err)
		}

		if err := json.Unmarshal([]byte(results), &run.Results); err != nil {
			return nil, fmt.Errorf("failed to decode batch results: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batch run rows: %w", err)
	}

	return runs, nil
}
