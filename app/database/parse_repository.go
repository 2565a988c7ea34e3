package database

import (
	"database/sql"
	"fmt"
	"time"
)

type parseRepository struct {
	db *DB
}

func NewParseRepository(db *DB) ParseRepository {
	return &parseRepository{db: db}
}

const parseColumns = `id, account_id, source_id, message_id, sender, subject, body,
	received_at, parsing_status, COALESCE(failure_reason, ''), confidence,
	template_id, processed_at, created_at`

func scanParseRecord(row interface{ Scan(...any) error }) (*ParseRecord, error) {
	var p ParseRecord
	err := row.Scan(
		&p.ID, &p.AccountID, &p.SourceID, &p.MessageID, &p.Sender, &p.Subject, &p.Body,
		&p.ReceivedAt, &p.ParsingStatus, &p.FailureReason, &p.Confidence,
		&p.TemplateID, &p.ProcessedAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *parseRepository) GetParseRecord(id int64) (*ParseRecord, error) {
	row := r.db.QueryRow(`SELECT `+parseColumns+` FROM parse_records WHERE id = ?`, id)

	record, err := scanParseRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get parse record: %w", err)
	}

	return record, nil
}

func (r *parseRepository) MessageExists(messageID string) (bool, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM parse_records WHERE message_id = ?`, messageID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}

	return count > 0, nil
}

func (r *parseRepository) CreateParseRecord(p *ParseRecord) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO parse_records (account_id, source_id, message_id, sender, subject, body,
			received_at, parsing_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.AccountID, p.SourceID, p.MessageID, p.Sender, p.Subject, p.Body,
		p.ReceivedAt, ParseStatusPending, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to create parse record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get parse record id: %w", err)
	}

	return id, nil
}

func (r *parseRepository) GetPendingRecords(limit int) ([]ParseRecord, error) {
	return r.queryRecords(`
		SELECT `+parseColumns+` FROM parse_records
		WHERE parsing_status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, ParseStatusPending, limit)
}

func (r *parseRepository) GetRecordsBySource(sourceID int64, limit int) ([]ParseRecord, error) {
	return r.queryRecords(`
		SELECT `+parseColumns+` FROM parse_records
		WHERE source_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, sourceID, limit)
}

func (r *parseRepository) queryRecords(query string, args ...any) ([]ParseRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query parse records: %w", err)
	}
	defer rows.Close()

	var records []ParseRecord
	for rows.Next() {
		record, err := scanParseRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan parse record row: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating parse record rows: %w", err)
	}

	return records, nil
}

func (r *parseRepository) MarkSuccess(id int64, sourceID, templateID int64, confidence float64) error {
	_, err := r.db.Exec(`
		UPDATE parse_records
		SET parsing_status = ?, source_id = ?, template_id = ?, confidence = ?,
		    failure_reason = NULL, processed_at = ?
		WHERE id = ?
	`, ParseStatusSuccess, sourceID, templateID, confidence, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark parse record success: %w", err)
	}

	return nil
}

func (r *parseRepository) MarkFailed(id int64, sourceID *int64, reason string, confidence float64) error {
	_, err := r.db.Exec(`
		UPDATE parse_records
		SET parsing_status = ?, source_id = ?, failure_reason = ?, confidence = ?, processed_at = ?
		WHERE id = ?
	`, ParseStatusFailed, sourceID, reason, confidence, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark parse record failed: %w", err)
	}

	return nil
}

func (r *parseRepository) CountByStatus() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT parsing_status, COUNT(*) FROM parse_records GROUP BY parsing_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count parse records: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan parse record count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating parse record counts: %w", err)
	}

	return counts, nil
}
