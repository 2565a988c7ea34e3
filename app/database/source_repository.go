package database

import (
	"database/sql"
	"fmt"
	"time"
)

type sourceRepository struct {
	db *DB
}

func NewSourceRepository(db *DB) SourceRepository {
	return &sourceRepository{db: db}
}

const sourceColumns = `id, slug, name, sender_domains, sender_emails, keywords,
	match_priority, is_active, emails_processed, transactions_created, created_at, updated_at`

func scanSource(row interface{ Scan(...any) error }) (*Source, error) {
	var s Source
	var domains, emails, keywords string
	err := row.Scan(
		&s.ID, &s.Slug, &s.Name, &domains, &emails, &keywords,
		&s.MatchPriority, &s.IsActive, &s.EmailsProcessed, &s.TransactionsCreated,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.SenderDomains = unmarshalList(domains)
	s.SenderEmails = unmarshalList(emails)
	s.Keywords = unmarshalList(keywords)
	return &s, nil
}

// UpsertSource registers a source definition, keyed by slug. Processing
// counters survive re-registration.
func (r *sourceRepository) UpsertSource(s *Source) (int64, error) {
	existing, err := r.GetSourceBySlug(s.Slug)
	if err != nil {
		return 0, fmt.Errorf("failed to check existing source: %w", err)
	}

	now := time.Now().UTC()

	if existing != nil {
		_, err = r.db.Exec(`
			UPDATE sources
			SET name = ?, sender_domains = ?, sender_emails = ?, keywords = ?,
			    match_priority = ?, is_active = ?, updated_at = ?
			WHERE slug = ?
		`, s.Name, marshalList(s.SenderDomains), marshalList(s.SenderEmails), marshalList(s.Keywords),
			s.MatchPriority, s.IsActive, now, s.Slug)
		if err != nil {
			return 0, fmt.Errorf("failed to update source: %w", err)
		}
		return existing.ID, nil
	}

	result, err := r.db.Exec(`
		INSERT INTO sources (slug, name, sender_domains, sender_emails, keywords,
			match_priority, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.Slug, s.Name, marshalList(s.SenderDomains), marshalList(s.SenderEmails), marshalList(s.Keywords),
		s.MatchPriority, s.IsActive, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert source: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get source id: %w", err)
	}

	return id, nil
}

func (r *sourceRepository) GetSourceBySlug(slug string) (*Source, error) {
	row := r.db.QueryRow(`SELECT `+sourceColumns+` FROM sources WHERE slug = ?`, slug)

	source, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source by slug: %w", err)
	}

	return source, nil
}

func (r *sourceRepository) ListActiveSources() ([]Source, error) {
	rows, err := r.db.Query(`
		SELECT ` + sourceColumns + ` FROM sources
		WHERE is_active = 1
		ORDER BY match_priority DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, *source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rows: %w", err)
	}

	return sources, nil
}

func (r *sourceRepository) IncrementProcessed(id int64, transactions int) error {
	_, err := r.db.Exec(`
		UPDATE sources
		SET emails_processed = emails_processed + 1,
		    transactions_created = transactions_created + ?,
		    updated_at = ?
		WHERE id = ?
	`, transactions, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to increment source counters: %w", err)
	}

	return nil
}
