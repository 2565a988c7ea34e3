package database

import (
	"database/sql"
	"fmt"
	"time"
)

type templateRepository struct {
	db *DB
}

func NewTemplateRepository(db *DB) TemplateRepository {
	return &templateRepository{db: db}
}

const templateColumns = `id, source_id, name, kind,
	COALESCE(subject_pattern, ''), COALESCE(sender_pattern, ''), body_contains, body_excludes,
	amount_regex, COALESCE(date_regex, ''), COALESCE(description_regex, ''),
	COALESCE(counterpart_regex, ''), COALESCE(reference_regex, ''),
	priority, is_active, uses, successes, failures, avg_confidence, generated_by,
	last_used_at, last_success_at, created_at, updated_at`

func scanTemplate(row interface{ Scan(...any) error }) (*Template, error) {
	var t Template
	var contains, excludes string
	err := row.Scan(
		&t.ID, &t.SourceID, &t.Name, &t.Kind,
		&t.SubjectPattern, &t.SenderPattern, &contains, &excludes,
		&t.AmountRegex, &t.DateRegex, &t.DescriptionRegex,
		&t.CounterpartRegex, &t.ReferenceRegex,
		&t.Priority, &t.IsActive, &t.Uses, &t.Successes, &t.Failures, &t.AvgConfidence, &t.GeneratedBy,
		&t.LastUsedAt, &t.LastSuccessAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.BodyContains = unmarshalList(contains)
	t.BodyExcludes = unmarshalList(excludes)
	return &t, nil
}

func (r *templateRepository) GetTemplate(id int64) (*Template, error) {
	row := r.db.QueryRow(`SELECT `+templateColumns+` FROM templates WHERE id = ?`, id)

	template, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return template, nil
}

func (r *templateRepository) GetActiveTemplates(sourceID int64) ([]Template, error) {
	return r.queryTemplates(`
		SELECT `+templateColumns+` FROM templates
		WHERE source_id = ? AND is_active = 1
		ORDER BY priority DESC, id ASC
	`, sourceID)
}

func (r *templateRepository) ListTemplates(sourceID int64) ([]Template, error) {
	return r.queryTemplates(`
		SELECT `+templateColumns+` FROM templates
		WHERE source_id = ?
		ORDER BY priority DESC, id ASC
	`, sourceID)
}

func (r *templateRepository) queryTemplates(query string, args ...any) ([]Template, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template row: %w", err)
		}
		templates = append(templates, *template)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating template rows: %w", err)
	}

	return templates, nil
}

func (r *templateRepository) CreateTemplate(t *Template) (int64, error) {
	now := time.Now().UTC()

	result, err := r.db.Exec(`
		INSERT INTO templates (source_id, name, kind, subject_pattern, sender_pattern,
			body_contains, body_excludes, amount_regex, date_regex, description_regex,
			counterpart_regex, reference_regex, priority, is_active, generated_by,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.SourceID, t.Name, t.Kind, t.SubjectPattern, t.SenderPattern,
		marshalList(t.BodyContains), marshalList(t.BodyExcludes),
		t.AmountRegex, t.DateRegex, t.DescriptionRegex,
		t.CounterpartRegex, t.ReferenceRegex, t.Priority, t.IsActive, t.GeneratedBy,
		now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to create template: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get template id: %w", err)
	}

	return id, nil
}

// RecordAttempt keeps the running performance stats current. The rolling
// average only folds in successful extractions, matching how the stats are
// read back during selection tie-breaks.
func (r *templateRepository) RecordAttempt(id int64, success bool, confidence float64) error {
	now := time.Now().UTC()

	if success {
		_, err := r.db.Exec(`
			UPDATE templates
			SET uses = uses + 1,
			    successes = successes + 1,
			    avg_confidence = ((avg_confidence * successes) + ?) / (successes + 1),
			    last_used_at = ?,
			    last_success_at = ?,
			    updated_at = ?
			WHERE id = ?
		`, confidence, now, now, now, id)
		if err != nil {
			return fmt.Errorf("failed to record template success: %w", err)
		}
		return nil
	}

	_, err := r.db.Exec(`
		UPDATE templates
		SET uses = uses + 1, failures = failures + 1, last_used_at = ?, updated_at = ?
		WHERE id = ?
	`, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to record template failure: %w", err)
	}

	return nil
}

func (r *templateRepository) UpdatePriority(id int64, priority int) error {
	_, err := r.db.Exec(`
		UPDATE templates SET priority = ?, updated_at = ? WHERE id = ?
	`, priority, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update template priority: %w", err)
	}

	return nil
}

func (r *templateRepository) SetTemplateActive(id int64, active bool) error {
	_, err := r.db.Exec(`
		UPDATE templates SET is_active = ?, updated_at = ? WHERE id = ?
	`, active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set template active: %w", err)
	}

	return nil
}
