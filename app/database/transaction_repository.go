package database

import (
	"fmt"
	"time"
)

type transactionRepository struct {
	db *DB
}

func NewTransactionRepository(db *DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) ExistsForRecord(parseRecordID int64) (bool, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM transactions WHERE parse_record_id = ?`, parseRecordID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check transaction existence: %w", err)
	}

	return count > 0, nil
}

func (r *transactionRepository) CreateTransaction(t *Transaction) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO transactions (parse_record_id, template_id, amount, currency, is_debit,
			date, description, counterpart, from_label, to_label, reference, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ParseRecordID, t.TemplateID, t.Amount, t.Currency, t.IsDebit,
		t.Date, t.Description, t.Counterpart, t.FromLabel, t.ToLabel, t.Reference, t.Confidence,
		time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to create transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get transaction id: %w", err)
	}

	return id, nil
}

func (r *transactionRepository) ListTransactions(limit int) ([]Transaction, error) {
	rows, err := r.db.Query(`
		SELECT id, parse_record_id, template_id, amount, currency, is_debit,
		       date, description, counterpart, from_label, to_label, reference, confidence, created_at
		FROM transactions
		ORDER BY date DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []Transaction
	for rows.Next() {
		var t Transaction
		err := rows.Scan(
			&t.ID, &t.ParseRecordID, &t.TemplateID, &t.Amount, &t.Currency, &t.IsDebit,
			&t.Date, &t.Description, &t.Counterpart, &t.FromLabel, &t.ToLabel, &t.Reference,
			&t.Confidence, &t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		transactions = append(transactions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	return transactions, nil
}

func (r *transactionRepository) GetTransactionCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM transactions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get transaction count: %w", err)
	}

	return count, nil
}
