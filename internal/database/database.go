package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"merchant-actions-api/internal/models"
)

// ErrNotFound is returned when a transaction id has no stored record.
var ErrNotFound = errors.New("database: transaction not found")

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables if they don't exist. Monetary
// amounts are stored as decimal strings; the child operation list and PCC
// record keep their upstream JSON shape.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			merchant_id TEXT NOT NULL,
			date TEXT NOT NULL,
			provider TEXT NOT NULL,
			trx_type TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL DEFAULT '',
			total_refunded_amount TEXT NOT NULL DEFAULT '0',
			is_voided INTEGER NOT NULL DEFAULT 0,
			pcc TEXT,
			operations TEXT,
			last_transaction_type TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_txn_merchant_id ON transactions(merchant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_txn_date ON transactions(date)`,
		`CREATE INDEX IF NOT EXISTS idx_txn_merchant_date ON transactions(merchant_id, date)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// InsertTransactions inserts multiple records in a single database
// transaction. Existing ids are replaced, since the upstream re-sends
// records as their status and history evolve.
func (db *DB) InsertTransactions(ctx context.Context, transactions []models.Transaction) (int, error) {
	if len(transactions) == 0 {
		return 0, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO transactions (
		id, merchant_id, date, provider, trx_type, type, status, amount,
		currency, total_refunded_amount, is_voided, pcc, operations,
		last_transaction_type, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, txn := range transactions {
		pccJSON, err := marshalNullable(txn.PCC)
		if err != nil {
			return 0, fmt.Errorf("failed to encode pcc for %s: %w", txn.ID, err)
		}
		opsJSON, err := marshalNullable(txn.Operations)
		if err != nil {
			return 0, fmt.Errorf("failed to encode operations for %s: %w", txn.ID, err)
		}

		_, err = stmt.ExecContext(ctx,
			txn.ID,
			txn.MerchantID,
			txn.Date,
			txn.Provider,
			txn.TrxType,
			txn.Type,
			txn.Status,
			txn.Amount.String(),
			txn.Currency,
			txn.TotalRefundedAmount.String(),
			txn.IsVoided,
			pccJSON,
			opsJSON,
			txn.LastTransactionType,
			time.Now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return inserted, nil
}

// GetTransaction returns a single transaction by id.
func (db *DB) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	row := db.conn.QueryRowContext(ctx, selectColumns+` FROM transactions WHERE id = ?`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", id, err)
	}
	return txn, nil
}

// ListTransactionsByMerchant returns a merchant's transactions, newest
// first, capped at limit.
func (db *DB) ListTransactionsByMerchant(ctx context.Context, merchantID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.conn.QueryContext(ctx,
		selectColumns+` FROM transactions WHERE merchant_id = ? ORDER BY date DESC LIMIT ?`,
		merchantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var result []models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		result = append(result, *txn)
	}
	return result, rows.Err()
}

const selectColumns = `SELECT id, merchant_id, date, provider, trx_type, type,
	status, amount, currency, total_refunded_amount, is_voided, pcc,
	operations, last_transaction_type`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var txn models.Transaction
	var amount, refunded string
	var pccJSON, opsJSON sql.NullString

	err := row.Scan(
		&txn.ID,
		&txn.MerchantID,
		&txn.Date,
		&txn.Provider,
		&txn.TrxType,
		&txn.Type,
		&txn.Status,
		&amount,
		&txn.Currency,
		&refunded,
		&txn.IsVoided,
		&pccJSON,
		&opsJSON,
		&txn.LastTransactionType,
	)
	if err != nil {
		return nil, err
	}

	if err := txn.Amount.UnmarshalText([]byte(amount)); err != nil {
		return nil, fmt.Errorf("bad amount %q: %w", amount, err)
	}
	if err := txn.TotalRefundedAmount.UnmarshalText([]byte(refunded)); err != nil {
		return nil, fmt.Errorf("bad refunded amount %q: %w", refunded, err)
	}
	if pccJSON.Valid && pccJSON.String != "" {
		if err := json.Unmarshal([]byte(pccJSON.String), &txn.PCC); err != nil {
			return nil, fmt.Errorf("bad pcc payload: %w", err)
		}
	}
	if opsJSON.Valid && opsJSON.String != "" {
		if err := json.Unmarshal([]byte(opsJSON.String), &txn.Operations); err != nil {
			return nil, fmt.Errorf("bad operations payload: %w", err)
		}
	}
	return &txn, nil
}

// marshalNullable encodes v to JSON, mapping nil pointers and empty slices
// to SQL NULL.
func marshalNullable(v interface{}) (sql.NullString, error) {
	switch val := v.(type) {
	case *models.PCC:
		if val == nil {
			return sql.NullString{}, nil
		}
	case []models.Operation:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
