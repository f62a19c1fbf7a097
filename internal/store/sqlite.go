// Package store provides a SQLite-backed implementation of the record
// read interface, plus the mutation helpers the chat core's cache
// contract hangs off: every write invalidates the owning user's cache
// entry through the registered hook.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // register sqlite driver

	"github.com/finchat-kernel/internal/records"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS financial_records (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	amount      TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	occurred_at TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT '',
	loan_id     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_records_user_kind ON financial_records(user_id, kind);
`

// Store is a SQLite-backed record store. It satisfies records.Source.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	// onMutate is called with the owning user ID after every write so
	// the cache layer sees mutations synchronously.
	onMutate func(userID string)
}

// Open opens or creates the database at dbPath.
func Open(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("opening record db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, logger: logger.Named("store")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetInvalidationHook registers the cache invalidation callback. Must be
// set before the store handles writes.
func (s *Store) SetInvalidationHook(fn func(userID string)) {
	s.onMutate = fn
}

// LoadRecords reads one consistent snapshot of the user's records. All
// four sequences come from a single SELECT, which SQLite executes
// atomically, so a concurrent write can never split the snapshot.
func (s *Store) LoadRecords(ctx context.Context, userID string) (records.RecordSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, amount, category, occurred_at, status, loan_id
		 FROM financial_records WHERE user_id = ? ORDER BY occurred_at`, userID)
	if err != nil {
		return records.RecordSet{}, fmt.Errorf("loading records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var set records.RecordSet
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return records.RecordSet{}, err
		}
		switch r.Kind {
		case records.KindIncome:
			set.Incomes = append(set.Incomes, r)
		case records.KindExpense:
			set.Expenses = append(set.Expenses, r)
		case records.KindLoan:
			set.Loans = append(set.Loans, r)
		case records.KindLoanPayment:
			set.Payments = append(set.Payments, r)
		}
	}
	if err := rows.Err(); err != nil {
		return records.RecordSet{}, fmt.Errorf("reading records: %w", err)
	}
	return set, nil
}

// AddRecord inserts a record and fires the invalidation hook. A missing
// ID gets a fresh UUID. Adding a payment also advances the target loan
// to paid when payments cover the principal.
func (s *Store) AddRecord(ctx context.Context, r records.Record) (records.Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.OccurredAt.IsZero() {
		r.OccurredAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO financial_records (id, user_id, kind, amount, category, occurred_at, status, loan_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, string(r.Kind), r.Amount.String(), r.Category,
		r.OccurredAt.UTC().Format(time.RFC3339), string(r.Status), r.LoanID)
	if err != nil {
		return records.Record{}, fmt.Errorf("inserting record: %w", err)
	}

	if r.Kind == records.KindLoanPayment && r.LoanID != "" {
		if err := s.settleLoanIfCovered(ctx, r.UserID, r.LoanID); err != nil {
			s.logger.Warn("failed to update loan status after payment",
				zap.String("loan", r.LoanID), zap.Error(err))
		}
	}

	s.invalidate(r.UserID)
	return r, nil
}

// DeleteRecord removes a record owned by the user and fires the hook.
func (s *Store) DeleteRecord(ctx context.Context, userID, recordID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM financial_records WHERE id = ? AND user_id = ?`, recordID, userID)
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	s.invalidate(userID)
	return nil
}

// UpdateLoanStatus transitions a loan's status and fires the hook.
// Status is the only mutable field on a persisted record.
func (s *Store) UpdateLoanStatus(ctx context.Context, userID, loanID string, status records.LoanStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE financial_records SET status = ? WHERE id = ? AND user_id = ? AND kind = ?`,
		string(status), loanID, userID, string(records.KindLoan))
	if err != nil {
		return fmt.Errorf("updating loan status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	s.invalidate(userID)
	return nil
}

// settleLoanIfCovered marks a loan paid once recorded payments reach its
// principal.
func (s *Store) settleLoanIfCovered(ctx context.Context, userID, loanID string) error {
	var principal string
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM financial_records WHERE id = ? AND user_id = ? AND kind = ?`,
		loanID, userID, string(records.KindLoan)).Scan(&principal)
	if err != nil {
		return err
	}
	loanAmount, err := decimal.NewFromString(principal)
	if err != nil {
		return fmt.Errorf("bad loan amount %q: %w", principal, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT amount FROM financial_records WHERE user_id = ? AND kind = ? AND loan_id = ?`,
		userID, string(records.KindLoanPayment), loanID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	paid := decimal.Zero
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return err
		}
		d, err := decimal.NewFromString(a)
		if err != nil {
			return fmt.Errorf("bad payment amount %q: %w", a, err)
		}
		paid = paid.Add(d)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if paid.GreaterThanOrEqual(loanAmount) {
		_, err = s.db.ExecContext(ctx,
			`UPDATE financial_records SET status = ? WHERE id = ?`,
			string(records.LoanPaid), loanID)
		return err
	}
	return nil
}

func (s *Store) invalidate(userID string) {
	if s.onMutate != nil {
		s.onMutate(userID)
	}
}

func scanRecord(rows *sql.Rows) (records.Record, error) {
	var r records.Record
	var kind, amount, occurredAt, status string
	if err := rows.Scan(&r.ID, &r.UserID, &kind, &amount, &r.Category, &occurredAt, &status, &r.LoanID); err != nil {
		return records.Record{}, fmt.Errorf("scanning record: %w", err)
	}
	r.Kind = records.Kind(kind)
	r.Status = records.LoanStatus(status)

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return records.Record{}, fmt.Errorf("bad amount %q on record %s: %w", amount, r.ID, err)
	}
	r.Amount = d

	ts, err := time.Parse(time.RFC3339, occurredAt)
	if err != nil {
		return records.Record{}, fmt.Errorf("bad timestamp %q on record %s: %w", occurredAt, r.ID, err)
	}
	r.OccurredAt = ts
	return r, nil
}
