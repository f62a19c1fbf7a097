// Package records defines the financial record model and the per-user
// materialized dataset the query layer runs against.
package records

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Kind discriminates the record variants.
type Kind string

const (
	KindIncome      Kind = "income"
	KindExpense     Kind = "expense"
	KindLoan        Kind = "loan"
	KindLoanPayment Kind = "loan_payment"
)

// LoanStatus is the lifecycle state of a loan record.
type LoanStatus string

const (
	LoanActive  LoanStatus = "active"
	LoanPaid    LoanStatus = "paid"
	LoanOverdue LoanStatus = "overdue"
)

// Record is a single financial entry. Amounts are fixed-point decimals;
// binary floats drift on currency arithmetic and are never used.
type Record struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Kind       Kind            `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	Category   string          `json:"category"`
	OccurredAt time.Time       `json:"occurred_at"`

	// Loan-only.
	Status LoanStatus `json:"status,omitempty"`
	// Payment-only: the loan this payment applies to.
	LoanID string `json:"loan_id,omitempty"`
}

// RecordSet is one consistent snapshot of a user's records, as returned by
// the persistence collaborator.
type RecordSet struct {
	Incomes  []Record
	Expenses []Record
	Loans    []Record
	Payments []Record
}

// Source is the read interface onto the persistent record store. It must be
// safe for concurrent calls across users and return a consistent snapshot
// for one user.
type Source interface {
	LoadRecords(ctx context.Context, userID string) (RecordSet, error)
}

// Dataset is the per-user materialized view: sorted record sequences plus
// precomputed aggregates. Built once per cache miss, read-only afterwards.
type Dataset struct {
	UserID   string
	Incomes  []Record
	Expenses []Record
	Loans    []Record
	Payments []Record

	IncomeTotal     decimal.Decimal
	ExpenseTotal    decimal.Decimal
	OutstandingLoan decimal.Decimal

	// paidByLoan maps loan ID to the sum of payments recorded against it.
	paidByLoan map[string]decimal.Decimal
}

// BuildDataset materializes a snapshot into a query-ready dataset.
// Sequences are sorted by OccurredAt ascending so selection tie-breaks
// (earliest wins) fall out of scan order.
func BuildDataset(userID string, set RecordSet) *Dataset {
	ds := &Dataset{
		UserID:     userID,
		Incomes:    sortedByTime(set.Incomes),
		Expenses:   sortedByTime(set.Expenses),
		Loans:      sortedByTime(set.Loans),
		Payments:   sortedByTime(set.Payments),
		paidByLoan: make(map[string]decimal.Decimal),
	}

	for _, r := range ds.Incomes {
		ds.IncomeTotal = ds.IncomeTotal.Add(r.Amount)
	}
	for _, r := range ds.Expenses {
		ds.ExpenseTotal = ds.ExpenseTotal.Add(r.Amount)
	}
	for _, p := range ds.Payments {
		ds.paidByLoan[p.LoanID] = ds.paidByLoan[p.LoanID].Add(p.Amount)
	}
	for _, l := range ds.Loans {
		if l.Status == LoanPaid {
			continue
		}
		ds.OutstandingLoan = ds.OutstandingLoan.Add(ds.RemainingOn(l))
	}

	return ds
}

// PaidOn returns the total payments recorded against the given loan.
func (ds *Dataset) PaidOn(loan Record) decimal.Decimal {
	return ds.paidByLoan[loan.ID]
}

// RemainingOn returns the loan principal minus recorded payments, floored
// at zero so an overpayment never produces a negative balance.
func (ds *Dataset) RemainingOn(loan Record) decimal.Decimal {
	rem := loan.Amount.Sub(ds.paidByLoan[loan.ID])
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

func sortedByTime(in []Record) []Record {
	out := make([]Record, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out
}
