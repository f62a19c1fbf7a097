package records

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func amt(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestBuildDatasetAggregates(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	set := RecordSet{
		Incomes: []Record{
			{ID: "i2", Kind: KindIncome, Amount: amt(7_000_000), OccurredAt: base.AddDate(0, 1, 0)},
			{ID: "i1", Kind: KindIncome, Amount: amt(5_000_000), OccurredAt: base},
		},
		Expenses: []Record{
			{ID: "e1", Kind: KindExpense, Amount: amt(2_000_000), OccurredAt: base},
		},
		Loans: []Record{
			{ID: "l1", Kind: KindLoan, Amount: amt(1_000_000), Status: LoanActive, OccurredAt: base},
			{ID: "l2", Kind: KindLoan, Amount: amt(500_000), Status: LoanActive, OccurredAt: base.AddDate(0, 0, 3)},
		},
		Payments: []Record{
			{ID: "p1", Kind: KindLoanPayment, Amount: amt(200_000), LoanID: "l1", OccurredAt: base.AddDate(0, 0, 7)},
		},
	}

	ds := BuildDataset("u1", set)

	assert.True(t, ds.IncomeTotal.Equal(amt(12_000_000)))
	assert.True(t, ds.ExpenseTotal.Equal(amt(2_000_000)))
	assert.True(t, ds.OutstandingLoan.Equal(amt(1_300_000)))

	// Sequences come back sorted by OccurredAt ascending.
	assert.Equal(t, "i1", ds.Incomes[0].ID)
	assert.Equal(t, "i2", ds.Incomes[1].ID)
}

func TestBuildDatasetExcludesPaidLoans(t *testing.T) {
	set := RecordSet{
		Loans: []Record{
			{ID: "l1", Kind: KindLoan, Amount: amt(900_000), Status: LoanPaid},
			{ID: "l2", Kind: KindLoan, Amount: amt(400_000), Status: LoanOverdue},
		},
	}
	ds := BuildDataset("u1", set)
	assert.True(t, ds.OutstandingLoan.Equal(amt(400_000)))
}

func TestRemainingOnFloorsAtZero(t *testing.T) {
	set := RecordSet{
		Loans: []Record{
			{ID: "l1", Kind: KindLoan, Amount: amt(100_000), Status: LoanActive},
		},
		Payments: []Record{
			{ID: "p1", Kind: KindLoanPayment, Amount: amt(150_000), LoanID: "l1"},
		},
	}
	ds := BuildDataset("u1", set)
	assert.True(t, ds.RemainingOn(ds.Loans[0]).IsZero())
	assert.True(t, ds.OutstandingLoan.IsZero())
}

func TestBuildDatasetEmpty(t *testing.T) {
	ds := BuildDataset("u1", RecordSet{})
	assert.Empty(t, ds.Incomes)
	assert.True(t, ds.IncomeTotal.IsZero())
	assert.True(t, ds.OutstandingLoan.IsZero())
}
