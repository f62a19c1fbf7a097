// Package query evaluates a classified intent against a prepared dataset.
// Every function here is pure: empty data is a representable outcome
// (ResultEmpty), never an error.
package query

import (
	"github.com/shopspring/decimal"

	"github.com/finchat-kernel/internal/intent"
	"github.com/finchat-kernel/internal/records"
)

// ResultKind tags the Result union.
type ResultKind int

const (
	// ResultEmpty means the relevant record sequence had no rows.
	ResultEmpty ResultKind = iota
	// ResultAmount carries a single aggregate amount (and the number of
	// records it was computed over).
	ResultAmount
	// ResultRecord carries one selected record and its amount.
	ResultRecord
	// ResultSummary carries the cross-variant breakdown.
	ResultSummary
)

// Result is the structured answer to one intent. It carries everything
// the formatter needs so nothing is re-derived from the dataset.
type Result struct {
	Kind   ResultKind
	Amount decimal.Decimal
	Count  int
	Record records.Record

	// Summary fields, set when Kind == ResultSummary.
	IncomeTotal  decimal.Decimal
	ExpenseTotal decimal.Decimal
	Net          decimal.Decimal
	Outstanding  decimal.Decimal
}

// Execute evaluates the intent against the dataset. Unrecognized input
// never reaches here; the orchestration layer answers it before querying.
func Execute(in intent.Intent, ds *records.Dataset) Result {
	switch in {
	case intent.IncomeMin:
		return selectByAmount(ds.Incomes, false)
	case intent.IncomeMax:
		return selectByAmount(ds.Incomes, true)
	case intent.ExpenseMin:
		return selectByAmount(ds.Expenses, false)
	case intent.ExpenseMax:
		return selectByAmount(ds.Expenses, true)
	case intent.LoanMin:
		return selectByAmount(ds.Loans, false)
	case intent.LoanMax:
		return selectByAmount(ds.Loans, true)
	case intent.LoanOutstanding:
		return sumRemaining(ds, isOutstanding)
	case intent.LoanOverdue:
		return sumRemaining(ds, func(l records.Record) bool { return l.Status == records.LoanOverdue })
	case intent.LoanPaid:
		return sumPaid(ds)
	case intent.LoanAny:
		return sumPrincipal(ds.Loans)
	case intent.TotalSummary:
		return summarize(ds)
	default:
		return Result{Kind: ResultEmpty}
	}
}

// selectByAmount picks the record with the smallest (or largest) amount.
// Sequences are sorted by OccurredAt ascending and the comparison is
// strict, so amount ties deterministically resolve to the earliest record.
func selectByAmount(seq []records.Record, max bool) Result {
	if len(seq) == 0 {
		return Result{Kind: ResultEmpty}
	}
	best := seq[0]
	for _, r := range seq[1:] {
		if max && r.Amount.GreaterThan(best.Amount) {
			best = r
		}
		if !max && r.Amount.LessThan(best.Amount) {
			best = r
		}
	}
	return Result{Kind: ResultRecord, Record: best, Amount: best.Amount}
}

// isOutstanding mirrors the aggregate in records.BuildDataset: anything
// not marked paid still owes money, including loans persisted before a
// status was recorded. The two views must agree or "khoản vay còn lại"
// and "tổng quan" contradict each other.
func isOutstanding(l records.Record) bool {
	return l.Status != records.LoanPaid
}

// sumRemaining totals principal minus recorded payments over the loans
// the filter selects.
func sumRemaining(ds *records.Dataset, include func(records.Record) bool) Result {
	total := decimal.Zero
	count := 0
	for _, l := range ds.Loans {
		if !include(l) {
			continue
		}
		total = total.Add(ds.RemainingOn(l))
		count++
	}
	if count == 0 {
		return Result{Kind: ResultEmpty}
	}
	return Result{Kind: ResultAmount, Amount: total, Count: count}
}

// sumPaid totals what has actually been paid: full principal of loans
// marked paid, plus recorded payments against the rest.
func sumPaid(ds *records.Dataset) Result {
	if len(ds.Loans) == 0 {
		return Result{Kind: ResultEmpty}
	}
	total := decimal.Zero
	count := 0
	for _, l := range ds.Loans {
		if l.Status == records.LoanPaid {
			total = total.Add(l.Amount)
			count++
			continue
		}
		paid := ds.PaidOn(l)
		if paid.IsPositive() {
			total = total.Add(paid)
			count++
		}
	}
	if count == 0 {
		return Result{Kind: ResultEmpty}
	}
	return Result{Kind: ResultAmount, Amount: total, Count: count}
}

func sumPrincipal(loans []records.Record) Result {
	if len(loans) == 0 {
		return Result{Kind: ResultEmpty}
	}
	total := decimal.Zero
	for _, l := range loans {
		total = total.Add(l.Amount)
	}
	return Result{Kind: ResultAmount, Amount: total, Count: len(loans)}
}

func summarize(ds *records.Dataset) Result {
	if len(ds.Incomes) == 0 && len(ds.Expenses) == 0 && len(ds.Loans) == 0 {
		return Result{Kind: ResultEmpty}
	}
	return Result{
		Kind:         ResultSummary,
		IncomeTotal:  ds.IncomeTotal,
		ExpenseTotal: ds.ExpenseTotal,
		Net:          ds.IncomeTotal.Sub(ds.ExpenseTotal),
		Outstanding:  ds.OutstandingLoan,
	}
}

