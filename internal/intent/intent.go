// Package intent maps noisy Vietnamese chat input to a closed set of
// structured financial queries. Matching is rule-driven: a static catalog
// of trigger phrases (accented and diacritic-folded variants) is loaded
// once at startup and the classifier is a pure scan over it.
package intent

// Intent is the closed enumeration of financial questions the system
// can answer.
type Intent string

const (
	LoanOutstanding Intent = "loan_outstanding"
	LoanPaid        Intent = "loan_paid"
	LoanOverdue     Intent = "loan_overdue"
	LoanAny         Intent = "loan_any"
	IncomeMin       Intent = "income_min"
	IncomeMax       Intent = "income_max"
	ExpenseMin      Intent = "expense_min"
	ExpenseMax      Intent = "expense_max"
	LoanMin         Intent = "loan_min"
	LoanMax         Intent = "loan_max"
	TotalSummary    Intent = "total_summary"
	Unrecognized    Intent = "unrecognized"
)

// Subject names the record variant a comparator-only message binds to when
// the user gives no subject noun ("thấp nhất" alone). The binding is
// deliberately configurable; see DefaultSubject on Config.
type Subject string

const (
	SubjectIncome  Subject = "income"
	SubjectExpense Subject = "expense"
	SubjectLoan    Subject = "loan"
)

// genericMin and genericMax are internal catalog targets resolved to a
// concrete Intent through the configured default subject. They never
// escape the classifier.
const (
	genericMin Intent = "generic_min"
	genericMax Intent = "generic_max"
)

func (s Subject) minIntent() Intent {
	switch s {
	case SubjectExpense:
		return ExpenseMin
	case SubjectLoan:
		return LoanMin
	default:
		return IncomeMin
	}
}

func (s Subject) maxIntent() Intent {
	switch s {
	case SubjectExpense:
		return ExpenseMax
	case SubjectLoan:
		return LoanMax
	default:
		return IncomeMax
	}
}
