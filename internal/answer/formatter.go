// Package answer renders structured query results into Vietnamese reply
// text. It is stateless and does no I/O: the same (intent, result) pair
// always produces the same string.
package answer

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/finchat-kernel/internal/intent"
	"github.com/finchat-kernel/internal/query"
)

// Unrecognized is the clarification reply for input no rule matched.
// It is a normal answer, not an error.
const Unrecognized = "Xin lỗi, tôi chưa hiểu câu hỏi. Bạn có thể hỏi về thu nhập, chi tiêu hoặc khoản vay, ví dụ: \"khoản vay còn lại\" hay \"thu nhập cao nhất\"."

// Formatter renders results with Vietnamese digit grouping (1.300.000đ).
type Formatter struct {
	printer *message.Printer
}

// NewFormatter creates a formatter for the Vietnamese locale.
func NewFormatter() *Formatter {
	return &Formatter{printer: message.NewPrinter(language.Vietnamese)}
}

// Format renders the result for the given intent.
func (f *Formatter) Format(in intent.Intent, res query.Result) string {
	if res.Kind == query.ResultEmpty {
		return emptyPhrase(in)
	}

	switch in {
	case intent.LoanOutstanding:
		return fmt.Sprintf("Tổng khoản vay còn lại của bạn là %s (%d khoản).", f.vnd(res.Amount), res.Count)
	case intent.LoanPaid:
		return fmt.Sprintf("Bạn đã trả tổng cộng %s cho các khoản vay.", f.vnd(res.Amount))
	case intent.LoanOverdue:
		return fmt.Sprintf("Tổng khoản vay quá hạn là %s (%d khoản).", f.vnd(res.Amount), res.Count)
	case intent.LoanAny:
		return fmt.Sprintf("Bạn có %d khoản vay với tổng tiền gốc %s.", res.Count, f.vnd(res.Amount))
	case intent.IncomeMin:
		return f.recordLine("Khoản thu nhập thấp nhất", res)
	case intent.IncomeMax:
		return f.recordLine("Khoản thu nhập cao nhất", res)
	case intent.ExpenseMin:
		return f.recordLine("Khoản chi tiêu thấp nhất", res)
	case intent.ExpenseMax:
		return f.recordLine("Khoản chi tiêu cao nhất", res)
	case intent.LoanMin:
		return f.recordLine("Khoản vay nhỏ nhất", res)
	case intent.LoanMax:
		return f.recordLine("Khoản vay lớn nhất", res)
	case intent.TotalSummary:
		return fmt.Sprintf(
			"Tổng quan tài chính: thu nhập %s, chi tiêu %s, cân đối %s, khoản vay còn lại %s.",
			f.vnd(res.IncomeTotal), f.vnd(res.ExpenseTotal), f.vnd(res.Net), f.vnd(res.Outstanding))
	default:
		return Unrecognized
	}
}

func (f *Formatter) recordLine(label string, res query.Result) string {
	line := fmt.Sprintf("%s của bạn là %s", label, f.vnd(res.Amount))
	if res.Record.Category != "" {
		line += fmt.Sprintf(" (%s", res.Record.Category)
		if !res.Record.OccurredAt.IsZero() {
			line += ", ngày " + res.Record.OccurredAt.Format("02/01/2006")
		}
		line += ")"
	} else if !res.Record.OccurredAt.IsZero() {
		line += fmt.Sprintf(" (ngày %s)", res.Record.OccurredAt.Format("02/01/2006"))
	}
	return line + "."
}

// vnd renders an amount with Vietnamese thousands separators and the
// đ suffix: 1.300.000đ. VND carries no minor unit, so amounts round to
// whole đồng.
func (f *Formatter) vnd(d decimal.Decimal) string {
	return f.printer.Sprintf("%dđ", d.Round(0).IntPart())
}

func emptyPhrase(in intent.Intent) string {
	switch in {
	case intent.LoanOutstanding, intent.LoanPaid, intent.LoanOverdue,
		intent.LoanAny, intent.LoanMin, intent.LoanMax:
		return "Không tìm thấy khoản vay nào trong dữ liệu của bạn."
	case intent.IncomeMin, intent.IncomeMax:
		return "Không tìm thấy khoản thu nhập nào trong dữ liệu của bạn."
	case intent.ExpenseMin, intent.ExpenseMax:
		return "Không tìm thấy khoản chi tiêu nào trong dữ liệu của bạn."
	case intent.TotalSummary:
		return "Chưa có dữ liệu tài chính nào để tổng hợp."
	default:
		return Unrecognized
	}
}
