// Package reconcile bounds reprocessing cost when a previously produced
// error artifact is re-submitted: only rows whose content actually changed
// re-enter validation.
package reconcile

import (
	"github.com/expenseops/expense-validator/internal/expense"
)

// Carry recomputes every row's fingerprint and, for rows carrying prior-run
// metadata, compares it against the recorded hash. An unchanged row keeps its
// prior verdict and reasons and is excluded from re-validation and from
// prompting; a changed row is treated as new input. Cosmetic re-exports
// therefore produce no validation churn.
func Carry(rows []expense.Row) (out []expense.Row, carried int) {
	out = make([]expense.Row, len(rows))
	for i, row := range rows {
		row.Fingerprint = expense.Fingerprint(row.Fields)

		if row.PriorHash != "" && row.PriorHash == row.Fingerprint {
			row.Carried = true
			row.Verdict = expense.Verdict{Kind: expense.VerdictInvalid}
			carried++
		} else {
			row.Carried = false
		}
		out[i] = row
	}
	return out, carried
}
