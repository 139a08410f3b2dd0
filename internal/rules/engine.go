// Package rules implements the deterministic validation rules applied to a
// batch of expense rows. Evaluation is side-effect free: the same row and
// parameter state always produces the same verdict set, which is what lets
// the prompt manager re-derive its prompts instead of storing them as
// independent truth.
package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/thoas/go-funk"

	"github.com/expenseops/expense-validator/internal/expense"
)

const (
	DateLayout = "2006-01-02"

	amountMax = 1_000_000
	fxRateMin = 0.1
	fxRateMax = 500

	approvalDept      = "FIN"
	approvalThreshold = 50_000
)

var (
	employeeIDPattern = regexp.MustCompile(`^[A-Z]{2}\d{3}$`)

	currencies = []string{"USD", "EUR", "GBP", "CHF", "JPY", "CAD", "AUD", "SEK", "NOK", "DKK", "PLN", "INR"}

	requiredFields = []string{
		expense.FieldEmployeeID,
		expense.FieldDept,
		expense.FieldAmount,
		expense.FieldCurrency,
		expense.FieldSpendDate,
		expense.FieldVendor,
	}
)

// Result is the outcome of one evaluation pass over a batch.
type Result struct {
	// Verdicts is index-aligned with the evaluated rows.
	Verdicts []expense.Verdict
	// MissingParams lists the parameter keys referenced by at least one row
	// but neither resolved nor skipped, sorted and de-duplicated.
	MissingParams []string
}

// Evaluate runs every per-row and cross-row rule against the batch. Rows
// carried forward by the reconciler and rows whose prompt was skipped keep
// their existing verdict untouched.
func Evaluate(rows []expense.Row, params expense.Params) Result {
	verdicts := make([]expense.Verdict, len(rows))
	missing := map[string]bool{}

	dupes := duplicateKeys(rows)

	for i, row := range rows {
		if row.Carried || row.Skipped {
			verdicts[i] = row.Verdict
			continue
		}
		verdicts[i] = evaluateRow(row.Fields, params, dupes, missing)
	}

	keys := make([]string, 0, len(missing))
	for k := range missing {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return Result{Verdicts: verdicts, MissingParams: keys}
}

// ApprovalRequired reports the elevated-approval flag: the row belongs to the
// finance department and its amount exceeds the approval threshold. The flag
// never invalidates the row; the transform stage carries it into the output.
func ApprovalRequired(fields map[string]string) bool {
	if fields[expense.FieldDept] != approvalDept {
		return false
	}
	amount, err := strconv.ParseFloat(fields[expense.FieldAmount], 64)
	return err == nil && amount > approvalThreshold
}

func evaluateRow(fields map[string]string, params expense.Params, dupes map[string]bool, missing map[string]bool) expense.Verdict {
	var reasons []expense.Reason
	pending := false

	for _, f := range requiredFields {
		if fields[f] == "" {
			reasons = append(reasons, expense.Reason{Code: expense.ReasonMissing, Field: f})
		}
	}

	if v := fields[expense.FieldEmployeeID]; v != "" && !employeeIDPattern.MatchString(v) {
		reasons = append(reasons, expense.Reason{Code: expense.ReasonFormat, Field: expense.FieldEmployeeID})
	}

	_, amountOK := parseAmount(fields[expense.FieldAmount], &reasons)

	currency := fields[expense.FieldCurrency]
	if currency != "" && !funk.ContainsString(currencies, currency) {
		reasons = append(reasons, expense.Reason{Code: expense.ReasonEnum, Field: expense.FieldCurrency})
	}

	// fx_rate is required only for non-USD rows
	if currency != "" && currency != "USD" {
		checkFxRate(fields[expense.FieldFxRate], &reasons)
	}

	checkSpendDate(fields[expense.FieldSpendDate], params, missing, &reasons, &pending)

	if amountOK {
		if _, ok := params.Resolve(expense.ParamRoundingMode); !ok {
			reference(expense.ParamRoundingMode, params, missing, &reasons, &pending)
		}
	}

	if dept := fields[expense.FieldDept]; dept != "" {
		key := expense.CostCenterKey(dept)
		if _, ok := params.Resolve(key); !ok {
			reference(key, params, missing, &reasons, &pending)
		}
	}

	if dupes[compositeKey(fields)] {
		reasons = append(reasons, expense.Reason{
			Code:   expense.ReasonDuplicate,
			Detail: expense.FieldEmployeeID + "+" + expense.FieldSpendDate,
		})
	}

	switch {
	case len(reasons) > 0:
		return expense.Verdict{Kind: expense.VerdictInvalid, Reasons: reasons}
	case pending:
		return expense.Verdict{Kind: expense.VerdictPending}
	default:
		return expense.Verdict{Kind: expense.VerdictValid}
	}
}

func parseAmount(raw string, reasons *[]expense.Reason) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*reasons = append(*reasons, expense.Reason{Code: expense.ReasonFormat, Field: expense.FieldAmount})
		return 0, false
	}
	if amount <= 0 || amount > amountMax {
		*reasons = append(*reasons, expense.Reason{Code: expense.ReasonRange, Field: expense.FieldAmount})
		return 0, false
	}
	return amount, true
}

func checkFxRate(raw string, reasons *[]expense.Reason) {
	if raw == "" {
		*reasons = append(*reasons, expense.Reason{Code: expense.ReasonMissing, Field: expense.FieldFxRate})
		return
	}
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*reasons = append(*reasons, expense.Reason{Code: expense.ReasonFormat, Field: expense.FieldFxRate})
		return
	}
	if rate < fxRateMin || rate > fxRateMax {
		*reasons = append(*reasons, expense.Reason{Code: expense.ReasonRange, Field: expense.FieldFxRate})
	}
}

func checkSpendDate(raw string, params expense.Params, missing map[string]bool, reasons *[]expense.Reason, pending *bool) {
	if raw == "" {
		return
	}
	spendDate, err := time.Parse(DateLayout, raw)
	if err != nil {
		*reasons = append(*reasons, expense.Reason{Code: expense.ReasonFormat, Field: expense.FieldSpendDate})
		return
	}

	ref, ok := params.Resolve(expense.ParamReferenceDate)
	if !ok {
		reference(expense.ParamReferenceDate, params, missing, reasons, pending)
		return
	}
	refDate, err := time.Parse(DateLayout, ref)
	if err != nil {
		// unusable reference date behaves like a skipped one
		*reasons = append(*reasons, expense.Reason{
			Code:   expense.ReasonParameter,
			Detail: expense.ParamReferenceDate,
		})
		return
	}
	if spendDate.After(refDate) {
		*reasons = append(*reasons, expense.Reason{Code: expense.ReasonFuture, Field: expense.FieldSpendDate})
	}
}

// reference records a parameter dependency that could not be resolved. A
// skipped key degrades the row to invalid; an open one leaves it pending and
// surfaces the key as a global gap.
func reference(key string, params expense.Params, missing map[string]bool, reasons *[]expense.Reason, pending *bool) {
	if params.IsSkipped(key) {
		*reasons = append(*reasons, expense.Reason{Code: expense.ReasonParameter, Detail: key})
		return
	}
	missing[key] = true
	*pending = true
}

// duplicateKeys returns every (employee_id, spend_date) composite key shared
// by more than one row. Every row in the batch counts toward a collision,
// carried and skipped ones included; only the verdicts of re-validated rows
// are affected by the result.
func duplicateKeys(rows []expense.Row) map[string]bool {
	seen := map[string]int{}
	for _, row := range rows {
		if key := compositeKey(row.Fields); key != "" {
			seen[key]++
		}
	}
	dupes := map[string]bool{}
	for key, n := range seen {
		if n > 1 {
			dupes[key] = true
		}
	}
	return dupes
}

func compositeKey(fields map[string]string) string {
	id, date := fields[expense.FieldEmployeeID], fields[expense.FieldSpendDate]
	if id == "" || date == "" {
		return ""
	}
	return fmt.Sprintf("%s|%s", id, date)
}
