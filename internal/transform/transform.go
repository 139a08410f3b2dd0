// Package transform computes the derived columns for rows that passed
// validation. It is pure and re-runnable and never mutates the raw fields.
package transform

import (
	"fmt"
	"math"
	"strconv"

	"github.com/expenseops/expense-validator/internal/expense"
	"github.com/expenseops/expense-validator/internal/rules"
)

// Apply fills the computed columns of every valid row: the normalized USD
// amount, the cost-center lookup and the approval flag. A failed cost-center
// lookup flips the row back to invalid; with global prompts resolved this
// should not occur, but the stage does not rely on it.
func Apply(rows []expense.Row, params expense.Params) []expense.Row {
	out := make([]expense.Row, len(rows))
	for i, row := range rows {
		out[i] = row
		if row.Verdict.Kind != expense.VerdictValid {
			continue
		}

		amountUSD, err := NormalizeAmount(row.Fields, params.Rounding)
		if err != nil {
			out[i].Verdict = expense.Verdict{
				Kind:    expense.VerdictInvalid,
				Reasons: []expense.Reason{{Code: expense.ReasonParameter, Detail: expense.ParamRoundingMode}},
			}
			continue
		}

		dept := row.Fields[expense.FieldDept]
		costCenter, ok := params.Resolve(expense.CostCenterKey(dept))
		if !ok {
			out[i].Verdict = expense.Verdict{
				Kind:    expense.VerdictInvalid,
				Reasons: []expense.Reason{{Code: expense.ReasonUnmapped, Field: expense.FieldDept, Detail: dept}},
			}
			continue
		}

		approval := "NO"
		if rules.ApprovalRequired(row.Fields) {
			approval = "YES"
		}

		out[i].Computed = map[string]string{
			expense.ColumnAmountUSD:  amountUSD,
			expense.ColumnCostCenter: costCenter,
			expense.ColumnApproval:   approval,
		}
	}
	return out
}

// NormalizeAmount converts the row amount to USD using the resolved exchange
// rate and truncates it according to the rounding mode: fixed two decimal
// places for cents, whole units otherwise. USD rows pass through at rate 1.
func NormalizeAmount(fields map[string]string, mode expense.RoundingMode) (string, error) {
	amount, err := strconv.ParseFloat(fields[expense.FieldAmount], 64)
	if err != nil {
		return "", fmt.Errorf("amount is not numeric: %w", err)
	}

	rate := 1.0
	if fields[expense.FieldCurrency] != "USD" {
		rate, err = strconv.ParseFloat(fields[expense.FieldFxRate], 64)
		if err != nil {
			return "", fmt.Errorf("fx_rate is not numeric: %w", err)
		}
	}

	usd := amount * rate
	switch mode {
	case expense.RoundingCents:
		return fmt.Sprintf("%.2f", math.Trunc(usd*100)/100), nil
	case expense.RoundingWhole:
		return fmt.Sprintf("%.0f", math.Trunc(usd)), nil
	default:
		return "", fmt.Errorf("unknown rounding mode: %q", mode)
	}
}
