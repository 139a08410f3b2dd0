// Package prompts turns unresolved parameter gaps and correctable invalid
// rows into addressable human-in-the-loop prompts, and merges submitted
// answers back into row and parameter state.
//
// Prompts are always derived from the rule engine's output; they are never
// stored as independent truth that could drift from the data they describe.
package prompts

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/expenseops/expense-validator/internal/expense"
)

type Kind string

const (
	KindGlobal Kind = "global"
	KindRow    Kind = "row"
)

// ID is a tagged prompt identifier: a kind plus structured key fields. It is
// serialized to a string ("cost_center:OPS", "row:14:fx_rate") only at the
// external boundary.
type ID struct {
	Kind  Kind   `json:"kind"`
	Key   string `json:"key,omitempty"`   // global parameter key
	Row   int    `json:"row,omitempty"`   // row position within the batch
	Field string `json:"field,omitempty"` // correctable field on that row
}

func (id ID) String() string {
	if id.Kind == KindRow {
		return fmt.Sprintf("row:%d:%s", id.Row, id.Field)
	}
	return id.Key
}

// ParseID parses the external string form of a prompt identifier.
func ParseID(s string) (ID, error) {
	if rest, ok := strings.CutPrefix(s, "row:"); ok {
		pos, field, ok := strings.Cut(rest, ":")
		if !ok {
			return ID{}, fmt.Errorf("malformed row prompt id: %q", s)
		}
		row, err := strconv.Atoi(pos)
		if err != nil || row < 0 || field == "" {
			return ID{}, fmt.Errorf("malformed row prompt id: %q", s)
		}
		return ID{Kind: KindRow, Row: row, Field: field}, nil
	}
	if s == "" {
		return ID{}, fmt.Errorf("empty prompt id")
	}
	return ID{Kind: KindGlobal, Key: s}, nil
}

// ValueType is the expected type of a prompt's answer value.
type ValueType string

const (
	TypeString ValueType = "string"
	TypeNumber ValueType = "number"
	TypeDate   ValueType = "date"
	TypeEnum   ValueType = "enum"
)

type Prompt struct {
	ID      ID        `json:"id"`
	Type    ValueType `json:"type"`
	Message string    `json:"message"`
}

// Answer is a user-submitted resolution for exactly one prompt.
type Answer struct {
	ID    string `json:"id"`
	Value string `json:"value,omitempty"`
	Skip  bool   `json:"skip,omitempty"`
}

// Report lists the outcome of one Apply call. Ignored answers (unknown or
// already-terminal identifiers) are surfaced to the caller, never fatal.
type Report struct {
	Applied []string `json:"applied,omitempty"`
	Ignored []string `json:"ignored,omitempty"`
}

// Generate derives the current prompt set from the engine's output. It is
// idempotent: unchanged row and parameter state yields the same prompts with
// the same identifiers. Global prompts come first, then row prompts in batch
// order.
func Generate(rows []expense.Row, missing []string) []Prompt {
	var out []Prompt

	for _, key := range missing {
		out = append(out, Prompt{
			ID:      ID{Kind: KindGlobal, Key: key},
			Type:    globalValueType(key),
			Message: globalMessage(key),
		})
	}

	for i, row := range rows {
		if row.Skipped || row.Carried || row.Verdict.Kind != expense.VerdictInvalid {
			continue
		}
		// a row is correctable only when a single field-level rule failed
		if len(row.Verdict.Reasons) != 1 || !row.Verdict.Reasons[0].Correctable() {
			continue
		}
		reason := row.Verdict.Reasons[0]
		out = append(out, Prompt{
			ID:      ID{Kind: KindRow, Row: i, Field: reason.Field},
			Type:    fieldValueType(reason.Field),
			Message: fmt.Sprintf("row %d: %s failed rule %q", i, reason.Field, reason.Code),
		})
	}

	return out
}

// HasOutstanding reports whether any prompt remains unresolved.
func HasOutstanding(rows []expense.Row, missing []string) bool {
	return len(Generate(rows, missing)) > 0
}

// Apply merges answers into row and parameter state. An answered row field is
// overwritten and the row's fingerprint recomputed; a skip marks the row
// permanently invalid or the parameter permanently unset. Duplicate answers
// for the same identifier within one batch overwrite each other, last one
// wins. An answer may also target a global prompt resolved in an earlier
// batch: as long as the parameter is set and not skipped, the new value
// overwrites the old one. The caller re-runs the rule engine afterwards.
func Apply(rows []expense.Row, params *expense.Params, outstanding []Prompt, answers []Answer) Report {
	known := map[string]Prompt{}
	for _, p := range outstanding {
		known[p.ID.String()] = p
	}

	var report Report
	for _, ans := range answers {
		prompt, ok := known[ans.ID]
		if !ok {
			prompt, ok = resolvedGlobal(params, ans.ID)
		}
		if !ok {
			report.Ignored = append(report.Ignored, ans.ID)
			continue
		}

		if !ans.Skip && !valueAcceptable(prompt, ans.Value) {
			report.Ignored = append(report.Ignored, ans.ID)
			continue
		}

		switch prompt.ID.Kind {
		case KindGlobal:
			if ans.Skip {
				params.Skip(prompt.ID.Key)
			} else if err := params.Set(prompt.ID.Key, ans.Value); err != nil {
				report.Ignored = append(report.Ignored, ans.ID)
				continue
			}
		case KindRow:
			row := &rows[prompt.ID.Row]
			if ans.Skip {
				row.Skipped = true
			} else {
				row.Fields[prompt.ID.Field] = ans.Value
				row.Fingerprint = expense.Fingerprint(row.Fields)
			}
		}
		report.Applied = append(report.Applied, ans.ID)
	}
	return report
}

// resolvedGlobal matches an answer against a global prompt resolved in an
// earlier batch. A skipped parameter is terminal and cannot be reopened.
func resolvedGlobal(params *expense.Params, raw string) (Prompt, bool) {
	id, err := ParseID(raw)
	if err != nil || id.Kind != KindGlobal {
		return Prompt{}, false
	}
	if _, set := params.Resolve(id.Key); !set || params.IsSkipped(id.Key) {
		return Prompt{}, false
	}
	return Prompt{ID: id, Type: globalValueType(id.Key)}, true
}

// valueAcceptable checks a non-skip answer value against the prompt's
// declared value type before it touches any state. Enum membership for row
// fields (currency) is left to the rule engine, which re-prompts when the
// answered value still fails.
func valueAcceptable(p Prompt, value string) bool {
	if strings.TrimSpace(value) == "" {
		return false
	}

	switch p.Type {
	case TypeNumber:
		_, err := strconv.ParseFloat(value, 64)
		return err == nil
	case TypeDate:
		_, err := time.Parse("2006-01-02", value)
		return err == nil
	case TypeEnum:
		if p.ID.Kind == KindGlobal && p.ID.Key == expense.ParamRoundingMode {
			return value == string(expense.RoundingCents) || value == string(expense.RoundingWhole)
		}
	}
	return true
}

// SkipAll resolves every outstanding prompt as skipped, forcing the run
// toward completion with the affected rows routed to the error output.
func SkipAll(rows []expense.Row, params *expense.Params, outstanding []Prompt) Report {
	answers := make([]Answer, 0, len(outstanding))
	for _, p := range outstanding {
		answers = append(answers, Answer{ID: p.ID.String(), Skip: true})
	}
	return Apply(rows, params, outstanding, answers)
}

func globalValueType(key string) ValueType {
	switch {
	case key == expense.ParamReferenceDate:
		return TypeDate
	case key == expense.ParamRoundingMode:
		return TypeEnum
	default:
		return TypeString
	}
}

func globalMessage(key string) string {
	switch {
	case key == expense.ParamReferenceDate:
		return "reference date is required to bound spend dates"
	case key == expense.ParamRoundingMode:
		return "rounding mode is required to compute amount_usd (cents or whole)"
	case strings.HasPrefix(key, expense.ParamCostCenter+":"):
		dept := strings.TrimPrefix(key, expense.ParamCostCenter+":")
		return fmt.Sprintf("no cost center mapped for department %q", dept)
	default:
		return fmt.Sprintf("parameter %q is required", key)
	}
}

func fieldValueType(field string) ValueType {
	switch field {
	case expense.FieldAmount, expense.FieldFxRate:
		return TypeNumber
	case expense.FieldSpendDate:
		return TypeDate
	case expense.FieldCurrency:
		return TypeEnum
	default:
		return TypeString
	}
}
