// Package expense holds the record model shared by every stage of a
// validation run: raw rows, run parameters and the content fingerprint.
package expense

import (
	"fmt"
	"strings"
)

// Field names of an expense record.
const (
	FieldEmployeeID = "employee_id"
	FieldDept       = "dept"
	FieldAmount     = "amount"
	FieldCurrency   = "currency"
	FieldFxRate     = "fx_rate"
	FieldSpendDate  = "spend_date"
	FieldVendor     = "vendor"
)

// Metadata columns carried by a reprocessed error export. They are never part
// of the fingerprint.
const (
	MetaRowHash     = "row_hash"
	MetaErrorReason = "error_reason"
)

// Computed column names added by the transform stage.
const (
	ColumnAmountUSD  = "amount_usd"
	ColumnCostCenter = "cost_center"
	ColumnApproval   = "approval_required"
)

// Run-scoped parameter keys. Cost-center entries are addressed per department
// as "cost_center:<dept>".
const (
	ParamReferenceDate = "reference_date"
	ParamRoundingMode  = "rounding_mode"
	ParamCostCenter    = "cost_center"
)

type RoundingMode string

const (
	RoundingCents RoundingMode = "cents"
	RoundingWhole RoundingMode = "whole"
)

type VerdictKind string

const (
	// VerdictPending is the verdict of a row blocked on an unresolved global
	// parameter. It is never routed to an output artifact.
	VerdictPending VerdictKind = "pending"
	VerdictValid   VerdictKind = "valid"
	VerdictInvalid VerdictKind = "invalid"
)

// Reason is one entry of a row's ordered failure list.
type Reason struct {
	Code   string `json:"code"`
	Field  string `json:"field,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Reason codes.
const (
	ReasonMissing   = "missing"
	ReasonFormat    = "format"
	ReasonRange     = "range"
	ReasonEnum      = "enum"
	ReasonFuture    = "future"
	ReasonDuplicate = "duplicate"
	ReasonParameter = "parameter"
	ReasonUnmapped  = "unmapped"
)

func (r Reason) String() string {
	switch {
	case r.Field != "":
		return r.Code + ":" + r.Field
	case r.Detail != "":
		return r.Code + ":" + r.Detail
	default:
		return r.Code
	}
}

// Correctable reports whether the reason points at a single raw field a user
// could fix through a row prompt. Structural reasons (duplicate keys) and
// parameter gaps are not row-correctable.
func (r Reason) Correctable() bool {
	switch r.Code {
	case ReasonMissing, ReasonFormat, ReasonRange, ReasonEnum, ReasonFuture:
		return r.Field != ""
	}
	return false
}

type Verdict struct {
	Kind    VerdictKind `json:"kind"`
	Reasons []Reason    `json:"reasons,omitempty"`
}

// Row is one record under validation. Fields holds the raw values as
// ingested; Computed is populated by the transform stage and never feeds back
// into Fields or the fingerprint.
type Row struct {
	Fields      map[string]string `json:"fields"`
	Fingerprint string            `json:"fingerprint"`
	Verdict     Verdict           `json:"verdict"`
	Computed    map[string]string `json:"computed,omitempty"`

	// Reprocess carry-over from a prior error export.
	PriorHash    string   `json:"prior_hash,omitempty"`
	PriorReasons []string `json:"prior_reasons,omitempty"`
	Carried      bool     `json:"carried,omitempty"`

	// Skipped marks a row whose prompt was resolved as skip. The row is
	// permanently invalid and no further prompts are offered for it.
	Skipped bool `json:"skipped,omitempty"`
}

// ReasonStrings renders the ordered reason list for the error artifact. A
// carried row reproduces its prior reasons verbatim.
func (r Row) ReasonStrings() []string {
	if r.Carried {
		return r.PriorReasons
	}
	out := make([]string, 0, len(r.Verdict.Reasons))
	for _, reason := range r.Verdict.Reasons {
		out = append(out, reason.String())
	}
	return out
}

// Params holds the run-scoped parameters. Any of them may be absent; the rule
// engine reports the keys it needed but could not resolve. Skipped records
// keys the user declined to provide.
type Params struct {
	ReferenceDate string            `json:"reference_date,omitempty"`
	Rounding      RoundingMode      `json:"rounding_mode,omitempty"`
	CostCenters   map[string]string `json:"cost_center_map,omitempty"`
	Skipped       map[string]bool   `json:"skipped,omitempty"`
}

// CostCenterKey builds the parameter key for one department mapping entry.
func CostCenterKey(dept string) string {
	return ParamCostCenter + ":" + dept
}

// Resolve returns the value for a parameter key and whether it is set.
func (p Params) Resolve(key string) (string, bool) {
	switch {
	case key == ParamReferenceDate:
		return p.ReferenceDate, p.ReferenceDate != ""
	case key == ParamRoundingMode:
		return string(p.Rounding), p.Rounding != ""
	case strings.HasPrefix(key, ParamCostCenter+":"):
		cc, ok := p.CostCenters[strings.TrimPrefix(key, ParamCostCenter+":")]
		return cc, ok
	}
	return "", false
}

// IsSkipped reports whether the key was resolved as skip.
func (p Params) IsSkipped(key string) bool {
	return p.Skipped[key]
}

// Set stores the value for a parameter key. Unknown keys are rejected so a
// stray answer cannot grow the parameter state.
func (p *Params) Set(key, value string) error {
	switch {
	case key == ParamReferenceDate:
		p.ReferenceDate = value
	case key == ParamRoundingMode:
		p.Rounding = RoundingMode(value)
	case strings.HasPrefix(key, ParamCostCenter+":"):
		if p.CostCenters == nil {
			p.CostCenters = map[string]string{}
		}
		p.CostCenters[strings.TrimPrefix(key, ParamCostCenter+":")] = value
	default:
		return fmt.Errorf("unknown parameter key: %s", key)
	}
	return nil
}

// Skip marks the key as permanently unset.
func (p *Params) Skip(key string) {
	if p.Skipped == nil {
		p.Skipped = map[string]bool{}
	}
	p.Skipped[key] = true
}
