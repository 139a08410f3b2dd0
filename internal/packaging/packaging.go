// Package packaging materializes the two output artifacts of a run: valid
// rows with their computed columns and invalid rows with fingerprint and
// ordered reasons. The error artifact round-trips: re-uploading it feeds the
// reconciler through the same metadata columns it writes here.
package packaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/expenseops/expense-validator/internal/expense"
	"github.com/expenseops/expense-validator/internal/ingest"
	"github.com/expenseops/expense-validator/internal/pipeline"
)

const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// fieldOrder fixes the column layout of both artifacts.
var fieldOrder = []string{
	expense.FieldEmployeeID,
	expense.FieldDept,
	expense.FieldAmount,
	expense.FieldCurrency,
	expense.FieldFxRate,
	expense.FieldSpendDate,
	expense.FieldVendor,
}

var computedOrder = []string{
	expense.ColumnAmountUSD,
	expense.ColumnCostCenter,
	expense.ColumnApproval,
}

// Packager renders the artifacts and hands them to an ArtifactStore.
type Packager struct {
	store ArtifactStore
}

func NewPackager(store ArtifactStore) *Packager {
	return &Packager{store: store}
}

// Package writes both artifacts for the run and returns their storage keys
// per artifact kind.
func (p *Packager) Package(ctx context.Context, runID uuid.UUID, snap *pipeline.Snapshot) (map[string]string, error) {
	var valid, invalid []expense.Row
	for _, row := range snap.Rows {
		switch row.Verdict.Kind {
		case expense.VerdictValid:
			valid = append(valid, row)
		case expense.VerdictInvalid:
			invalid = append(invalid, row)
		}
	}

	artifacts := map[string]string{}

	validContent, err := renderValid(valid)
	if err != nil {
		return nil, fmt.Errorf("rendering valid artifact: %w", err)
	}
	validKey := fmt.Sprintf("%s/valid.xlsx", runID)
	if err := p.store.Put(ctx, validKey, validContent, ContentTypeXLSX); err != nil {
		return nil, fmt.Errorf("storing valid artifact: %w", err)
	}
	artifacts[pipeline.ArtifactValid] = validKey

	errorContent, err := renderErrors(invalid)
	if err != nil {
		return nil, fmt.Errorf("rendering error artifact: %w", err)
	}
	errorKey := fmt.Sprintf("%s/errors.xlsx", runID)
	if err := p.store.Put(ctx, errorKey, errorContent, ContentTypeXLSX); err != nil {
		return nil, fmt.Errorf("storing error artifact: %w", err)
	}
	artifacts[pipeline.ArtifactErrors] = errorKey

	return artifacts, nil
}

// Fetch returns the stored content of one artifact.
func (p *Packager) Fetch(ctx context.Context, key string) ([]byte, error) {
	return p.store.Get(ctx, key)
}

func renderValid(rows []expense.Row) ([]byte, error) {
	header := append(append([]string{}, fieldOrder...), computedOrder...)
	return renderSheet("Valid", header, rows, func(row expense.Row) []string {
		values := make([]string, 0, len(header))
		for _, f := range fieldOrder {
			values = append(values, row.Fields[f])
		}
		for _, c := range computedOrder {
			values = append(values, row.Computed[c])
		}
		return values
	})
}

func renderErrors(rows []expense.Row) ([]byte, error) {
	header := append(append([]string{}, fieldOrder...), expense.MetaRowHash, expense.MetaErrorReason)
	return renderSheet("Errors", header, rows, func(row expense.Row) []string {
		values := make([]string, 0, len(header))
		for _, f := range fieldOrder {
			values = append(values, row.Fields[f])
		}
		values = append(values, row.Fingerprint, strings.Join(row.ReasonStrings(), ingest.ReasonSeparator))
		return values
	})
}

func renderSheet(sheet string, header []string, rows []expense.Row, project func(expense.Row) []string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	for col, name := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return nil, err
		}
	}

	for i, row := range rows {
		for col, value := range project(row) {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
