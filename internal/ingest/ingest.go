// Package ingest turns an uploaded spreadsheet or CSV file into the
// in-memory row table the pipeline operates on.
package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/expenseops/expense-validator/internal/expense"
)

// ReasonSeparator joins the ordered reason list into the error_reason column
// of an error artifact, and splits it back on re-ingestion.
const ReasonSeparator = "; "

// IsExcelFile checks the xlsx zip signature.
func IsExcelFile(content []byte) bool {
	return len(content) >= 4 && bytes.Equal(content[:4], []byte{0x50, 0x4B, 0x03, 0x04})
}

// Parse reads an xlsx or CSV upload into rows. The first line is the header;
// the reprocess metadata columns (row_hash, error_reason), when present, are
// lifted out of the field map into the prior-run carry attributes.
func Parse(content []byte) ([]expense.Row, error) {
	var (
		records [][]string
		err     error
	)
	if IsExcelFile(content) {
		records, err = readSheet(content)
	} else {
		records, err = readCSV(content)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("input has no header row")
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = normalizeHeader(h)
	}

	rows := make([]expense.Row, 0, len(records)-1)
	for _, record := range records[1:] {
		if blank(record) {
			continue
		}
		row := expense.Row{Fields: map[string]string{}}
		for i, value := range record {
			if i >= len(header) || header[i] == "" {
				continue
			}
			value = strings.TrimSpace(value)
			switch header[i] {
			case expense.MetaRowHash:
				row.PriorHash = value
			case expense.MetaErrorReason:
				if value != "" {
					row.PriorReasons = strings.Split(value, ReasonSeparator)
				}
			default:
				row.Fields[header[i]] = value
			}
		}
		rows = append(rows, row)
	}

	zap.S().Named("ingest").Infow("parsed upload", "rows", len(rows), "columns", len(header))
	return rows, nil
}

func readSheet(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("opening excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSV(content []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.ReplaceAll(h, " ", "_")
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
