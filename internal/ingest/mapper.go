package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"tollsync/pkg/contracts/domain"
)

// The export mixes two date encodings: creation timestamps are
// year-first, passage timestamps are day-first. Both are parsed
// explicitly; locale-dependent parsing silently transposes day and
// month for most rows.
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
}

// MapRow transforms one raw export row into a TollTransaction. Rows
// missing the fiscal code must be filtered out by the caller before
// mapping; an empty key here is an error.
func MapRow(row RawRow, subjectID string) (domain.TollTransaction, error) {
	key := row.BusinessKey()
	if key == "" {
		return domain.TollTransaction{}, &RowError{Row: row.Number, Err: fmt.Errorf("missing fiscal code")}
	}

	creation, err := parseDate(row.Cells[colCreationDate])
	if err != nil {
		return domain.TollTransaction{}, &RowError{Row: row.Number, Err: fmt.Errorf("creation date: %w", err)}
	}

	passage, err := parseDate(row.Cells[colPassageDate])
	if err != nil {
		return domain.TollTransaction{}, &RowError{Row: row.Number, Err: fmt.Errorf("passage date: %w", err)}
	}

	return domain.TollTransaction{
		BusinessKey:     key,
		Status:          row.Cells[colStatus],
		DocumentType:    row.Cells[colDocumentType],
		CreationDate:    creation,
		DocumentNumber:  row.Cells[colDocumentNumber],
		RelatedDocument: row.Cells[colRelatedDocument],
		CostCenter:      row.Cells[colCostCenter],
		LicensePlate:    row.Cells[colLicensePlate],
		TollName:        row.Cells[colTollName],
		VehicleCategory: row.Cells[colVehicleCategory],
		PassageDate:     passage,
		TransactionID:   row.Cells[colTransactionID],
		Subtotal:        parseMoney(row.Cells[colSubtotal]),
		Tax:             parseMoney(row.Cells[colTax]),
		Total:           parseMoney(row.Cells[colTotal]),
		TaxCode:         row.Cells[colTaxCode],
		Description:     row.Cells[colDescription],
		SubjectID:       subjectID,
	}, nil
}

// parseDate tries the explicit layouts and truncates to date-only. A
// value failing every layout is a row-level mapping error.
func parseDate(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", v)
}

// parseMoney coerces a monetary cell that may be a native number or a
// formatted string. Everything but digits, '.' and '-' is stripped; a
// value that still fails to parse becomes 0, since these are typically
// optional subtotal/tax fields.
func parseMoney(value string) float64 {
	var b strings.Builder
	for _, r := range value {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}

	f, err := strconv.ParseFloat(b.String(), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
