package ingest

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Canonical column keys used by the mapper. The export references
// columns by header name, not position; reordering is tolerated,
// renaming is not.
const (
	colFiscalCode      = "fiscal_code"
	colStatus          = "status"
	colDocumentType    = "document_type"
	colCreationDate    = "creation_date"
	colDocumentNumber  = "document_number"
	colRelatedDocument = "related_document"
	colCostCenter      = "cost_center"
	colLicensePlate    = "license_plate"
	colTollName        = "toll_name"
	colVehicleCategory = "vehicle_category"
	colPassageDate     = "passage_date"
	colTransactionID   = "transaction_id"
	colSubtotal        = "subtotal"
	colTax             = "tax"
	colTotal           = "total"
	colTaxCode         = "tax_code"
	colDescription     = "description"
)

// requiredColumns must all be present for a row to qualify as the
// header.
var requiredColumns = []string{colFiscalCode, colLicensePlate, colPassageDate, colTotal}

// RawRow is one data row of the export keyed by canonical column name.
// Number is the 1-based row index in the sheet, for error reporting.
type RawRow struct {
	Number int
	Cells  map[string]string
}

// BusinessKey returns the row's fiscal code, empty when the row is a
// header/footer artifact rather than a transaction.
func (r RawRow) BusinessKey() string {
	return strings.TrimSpace(r.Cells[colFiscalCode])
}

// Export holds the parsed contents of one downloaded spreadsheet.
type Export struct {
	SheetName string
	Rows      []RawRow
}

// ReadExport opens the export workbook, locates the header row by
// column names, and returns every following data row keyed by canonical
// column. An unrecognizable header is fatal.
func ReadExport(filePath string) (*Export, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to open export: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("ingest: export has no sheets")
	}
	sheetName := sheets[0]

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to read sheet %s: %w", sheetName, err)
	}

	headerRow, columnMap := findHeader(rows)
	if headerRow == -1 {
		return nil, fmt.Errorf("%w in sheet %s", ErrHeaderNotFound, sheetName)
	}

	export := &Export{SheetName: sheetName}
	for i := headerRow + 1; i < len(rows); i++ {
		row := rows[i]
		if isEmptyRow(row) {
			continue
		}

		cells := make(map[string]string, len(columnMap))
		for key, idx := range columnMap {
			if idx < len(row) {
				cells[key] = strings.TrimSpace(row[idx])
			}
		}
		export.Rows = append(export.Rows, RawRow{Number: i + 1, Cells: cells})
	}

	return export, nil
}

// findHeader scans for the first row containing every required column
// and maps header names onto column indices.
func findHeader(rows [][]string) (int, map[string]int) {
	for i, row := range rows {
		if len(row) < len(requiredColumns) {
			continue
		}

		columnMap := make(map[string]int)
		for j, header := range row {
			if key := canonicalColumn(header); key != "" {
				if _, taken := columnMap[key]; !taken {
					columnMap[key] = j
				}
			}
		}

		complete := true
		for _, key := range requiredColumns {
			if _, ok := columnMap[key]; !ok {
				complete = false
				break
			}
		}
		if complete {
			return i, columnMap
		}
	}
	return -1, nil
}

// canonicalColumn maps a header cell onto a canonical column key, or ""
// when the header is not one of ours.
func canonicalColumn(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	switch {
	case h == "":
		return ""
	case strings.Contains(h, "fiscal") && strings.Contains(h, "code"):
		return colFiscalCode
	case strings.Contains(h, "document") && strings.Contains(h, "type"):
		return colDocumentType
	case strings.Contains(h, "document") && strings.Contains(h, "number"):
		return colDocumentNumber
	case strings.Contains(h, "related") && strings.Contains(h, "document"):
		return colRelatedDocument
	case strings.Contains(h, "creation") && strings.Contains(h, "date"):
		return colCreationDate
	case strings.Contains(h, "cost") && strings.Contains(h, "center"):
		return colCostCenter
	case strings.Contains(h, "plate"):
		return colLicensePlate
	case strings.Contains(h, "toll"):
		return colTollName
	case strings.Contains(h, "category"):
		return colVehicleCategory
	case strings.Contains(h, "passage") && strings.Contains(h, "date"):
		return colPassageDate
	case strings.Contains(h, "transaction"):
		return colTransactionID
	case strings.Contains(h, "subtotal"):
		return colSubtotal
	case strings.Contains(h, "tax") && strings.Contains(h, "code"):
		return colTaxCode
	case h == "tax" || strings.Contains(h, "tax value"):
		return colTax
	case strings.Contains(h, "total"):
		return colTotal
	case strings.Contains(h, "description"):
		return colDescription
	case h == "status":
		return colStatus
	}
	return ""
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
