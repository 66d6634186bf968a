package domain

import (
	"time"
)

// TollTransaction represents one toll-passage event extracted from the
// billing portal export. BusinessKey is the portal-issued fiscal code and
// is the idempotency key: re-ingesting a row with the same key updates
// the existing record in place.
type TollTransaction struct {
	BusinessKey     string    `json:"business_key" validate:"required"`
	Status          string    `json:"status"`
	DocumentType    string    `json:"document_type"`
	CreationDate    time.Time `json:"creation_date"`
	DocumentNumber  string    `json:"document_number"`
	RelatedDocument string    `json:"related_document,omitempty"`
	CostCenter      string    `json:"cost_center,omitempty"`
	LicensePlate    string    `json:"license_plate"`
	TollName        string    `json:"toll_name"`
	VehicleCategory string    `json:"vehicle_category"`
	PassageDate     time.Time `json:"passage_date"`
	TransactionID   string    `json:"transaction_id"`
	Subtotal        float64   `json:"subtotal"`
	Tax             float64   `json:"tax,omitempty"`
	Total           float64   `json:"total"`
	TaxCode         string    `json:"tax_code"`
	Description     string    `json:"description"`
	SubjectID       string    `json:"subject_identifier"`

	// Accounted is owned by the downstream accounting workflow. The
	// ingestion path sets it to false on first creation and never
	// includes it in subsequent updates.
	Accounted bool `json:"accounted"`
}

// TransactionFilter narrows Count queries over the transaction table.
type TransactionFilter struct {
	SubjectID    string     `json:"subject_identifier,omitempty"`
	Status       string     `json:"status,omitempty"`
	Accounted    *bool      `json:"accounted,omitempty"`
	PassageFrom  *time.Time `json:"passage_from,omitempty"`
	PassageUntil *time.Time `json:"passage_until,omitempty"`
}

// GroupCount is one bucket of a group-by aggregation.
type GroupCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}
