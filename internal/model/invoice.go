package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the processing state of an imported invoice
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "PENDING"
	InvoiceStatusProcessed InvoiceStatus = "PROCESSED"
	InvoiceStatusIgnored   InvoiceStatus = "IGNORED"
)

// InvoiceStatuses lists every status in display order
var InvoiceStatuses = []InvoiceStatus{
	InvoiceStatusPending,
	InvoiceStatusProcessed,
	InvoiceStatusIgnored,
}

// Valid reports whether s is a known status
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusProcessed, InvoiceStatusIgnored:
		return true
	default:
		return false
	}
}

// CanTransition reports whether an invoice may move from s to next.
// PROCESSED and IGNORED only leave through an explicit reprocess back to PENDING.
func (s InvoiceStatus) CanTransition(next InvoiceStatus) bool {
	switch s {
	case InvoiceStatusPending:
		return next == InvoiceStatusProcessed || next == InvoiceStatusIgnored
	case InvoiceStatusProcessed:
		return next == InvoiceStatusPending
	case InvoiceStatusIgnored:
		return next == InvoiceStatusPending
	default:
		return false
	}
}

// ParseInvoiceStatus converts a user supplied value into a status
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	status := InvoiceStatus(s)
	if !status.Valid() {
		return "", NewValidationError("status", s, "enum", "unknown invoice status")
	}
	return status, nil
}

// IncomingInvoice is an electronic invoice imported from the distribution service
type IncomingInvoice struct {
	ID             int64           `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	AccessKey      string          `json:"access_key" gorm:"size:44;uniqueIndex;not null"`
	InvoiceNumber  string          `json:"invoice_number" gorm:"size:20"`
	IssuerTaxID    string          `json:"issuer_tax_id" gorm:"size:14;index"`
	IssuerName     string          `json:"issuer_name"`
	TotalValue     decimal.Decimal `json:"total_value" gorm:"type:decimal(15,2);not null"`
	IssueDate      time.Time       `json:"issue_date"`
	Schema         string          `json:"schema,omitempty"`
	SequenceNumber string          `json:"sequence_number,omitempty" gorm:"size:20"`
	RawPayload     string          `json:"-" gorm:"type:text"`
	Status         InvoiceStatus   `json:"status" gorm:"size:16;index;not null"`
	ImportedAt     time.Time       `json:"imported_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	LinkedBillID   *int64          `json:"linked_bill_id,omitempty"`
	Notes          *string         `json:"notes,omitempty" gorm:"type:text"`

	// MissingFields is the comma separated list of fields the fallback
	// extraction could not recover
	MissingFields string `json:"missing_fields,omitempty" gorm:"size:255"`
}

// TableName overrides the gorm table name
func (IncomingInvoice) TableName() string {
	return "incoming_invoices"
}

// String returns a short identifier used in logs and errors
func (i *IncomingInvoice) String() string {
	return fmt.Sprintf("invoice %d (%s)", i.ID, i.AccessKey)
}

// Lacks reports whether field was not recovered at import
func (i *IncomingInvoice) Lacks(field string) bool {
	for _, f := range strings.Split(i.MissingFields, ",") {
		if strings.TrimSpace(f) == field {
			return true
		}
	}
	return false
}

// ParsedInvoice is the parser's view of one fiscal document
type ParsedInvoice struct {
	AccessKey     string          `json:"access_key"`
	InvoiceNumber string          `json:"invoice_number"`
	IssuerTaxID   string          `json:"issuer_tax_id"`
	IssuerName    string          `json:"issuer_name"`
	TotalValue    decimal.Decimal `json:"total_value"`
	IssueDate     time.Time       `json:"issue_date"`

	// Strategy names the parser strategy that produced the record
	Strategy string `json:"strategy"`

	// Missing lists fields the fallback extraction could not recover
	Missing []string `json:"missing,omitempty"`

	// Raw is the decompressed document text
	Raw []byte `json:"-"`
}

// Partial reports whether some fields could not be recovered
func (p *ParsedInvoice) Partial() bool {
	return len(p.Missing) > 0
}
