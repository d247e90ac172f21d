// Package invoicelib provides a public API for reading NF-e documents.
//
// It exposes the extraction chain used by the ingestion service so that
// documents downloaded by other means can be parsed the same way.
//
// Example usage:
//
//	proc := invoicelib.NewDefaultProcessor()
//	result, err := proc.Process(ctx, reader, "procNFe_v4.00.xsd")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Invoice.TotalValue)
package invoicelib

import "github.com/rezonia/fiscal-ingest/internal/model"

// Re-export core types for public API
type (
	Invoice       = model.ParsedInvoice
	InvoiceStatus = model.InvoiceStatus
)

// Re-export invoice statuses
const (
	StatusPending   = model.InvoiceStatusPending
	StatusProcessed = model.InvoiceStatusProcessed
	StatusIgnored   = model.InvoiceStatusIgnored
)

// Re-export error types
type (
	ParseError      = model.ParseError
	ValidationError = model.ValidationError
)

// Re-export sentinel errors
var (
	ErrNotInvoice  = model.ErrNotInvoice
	ErrUnparseable = model.ErrUnparseable
)
