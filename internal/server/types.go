package server

import "github.com/rezonia/fiscal-ingest/internal/model"

// ListInvoicesQuery are the query parameters of the invoice listing
type ListInvoicesQuery struct {
	Status   string `form:"status"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=250"`
}

// IgnoreRequest is the body of the ignore endpoint
type IgnoreRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// StatsResponse is the response for the stats endpoint
type StatsResponse struct {
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
}

// ProcessPendingResponse is the response for the batch endpoint
type ProcessPendingResponse struct {
	Processed int `json:"processed"`
}

// ParseResponse is the response for the parse endpoint
type ParseResponse struct {
	Invoice  *model.ParsedInvoice `json:"invoice"`
	Strategy string               `json:"strategy"`
	Missing  []string             `json:"missing,omitempty"`
}

// BillsResponse lists the bills created from one invoice
type BillsResponse struct {
	InvoiceID int64               `json:"invoice_id"`
	AccessKey string              `json:"access_key"`
	Bills     []model.PayableBill `json:"bills"`
}

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
