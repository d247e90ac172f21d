package invoicelib

import (
	"context"
	"io"
)

// Extractor turns one raw document into an invoice
type Extractor interface {
	// Parse decompresses raw when needed and extracts the invoice
	Parse(ctx context.Context, raw []byte, schemaHint string) (*Invoice, error)
}

// ExtractionResult represents extraction result with metadata
type ExtractionResult struct {
	Invoice     *Invoice `json:"invoice,omitempty"`
	Strategy    string   `json:"strategy,omitempty"`
	Missing     []string `json:"missing,omitempty"`
	NeedsReview bool     `json:"needs_review"`
	Event       bool     `json:"event,omitempty"`
	Err         error    `json:"-"`
}

// Pipeline processes documents through the extraction chain
type Pipeline interface {
	// Process reads r and returns the extraction result
	Process(ctx context.Context, r io.Reader, schemaHint string) (*ExtractionResult, error)

	// ProcessBatch processes multiple documents
	ProcessBatch(ctx context.Context, inputs [][]byte) ([]*ExtractionResult, error)
}

// PipelineOptions configures pipeline behavior
type PipelineOptions struct {
	// Concurrency bounds ProcessBatch workers (default: 4)
	Concurrency int

	// ReviewPartial flags fallback results with missing fields for review
	ReviewPartial bool
}

// DefaultPipelineOptions returns default pipeline options
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		Concurrency:   4,
		ReviewPartial: true,
	}
}
