package invoicelib

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/rezonia/fiscal-ingest/internal/parser"
)

// Processor implements Pipeline using the internal parser chain
type Processor struct {
	extractor Extractor
	options   PipelineOptions
}

// NewProcessor creates a new document processor with the given options
func NewProcessor(opts PipelineOptions) *Processor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Processor{
		extractor: parser.NewParser(),
		options:   opts,
	}
}

// NewDefaultProcessor creates a processor with default options
func NewDefaultProcessor() *Processor {
	return NewProcessor(DefaultPipelineOptions())
}

// Process reads one document and returns its extraction result.
// Event documents are reported through ExtractionResult.Event, not as errors.
func (p *Processor) Process(ctx context.Context, r io.Reader, schemaHint string) (*ExtractionResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return p.ProcessBytes(ctx, data, schemaHint)
}

// ProcessBytes is Process for in-memory documents
func (p *Processor) ProcessBytes(ctx context.Context, data []byte, schemaHint string) (*ExtractionResult, error) {
	inv, err := p.extractor.Parse(ctx, data, schemaHint)
	if err != nil {
		if errors.Is(err, ErrNotInvoice) {
			return &ExtractionResult{Event: true}, nil
		}
		return nil, err
	}

	return &ExtractionResult{
		Invoice:     inv,
		Strategy:    inv.Strategy,
		Missing:     inv.Missing,
		NeedsReview: p.options.ReviewPartial && inv.Partial(),
	}, nil
}

// ProcessBatch processes documents concurrently. Per-document failures are
// reported on each result's Err; the returned error is only set when ctx ends.
func (p *Processor) ProcessBatch(ctx context.Context, inputs [][]byte) ([]*ExtractionResult, error) {
	results := make([]*ExtractionResult, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.options.Concurrency)

	for i, input := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := p.ProcessBytes(gctx, input, "")
			if err != nil {
				result = &ExtractionResult{Err: err}
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
