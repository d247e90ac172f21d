// Package parser turns fiscal documents received from the distribution
// service into ParsedInvoice records.
//
// A document goes through decompression and then an ordered chain of
// strategies. The structured strategy decodes the known layouts with
// encoding/xml; the fallback strategy recovers the same fields with
// tag-delimited extraction when the document does not decode cleanly.
package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rezonia/fiscal-ingest/internal/model"
)

// Strategy extracts an invoice from decompressed document text
type Strategy interface {
	// Parse extracts the invoice fields from content
	Parse(ctx context.Context, content []byte, schemaHint string) (*model.ParsedInvoice, error)

	// CanParse returns true if the strategy should be tried for this content
	CanParse(content []byte, schemaHint string) bool

	// Name identifies the strategy in errors and logs
	Name() string
}

// Parser runs the decompression step and the strategy chain
type Parser struct {
	strategies []Strategy
}

// NewParser creates a parser with the structured and fallback strategies.
// Order matters: the first strategy that recovers an access key wins.
func NewParser() *Parser {
	return &Parser{
		strategies: []Strategy{
			NewStructuredStrategy(),
			NewFallbackStrategy(),
		},
	}
}

// Parse decompresses raw and extracts the invoice it carries.
// Event documents are reported with model.ErrNotInvoice.
func (p *Parser) Parse(ctx context.Context, raw []byte, schemaHint string) (*model.ParsedInvoice, error) {
	content, err := Decompress(raw)
	if err != nil {
		return nil, err
	}
	return p.ParseContent(ctx, content, schemaHint)
}

// ParseContent runs the strategy chain over already decompressed content
func (p *Parser) ParseContent(ctx context.Context, content []byte, schemaHint string) (*model.ParsedInvoice, error) {
	if IsEvent(content, schemaHint) {
		return nil, fmt.Errorf("%s: %w", schemaOrRoot(content, schemaHint), model.ErrNotInvoice)
	}

	var failures []string
	for _, s := range p.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.CanParse(content, schemaHint) {
			continue
		}

		inv, err := s.Parse(ctx, content, schemaHint)
		if err != nil {
			failures = append(failures, err.Error())
			continue
		}
		inv.Strategy = s.Name()
		inv.Raw = content
		return inv, nil
	}

	cause := model.ErrUnparseable
	if len(failures) > 0 {
		cause = fmt.Errorf("%w: %s", model.ErrUnparseable, strings.Join(failures, "; "))
	}
	return nil, model.NewParseError("chain", "access_key", "no strategy recovered the access key", cause)
}

// RegisterStrategy adds a custom strategy to the front of the chain
func (p *Parser) RegisterStrategy(s Strategy) {
	p.strategies = append([]Strategy{s}, p.strategies...)
}

// Strategies returns the chain in evaluation order
func (p *Parser) Strategies() []Strategy {
	out := make([]Strategy, len(p.strategies))
	copy(out, p.strategies)
	return out
}

// IsUnparseable reports whether err marks a document both strategies rejected
// or a payload that could not be decompressed
func IsUnparseable(err error) bool {
	var parseErr *model.ParseError
	return errors.As(err, &parseErr)
}
