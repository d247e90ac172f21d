package parser

import (
	"context"
	"html"
	"regexp"
	"strings"

	"github.com/rezonia/fiscal-ingest/internal/decimal"
	"github.com/rezonia/fiscal-ingest/internal/model"
)

// StrategyFallback is the name of the tag extraction strategy
const StrategyFallback = "fallback"

// tagPattern matches <tag>value</tag>, tolerating a namespace prefix on both markers
func tagPattern(tag, value string) *regexp.Regexp {
	return regexp.MustCompile(`<(?:[\w.-]+:)?` + tag + `(?:\s[^>]*)?>\s*(` + value + `)\s*</(?:[\w.-]+:)?` + tag + `>`)
}

var (
	reAccessKeyTag  = tagPattern("chNFe", `\d{44}`)
	reAccessKeyAttr = regexp.MustCompile(`Id\s*=\s*["']NFe(\d{44})["']`)
	reNumber        = tagPattern("nNF", `\d+`)
	reCNPJ          = tagPattern("CNPJ", `\d{14}`)
	reCPF           = tagPattern("CPF", `\d{11}`)
	reName          = tagPattern("xNome", `[^<]*`)
	reTotal         = tagPattern("vNF", `[^<]+`)
	reIssuedAt      = tagPattern("dhEmi", `[^<]+`)
	reIssuedOn      = tagPattern("dEmi", `[^<]+`)
	reEmitBlock     = regexp.MustCompile(`(?s)<(?:[\w.-]+:)?emit(?:\s[^>]*)?>(.*?)</(?:[\w.-]+:)?emit>`)
)

// FallbackStrategy recovers the invoice fields by locating fixed opening and
// closing tag markers in the raw text. Only the access key is mandatory; any
// other field it cannot recover is listed in ParsedInvoice.Missing.
type FallbackStrategy struct{}

// NewFallbackStrategy creates a new fallback strategy
func NewFallbackStrategy() *FallbackStrategy {
	return &FallbackStrategy{}
}

// Name returns the strategy name
func (s *FallbackStrategy) Name() string {
	return StrategyFallback
}

// CanParse accepts any non-empty content
func (s *FallbackStrategy) CanParse(content []byte, schemaHint string) bool {
	return len(content) > 0
}

// Parse extracts the six invoice fields from content
func (s *FallbackStrategy) Parse(ctx context.Context, content []byte, schemaHint string) (*model.ParsedInvoice, error) {
	text := string(content)

	key := firstMatch(text, reAccessKeyTag, reAccessKeyAttr)
	if key == "" {
		return nil, model.NewParseError(StrategyFallback, "access_key", "access key not found", nil)
	}

	result := &model.ParsedInvoice{AccessKey: key}

	// Issuer fields are read from the <emit> block when there is one; summaries
	// carry them at the top level.
	issuerScope := text
	if m := reEmitBlock.FindStringSubmatch(text); m != nil {
		issuerScope = m[1]
	}

	if n := firstMatch(text, reNumber); n != "" {
		result.InvoiceNumber = n
	} else if n := NumberFromAccessKey(key); n != "" {
		result.InvoiceNumber = n
	} else {
		result.Missing = append(result.Missing, "invoice_number")
	}

	if id := firstMatch(issuerScope, reCNPJ, reCPF); id != "" {
		result.IssuerTaxID = id
	} else {
		result.Missing = append(result.Missing, "issuer_tax_id")
	}

	if name := firstMatch(issuerScope, reName); name != "" {
		result.IssuerName = html.UnescapeString(name)
	} else {
		result.Missing = append(result.Missing, "issuer_name")
	}

	if raw := firstMatch(text, reTotal); raw != "" {
		if total, err := decimal.ParseAmount(raw); err == nil && decimal.IsNonNegative(total) {
			result.TotalValue = total
		} else {
			result.Missing = append(result.Missing, "total_value")
		}
	} else {
		result.Missing = append(result.Missing, "total_value")
	}

	if raw := firstMatch(text, reIssuedAt, reIssuedOn); raw != "" {
		if issued, err := ParseIssueDate(raw); err == nil {
			result.IssueDate = issued
		} else {
			result.Missing = append(result.Missing, "issue_date")
		}
	} else {
		result.Missing = append(result.Missing, "issue_date")
	}

	return result, nil
}

func firstMatch(text string, patterns ...*regexp.Regexp) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if v := strings.TrimSpace(m[1]); v != "" {
				return v
			}
		}
	}
	return ""
}
