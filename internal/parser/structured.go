package parser

import (
	"context"
	"encoding/xml"
	"strings"

	"github.com/rezonia/fiscal-ingest/internal/decimal"
	"github.com/rezonia/fiscal-ingest/internal/model"
)

// StrategyStructured is the name of the encoding/xml strategy
const StrategyStructured = "structured"

// Full invoice layout (nfeProc wraps NFe with the authorization protocol)
type nfeProc struct {
	XMLName xml.Name `xml:"nfeProc"`
	NFe     nfeDoc   `xml:"NFe"`
	ProtNFe struct {
		InfProt struct {
			ChNFe string `xml:"chNFe"`
		} `xml:"infProt"`
	} `xml:"protNFe"`
}

type nfeDoc struct {
	InfNFe nfeInf `xml:"infNFe"`
}

type nfeInf struct {
	ID  string `xml:"Id,attr"`
	Ide struct {
		NNF   string `xml:"nNF"`
		DhEmi string `xml:"dhEmi"`
		DEmi  string `xml:"dEmi"`
	} `xml:"ide"`
	Emit struct {
		CNPJ  string `xml:"CNPJ"`
		CPF   string `xml:"CPF"`
		XNome string `xml:"xNome"`
	} `xml:"emit"`
	Total struct {
		ICMSTot struct {
			VNF string `xml:"vNF"`
		} `xml:"ICMSTot"`
	} `xml:"total"`
}

// Summary layout handed out when the full document is not yet available
type resNFe struct {
	XMLName xml.Name `xml:"resNFe"`
	ChNFe   string   `xml:"chNFe"`
	CNPJ    string   `xml:"CNPJ"`
	CPF     string   `xml:"CPF"`
	XNome   string   `xml:"xNome"`
	DhEmi   string   `xml:"dhEmi"`
	VNF     string   `xml:"vNF"`
}

// StructuredStrategy decodes the known layouts with encoding/xml.
// It is strict: any required field missing or malformed is an error, so that
// the fallback strategy gets a chance at the document.
type StructuredStrategy struct{}

// NewStructuredStrategy creates a new structured strategy
func NewStructuredStrategy() *StructuredStrategy {
	return &StructuredStrategy{}
}

// Name returns the strategy name
func (s *StructuredStrategy) Name() string {
	return StrategyStructured
}

// CanParse checks that the root element is a known invoice layout
func (s *StructuredStrategy) CanParse(content []byte, schemaHint string) bool {
	switch RootElement(content) {
	case RootInvoiceProc, RootInvoice, RootSummary:
		return true
	default:
		return false
	}
}

// Parse decodes content according to its root element
func (s *StructuredStrategy) Parse(ctx context.Context, content []byte, schemaHint string) (*model.ParsedInvoice, error) {
	switch RootElement(content) {
	case RootInvoiceProc:
		var doc nfeProc
		if err := xml.Unmarshal(content, &doc); err != nil {
			return nil, model.NewParseError(StrategyStructured, "xml", "failed to decode nfeProc", err)
		}
		return s.convertFull(&doc.NFe.InfNFe, doc.ProtNFe.InfProt.ChNFe)
	case RootInvoice:
		var doc nfeDoc
		if err := xml.Unmarshal(content, &doc); err != nil {
			return nil, model.NewParseError(StrategyStructured, "xml", "failed to decode NFe", err)
		}
		return s.convertFull(&doc.InfNFe, "")
	case RootSummary:
		var doc resNFe
		if err := xml.Unmarshal(content, &doc); err != nil {
			return nil, model.NewParseError(StrategyStructured, "xml", "failed to decode resNFe", err)
		}
		return s.convertSummary(&doc)
	default:
		return nil, model.NewParseError(StrategyStructured, "root", "unknown document layout", nil)
	}
}

func (s *StructuredStrategy) convertFull(inf *nfeInf, protocolKey string) (*model.ParsedInvoice, error) {
	key := strings.TrimPrefix(strings.TrimSpace(inf.ID), "NFe")
	if !ValidAccessKey(key) {
		key = strings.TrimSpace(protocolKey)
	}
	if !ValidAccessKey(key) {
		return nil, model.NewParseError(StrategyStructured, "access_key", "missing or malformed access key", nil)
	}

	issuer := firstNonEmpty(inf.Emit.CNPJ, inf.Emit.CPF)
	if issuer == "" {
		return nil, model.NewParseError(StrategyStructured, "issuer_tax_id", "missing issuer tax id", nil)
	}

	total, err := decimal.ParseAmount(inf.Total.ICMSTot.VNF)
	if err != nil {
		return nil, model.NewParseError(StrategyStructured, "total_value", "invalid total", err)
	}
	if !decimal.IsNonNegative(total) {
		return nil, model.NewParseError(StrategyStructured, "total_value", "negative total", nil)
	}

	issued, err := ParseIssueDate(firstNonEmpty(inf.Ide.DhEmi, inf.Ide.DEmi))
	if err != nil {
		return nil, model.NewParseError(StrategyStructured, "issue_date", "invalid issue date", err)
	}

	number := strings.TrimSpace(inf.Ide.NNF)
	if number == "" {
		number = NumberFromAccessKey(key)
	}

	return &model.ParsedInvoice{
		AccessKey:     key,
		InvoiceNumber: number,
		IssuerTaxID:   strings.TrimSpace(issuer),
		IssuerName:    strings.TrimSpace(inf.Emit.XNome),
		TotalValue:    total,
		IssueDate:     issued,
	}, nil
}

func (s *StructuredStrategy) convertSummary(doc *resNFe) (*model.ParsedInvoice, error) {
	key := strings.TrimSpace(doc.ChNFe)
	if !ValidAccessKey(key) {
		return nil, model.NewParseError(StrategyStructured, "access_key", "missing or malformed access key", nil)
	}

	issuer := firstNonEmpty(doc.CNPJ, doc.CPF)
	if issuer == "" {
		return nil, model.NewParseError(StrategyStructured, "issuer_tax_id", "missing issuer tax id", nil)
	}

	total, err := decimal.ParseAmount(doc.VNF)
	if err != nil {
		return nil, model.NewParseError(StrategyStructured, "total_value", "invalid total", err)
	}
	if !decimal.IsNonNegative(total) {
		return nil, model.NewParseError(StrategyStructured, "total_value", "negative total", nil)
	}

	issued, err := ParseIssueDate(doc.DhEmi)
	if err != nil {
		return nil, model.NewParseError(StrategyStructured, "issue_date", "invalid issue date", err)
	}

	return &model.ParsedInvoice{
		AccessKey:     key,
		InvoiceNumber: NumberFromAccessKey(key),
		IssuerTaxID:   strings.TrimSpace(issuer),
		IssuerName:    strings.TrimSpace(doc.XNome),
		TotalValue:    total,
		IssueDate:     issued,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
