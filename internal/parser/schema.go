package parser

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// Root elements of the documents handed out by the distribution service
const (
	RootInvoiceProc = "nfeProc"
	RootInvoice     = "NFe"
	RootSummary     = "resNFe"
	RootEventSum    = "resEvento"
	RootEventProc   = "procEventoNFe"
)

// SchemaKind classifies a schema hint such as "procNFe_v4.00.xsd"
type SchemaKind int

const (
	SchemaUnknown SchemaKind = iota
	SchemaFull
	SchemaSummary
	SchemaEvent
)

// ClassifySchema maps the authority's schema attribute onto a document kind
func ClassifySchema(hint string) SchemaKind {
	h := strings.ToLower(hint)
	switch {
	case strings.HasPrefix(h, "resevento"), strings.HasPrefix(h, "proceventonfe"):
		return SchemaEvent
	case strings.HasPrefix(h, "resnfe"):
		return SchemaSummary
	case strings.HasPrefix(h, "procnfe"), strings.HasPrefix(h, "nfe_"), strings.HasPrefix(h, "nfeproc"):
		return SchemaFull
	default:
		return SchemaUnknown
	}
}

// RootElement returns the local name of the first element in content
func RootElement(content []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(content))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local
		}
	}
}

// IsEvent reports whether the document is an event rather than an invoice
func IsEvent(content []byte, schemaHint string) bool {
	if ClassifySchema(schemaHint) == SchemaEvent {
		return true
	}
	switch RootElement(content) {
	case RootEventSum, RootEventProc:
		return true
	default:
		return false
	}
}

func schemaOrRoot(content []byte, schemaHint string) string {
	if schemaHint != "" {
		return schemaHint
	}
	return RootElement(content)
}
