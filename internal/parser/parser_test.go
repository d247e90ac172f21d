package parser_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/fiscal-ingest/internal/model"
	"github.com/rezonia/fiscal-ingest/internal/parser"
)

func TestNewParser_Order(t *testing.T) {
	p := parser.NewParser()
	strategies := p.Strategies()

	require.Len(t, strategies, 2)
	assert.Equal(t, parser.StrategyStructured, strategies[0].Name())
	assert.Equal(t, parser.StrategyFallback, strategies[1].Name())
}

func TestParse_FullInvoice(t *testing.T) {
	raw := gzipBytes(t, readTestFile(t, "procNFe.xml"))

	inv, err := parser.NewParser().Parse(context.Background(), raw, "procNFe_v4.00.xsd")
	require.NoError(t, err)

	assert.Equal(t, parser.StrategyStructured, inv.Strategy)
	assert.Equal(t, "35150112345678000190550010000001231000000123", inv.AccessKey)
	assert.Equal(t, "123", inv.InvoiceNumber)
	assert.Equal(t, "12345678000190", inv.IssuerTaxID)
	assert.Equal(t, "ACME Distribuidora Ltda", inv.IssuerName)
	assert.True(t, inv.TotalValue.Equal(decimal.RequireFromString("1500.00")))
	assert.Equal(t, "1500.00", inv.TotalValue.StringFixed(2))

	expected := time.Date(2015, 1, 10, 11, 30, 0, 0, time.UTC)
	assert.True(t, inv.IssueDate.Equal(expected), "got %s", inv.IssueDate)
	_, offset := inv.IssueDate.Zone()
	assert.Equal(t, -2*3600, offset)

	assert.False(t, inv.Partial())
	assert.Contains(t, string(inv.Raw), "<nfeProc")
}

func TestParse_Summary(t *testing.T) {
	raw := gzipBytes(t, readTestFile(t, "resNFe.xml"))

	inv, err := parser.NewParser().Parse(context.Background(), raw, "resNFe_v1.01.xsd")
	require.NoError(t, err)

	assert.Equal(t, parser.StrategyStructured, inv.Strategy)
	assert.Equal(t, "35240198765432000110550010000004561000004566", inv.AccessKey)
	assert.Equal(t, "456", inv.InvoiceNumber, "summaries take the number from the access key")
	assert.Equal(t, "98765432000110", inv.IssuerTaxID)
	assert.Equal(t, "Pecas & Servicos Ltda", inv.IssuerName)
	assert.True(t, inv.TotalValue.Equal(decimal.RequireFromString("89.90")))
}

func TestParse_FallbackOnNamespaceNoise(t *testing.T) {
	raw := gzipBytes(t, readTestFile(t, "prefixed.xml"))

	inv, err := parser.NewParser().Parse(context.Background(), raw, "procNFe_v4.00.xsd")
	require.NoError(t, err)

	assert.Equal(t, parser.StrategyFallback, inv.Strategy)
	assert.Equal(t, "35240111222333000181550020000007891000007891", inv.AccessKey)
	assert.Equal(t, "789", inv.InvoiceNumber)
	assert.Equal(t, "11222333000181", inv.IssuerTaxID, "issuer comes from <emit>, not <dest>")
	assert.Equal(t, "Fornecedor Irregular ME", inv.IssuerName)
	assert.True(t, inv.TotalValue.Equal(decimal.RequireFromString("2450.75")))
	assert.Equal(t, 2024, inv.IssueDate.Year())
	assert.Empty(t, inv.Missing)
}

func TestParse_FallbackPartial(t *testing.T) {
	raw := gzipBytes(t, readTestFile(t, "truncated.xml"))

	inv, err := parser.NewParser().Parse(context.Background(), raw, "")
	require.NoError(t, err)

	assert.Equal(t, parser.StrategyFallback, inv.Strategy)
	assert.Equal(t, "41240155666777000199550010000010001000010002", inv.AccessKey)
	assert.Equal(t, "1000", inv.InvoiceNumber)
	assert.True(t, inv.TotalValue.Equal(decimal.RequireFromString("310.40")))
	assert.True(t, inv.IssueDate.IsZero())
	assert.Equal(t, []string{"issue_date"}, inv.Missing)
	assert.True(t, inv.Partial())
}

func TestParse_Event(t *testing.T) {
	p := parser.NewParser()
	raw := gzipBytes(t, readTestFile(t, "resEvento.xml"))

	_, err := p.Parse(context.Background(), raw, "resEvento_v1.01.xsd")
	require.ErrorIs(t, err, model.ErrNotInvoice)
	assert.False(t, parser.IsUnparseable(err))

	// Root element alone is enough to recognise an event
	_, err = p.Parse(context.Background(), raw, "")
	require.ErrorIs(t, err, model.ErrNotInvoice)
}

func TestParse_Unparseable(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "no access key", raw: []byte(`<nfeProc><NFe><infNFe><ide><nNF>1</nNF></ide></infNFe></NFe></nfeProc>`)},
		{name: "short access key", raw: []byte(`<resNFe><chNFe>3515011234</chNFe><vNF>1.00</vNF></resNFe>`)},
		{name: "binary noise", raw: []byte{0x00, 0x01, 0x02, 0x03}},
		{name: "corrupt gzip body", raw: []byte{0x1f, 0x8b, 0x08, 0x00, 0xde, 0xad, 0xbe, 0xef}},
		{name: "empty", raw: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.NewParser().Parse(context.Background(), tt.raw, "procNFe_v4.00.xsd")
			require.Error(t, err)
			assert.True(t, parser.IsUnparseable(err), "got %v", err)

			var parseErr *model.ParseError
			require.ErrorAs(t, err, &parseErr)
		})
	}
}

func TestParse_PlainXMLPayload(t *testing.T) {
	inv, err := parser.NewParser().Parse(context.Background(), readTestFile(t, "resNFe.xml"), "")
	require.NoError(t, err)
	assert.Equal(t, "35240198765432000110550010000004561000004566", inv.AccessKey)
}

func TestParse_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := parser.NewParser().Parse(ctx, readTestFile(t, "resNFe.xml"), "")
	require.ErrorIs(t, err, context.Canceled)
}

func TestRegisterStrategy(t *testing.T) {
	p := parser.NewParser()
	custom := &stubStrategy{name: "custom", result: &model.ParsedInvoice{AccessKey: "x"}}
	p.RegisterStrategy(custom)

	inv, err := p.ParseContent(context.Background(), []byte("<anything/>"), "")
	require.NoError(t, err)
	assert.Equal(t, "custom", inv.Strategy)
	assert.Equal(t, "custom", p.Strategies()[0].Name())
}

func TestStructuredStrategy_RejectsNegativeTotal(t *testing.T) {
	content := []byte(`<resNFe><chNFe>35240198765432000110550010000004561000004566</chNFe>
		<CNPJ>98765432000110</CNPJ><dhEmi>2024-01-05T14:00:00-03:00</dhEmi><vNF>-1.00</vNF></resNFe>`)

	s := parser.NewStructuredStrategy()
	require.True(t, s.CanParse(content, ""))
	_, err := s.Parse(context.Background(), content, "")

	var parseErr *model.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "total_value", parseErr.Field)
}

type stubStrategy struct {
	name   string
	result *model.ParsedInvoice
}

func (s *stubStrategy) Parse(ctx context.Context, content []byte, schemaHint string) (*model.ParsedInvoice, error) {
	return s.result, nil
}
func (s *stubStrategy) CanParse(content []byte, schemaHint string) bool { return true }
func (s *stubStrategy) Name() string                                    { return s.name }

func readTestFile(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
