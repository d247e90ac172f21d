package invoicelib_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/fiscal-ingest/pkg/invoicelib"
)

const keyA = "35150112345678000190550010000001231000000123"

func readTestFile(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("../../internal/parser/testdata/" + name)
	require.NoError(t, err)
	return data
}

func TestNewProcessor(t *testing.T) {
	proc := invoicelib.NewProcessor(invoicelib.PipelineOptions{})
	require.NotNil(t, proc)
}

func TestDefaultPipelineOptions(t *testing.T) {
	opts := invoicelib.DefaultPipelineOptions()
	assert.Equal(t, 4, opts.Concurrency)
	assert.True(t, opts.ReviewPartial)
}

func TestProcessorProcess_FullInvoice(t *testing.T) {
	proc := invoicelib.NewDefaultProcessor()

	result, err := proc.Process(context.Background(), bytes.NewReader(readTestFile(t, "procNFe.xml")), "procNFe_v4.00.xsd")
	require.NoError(t, err)

	require.NotNil(t, result.Invoice)
	assert.Equal(t, keyA, result.Invoice.AccessKey)
	assert.Equal(t, "1500.00", result.Invoice.TotalValue.StringFixed(2))
	assert.Equal(t, "structured", result.Strategy)
	assert.False(t, result.NeedsReview)
	assert.False(t, result.Event)
}

func TestProcessorProcess_Gzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(readTestFile(t, "resNFe.xml"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	result, err := invoicelib.NewDefaultProcessor().ProcessBytes(context.Background(), buf.Bytes(), "resNFe_v1.01.xsd")
	require.NoError(t, err)
	assert.Equal(t, "35240198765432000110550010000004561000004566", result.Invoice.AccessKey)
}

func TestProcessorProcess_Event(t *testing.T) {
	result, err := invoicelib.NewDefaultProcessor().ProcessBytes(context.Background(), readTestFile(t, "resEvento.xml"), "resEvento_v1.01.xsd")
	require.NoError(t, err)
	assert.True(t, result.Event)
	assert.Nil(t, result.Invoice)
}

func TestProcessorProcess_InvalidInput(t *testing.T) {
	_, err := invoicelib.NewDefaultProcessor().ProcessBytes(context.Background(), []byte("plain text"), "")
	require.Error(t, err)

	var parseErr *invoicelib.ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestProcessorProcessBatch(t *testing.T) {
	proc := invoicelib.NewProcessor(invoicelib.PipelineOptions{Concurrency: 2})

	inputs := [][]byte{
		readTestFile(t, "procNFe.xml"),
		[]byte("plain text"),
		readTestFile(t, "resNFe.xml"),
	}

	results, err := proc.ProcessBatch(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.NoError(t, results[0].Err)
	assert.Equal(t, keyA, results[0].Invoice.AccessKey)
	assert.Error(t, results[1].Err)
	require.NoError(t, results[2].Err)
	assert.Equal(t, "35240198765432000110550010000004561000004566", results[2].Invoice.AccessKey)
}

func TestProcessorProcessBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := invoicelib.NewDefaultProcessor().ProcessBatch(ctx, [][]byte{readTestFile(t, "procNFe.xml")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessorProcess_PartialNeedsReview(t *testing.T) {
	raw := readTestFile(t, "truncated.xml")

	result, err := invoicelib.NewDefaultProcessor().ProcessBytes(context.Background(), raw, "")
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.Strategy)
	assert.Equal(t, []string{"issue_date"}, result.Missing)
	assert.True(t, result.NeedsReview)

	result, err = invoicelib.NewProcessor(invoicelib.PipelineOptions{}).ProcessBytes(context.Background(), raw, "")
	require.NoError(t, err)
	assert.False(t, result.NeedsReview)
}
