package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rezonia/fiscal-ingest/internal/distribution"
	"github.com/rezonia/fiscal-ingest/pkg/invoicelib"
)

var decodeResponseCmd = &cobra.Command{
	Use:   "decode-response [file]",
	Short: "Decode a captured distribution service response",
	Long: `Decode a SOAP response captured from the distribution service and parse
every document it carries, without touching the database or the cursor.

Examples:
  fiscal-ingest decode-response capture.xml
  fiscal-ingest decode-response capture.xml -f table`,
	Args: cobra.ExactArgs(1),
	RunE: runDecodeResponse,
}

func init() {
	rootCmd.AddCommand(decodeResponseCmd)
}

// DecodedPage is the offline view of one response page
type DecodedPage struct {
	Status            string         `json:"status"`
	Reason            string         `json:"reason"`
	PageCursor        string         `json:"page_cursor"`
	ReportedMaxCursor string         `json:"reported_max_cursor"`
	HasMore           bool           `json:"has_more"`
	Documents         []*ParseResult `json:"documents"`
}

func runDecodeResponse(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	page, err := distribution.DecodeResponse(raw)
	if err != nil {
		return err
	}

	out := &DecodedPage{
		Status:            page.Status,
		Reason:            page.Reason,
		PageCursor:        page.PageCursor,
		ReportedMaxCursor: page.ReportedMaxCursor,
		HasMore:           page.HasMore(),
	}

	proc := invoicelib.NewDefaultProcessor()
	for _, doc := range page.Documents {
		result := &ParseResult{File: doc.SequenceNumber + " " + doc.Schema}
		out.Documents = append(out.Documents, result)
		if doc.Err != nil {
			result.Error = doc.Err.Error()
			continue
		}

		extracted, err := proc.ProcessBytes(cmd.Context(), doc.Payload, doc.Schema)
		switch {
		case err != nil:
			result.Error = err.Error()
		case extracted.Event:
			result.Event = true
		default:
			result.Invoice = extracted.Invoice
			result.Strategy = extracted.Strategy
			result.Missing = extracted.Missing
			result.NeedsReview = extracted.NeedsReview
		}
	}

	if outputFormat == "table" {
		fmt.Printf("Status: %s %s\nCursor: %s of %s\n\n", out.Status, out.Reason, out.PageCursor, out.ReportedMaxCursor)
		return outputTable(os.Stdout, out.Documents)
	}
	return writeJSON(os.Stdout, out)
}
