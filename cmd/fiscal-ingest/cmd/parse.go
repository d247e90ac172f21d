package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/fiscal-ingest/pkg/invoicelib"
)

var (
	outputFile  string
	timeout     time.Duration
	concurrency int
)

var parseCmd = &cobra.Command{
	Use:   "parse [files...]",
	Short: "Parse NF-e documents from disk",
	Long: `Parse one or more NF-e documents and print the extracted invoice data.

Supported inputs:
  - XML: .xml (full invoices, summaries and events)
  - Gzip: .gz (documents as delivered by the distribution service)

The extraction flow:
  1. Structured decoding of the document schema
  2. Pattern based recovery of key fields when decoding fails

Examples:
  fiscal-ingest parse nfe.xml
  fiscal-ingest parse downloads/*.xml -o results.json
  fiscal-ingest parse downloads/ -f table`,
	Args: cobra.MinimumNArgs(1),
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	parseCmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Timeout for the whole batch")
	parseCmd.Flags().IntVar(&concurrency, "concurrency", 4, "Documents parsed in parallel")
}

func runParse(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no files found to parse")
	}

	printVerbose("Found %d files to parse\n", len(files))

	inputs := make([][]byte, len(files))
	results := make([]*ParseResult, len(files))
	for i, file := range files {
		results[i] = &ParseResult{File: file}
		data, err := os.ReadFile(file)
		if err != nil {
			results[i].Error = fmt.Sprintf("failed to read file: %v", err)
			continue
		}
		inputs[i] = data
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	proc := invoicelib.NewProcessor(invoicelib.PipelineOptions{
		Concurrency:   concurrency,
		ReviewPartial: true,
	})
	extracted, err := proc.ProcessBatch(ctx, inputs)
	if err != nil {
		return err
	}

	for i, r := range extracted {
		result := results[i]
		if result.Error != "" || r == nil {
			continue
		}
		switch {
		case r.Err != nil:
			result.Error = r.Err.Error()
			printVerbose("  %s: %s\n", result.File, result.Error)
		case r.Event:
			result.Event = true
		default:
			result.Invoice = r.Invoice
			result.Strategy = r.Strategy
			result.Missing = r.Missing
			result.NeedsReview = r.NeedsReview
			printVerbose("  %s: strategy %s\n", result.File, result.Strategy)
		}
	}

	return outputResults(results)
}

func collectFiles(args []string) ([]string, error) {
	var files []string

	for _, arg := range args {
		// Check if it's a glob pattern
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", arg, err)
		}

		if len(matches) == 0 {
			return nil, fmt.Errorf("file not found: %s", arg)
		}

		explicit := len(matches) == 1 && matches[0] == arg
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				continue
			}
			switch {
			case info.IsDir():
				walked, err := walkDir(match)
				if err != nil {
					return nil, err
				}
				files = append(files, walked...)
			case explicit || isSupportedFile(match):
				files = append(files, match)
			}
		}
	}

	return files, nil
}

func walkDir(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && isSupportedFile(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func isSupportedFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml", ".gz":
		return true
	default:
		return false
	}
}

func outputResults(results []*ParseResult) error {
	w, closeFn, err := outputWriter(outputFile)
	if err != nil {
		return err
	}
	defer closeFn()

	switch outputFormat {
	case "json":
		return writeJSON(w, results)
	case "table":
		return outputTable(w, results)
	case "csv":
		return outputCSV(w, results)
	default:
		return fmt.Errorf("unsupported output format: %s", outputFormat)
	}
}

func outputTable(w io.Writer, results []*ParseResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tNUMBER\tISSUER\tDATE\tTOTAL\tSTRATEGY\tREVIEW")
	fmt.Fprintln(tw, "----\t------\t------\t----\t-----\t--------\t------")

	for _, r := range results {
		switch {
		case r.Error != "":
			fmt.Fprintf(tw, "%s\tERROR: %s\t\t\t\t\t\n", r.File, r.Error)
		case r.Event:
			fmt.Fprintf(tw, "%s\t(event)\t\t\t\t\t\n", r.File)
		case r.Invoice != nil:
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
				r.File,
				r.Invoice.InvoiceNumber,
				r.Invoice.IssuerTaxID,
				formatDate(r.Invoice.IssueDate),
				r.Invoice.TotalValue.StringFixed(2),
				r.Strategy,
				r.NeedsReview,
			)
		}
	}

	return tw.Flush()
}

func outputCSV(w io.Writer, results []*ParseResult) error {
	fmt.Fprintln(w, "file,access_key,number,issuer_tax_id,issuer_name,date,total_value,strategy,missing,error")

	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(w, "%s,,,,,,,,,%s\n", escapeCSV(r.File), escapeCSV(r.Error))
			continue
		}
		if r.Invoice == nil {
			continue
		}
		fmt.Fprintf(w, "%s,%s,%s,%s,%s,%s,%s,%s,%s,\n",
			escapeCSV(r.File),
			r.Invoice.AccessKey,
			r.Invoice.InvoiceNumber,
			r.Invoice.IssuerTaxID,
			escapeCSV(r.Invoice.IssuerName),
			formatDate(r.Invoice.IssueDate),
			r.Invoice.TotalValue.StringFixed(2),
			r.Strategy,
			escapeCSV(strings.Join(r.Missing, ";")),
		)
	}

	return nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

// ParseResult holds the result of parsing a single file
type ParseResult struct {
	File        string              `json:"file"`
	Invoice     *invoicelib.Invoice `json:"invoice,omitempty"`
	Strategy    string              `json:"strategy,omitempty"`
	Missing     []string            `json:"missing,omitempty"`
	NeedsReview bool                `json:"needs_review,omitempty"`
	Event       bool                `json:"event,omitempty"`
	Error       string              `json:"error,omitempty"`
}
