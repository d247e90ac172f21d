package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/fiscal-ingest/internal/parser"
	"github.com/rezonia/fiscal-ingest/pkg/invoicelib"
)

var (
	strictValidation bool
)

var validateCmd = &cobra.Command{
	Use:   "validate [files...]",
	Short: "Validate NF-e documents",
	Long: `Validate one or more NF-e documents for completeness and consistency.

Checks performed:
  - Access key present with 44 digits
  - Issuer and number agree with the access key
  - Fields the fallback extraction could not recover
  - Total value present and not negative

Examples:
  fiscal-ingest validate nfe.xml
  fiscal-ingest validate downloads/*.xml --strict`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&strictValidation, "strict", false, "Treat unrecovered fields as errors")
}

func runValidate(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no files found to validate")
	}

	proc := invoicelib.NewDefaultProcessor()
	results := make([]*ValidationResult, 0, len(files))
	allValid := true

	for _, file := range files {
		result := validateFile(cmd.Context(), proc, file)
		results = append(results, result)

		if !result.Valid {
			allValid = false
		}
	}

	if outputFormat == "json" {
		if err := writeJSON(os.Stdout, results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Valid {
				fmt.Printf("✓ %s: VALID\n", r.File)
			} else {
				fmt.Printf("✗ %s: INVALID\n", r.File)
				for _, e := range r.Errors {
					fmt.Printf("  - %s\n", e)
				}
			}
			for _, w := range r.Warnings {
				fmt.Printf("  ⚠ %s\n", w)
			}
		}
	}

	if !allValid {
		return fmt.Errorf("validation failed for some files")
	}

	return nil
}

func validateFile(ctx context.Context, proc *invoicelib.Processor, filePath string) *ValidationResult {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result := &ValidationResult{
		File:     filePath,
		Valid:    true,
		Errors:   []string{},
		Warnings: []string{},
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.fail("failed to read file: %v", err)
		return result
	}

	extracted, err := proc.ProcessBytes(ctx, data, "")
	if err != nil {
		result.fail("parse error: %v", err)
		return result
	}
	if extracted.Event {
		result.Warnings = append(result.Warnings, "event document, nothing to validate")
		return result
	}

	checkInvoice(result, extracted)
	return result
}

func checkInvoice(result *ValidationResult, extracted *invoicelib.ExtractionResult) {
	inv := extracted.Invoice
	if inv == nil {
		result.fail("no invoice data extracted")
		return
	}

	if !parser.ValidAccessKey(inv.AccessKey) {
		result.fail("access key must have %d digits: %q", parser.AccessKeyLength, inv.AccessKey)
		return
	}

	if keyIssuer := parser.IssuerFromAccessKey(inv.AccessKey); inv.IssuerTaxID != "" && keyIssuer != inv.IssuerTaxID {
		result.fail("issuer %s does not match access key issuer %s", inv.IssuerTaxID, keyIssuer)
	}
	if keyNumber := parser.NumberFromAccessKey(inv.AccessKey); inv.InvoiceNumber != "" && keyNumber != inv.InvoiceNumber {
		result.fail("number %s does not match access key number %s", inv.InvoiceNumber, keyNumber)
	}

	for _, field := range extracted.Missing {
		if strictValidation {
			result.fail("missing %s", field)
		} else {
			result.Warnings = append(result.Warnings, fmt.Sprintf("missing %s", field))
		}
	}

	switch {
	case inv.TotalValue.IsNegative():
		result.fail("total value is negative: %s", inv.TotalValue)
	case inv.TotalValue.IsZero():
		result.Warnings = append(result.Warnings, "total value is zero or missing")
	}

	if extracted.Strategy == parser.StrategyFallback {
		result.Warnings = append(result.Warnings, "document did not decode cleanly, fields were recovered by pattern")
	}
}

// ValidationResult holds the result of validating a single file
type ValidationResult struct {
	File     string   `json:"file"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *ValidationResult) fail(format string, args ...interface{}) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}
