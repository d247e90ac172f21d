package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rezonia/fiscal-ingest/internal/parser"
)

var infoCmd = &cobra.Command{
	Use:   "info [files...]",
	Short: "Show information about NF-e documents",
	Long: `Display information about NF-e documents without full extraction.

Shows:
  - Compression and size
  - Root element and document kind
  - Access key breakdown (jurisdiction, period, issuer, model, series, number)

Examples:
  fiscal-ingest info nfe.xml
  fiscal-ingest info downloads/*.gz`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no files found")
	}

	for _, file := range files {
		printFileInfo(cmd, file)
		fmt.Println()
	}

	return nil
}

func printFileInfo(cmd *cobra.Command, filePath string) {
	fmt.Printf("File: %s\n", filePath)

	data, err := os.ReadFile(filePath)
	if err != nil {
		fmt.Printf("  Error: %v\n", err)
		return
	}
	fmt.Printf("  Size: %d bytes\n", len(data))

	content, err := parser.Decompress(data)
	if err != nil {
		fmt.Printf("  Error: %v\n", err)
		return
	}
	if len(content) != len(data) {
		fmt.Printf("  Compressed: yes (%d bytes inflated)\n", len(content))
	}

	root := parser.RootElement(content)
	fmt.Printf("  Root element: %s\n", root)
	fmt.Printf("  Kind: %s\n", documentKind(content, root))

	if parser.IsEvent(content, "") {
		return
	}

	inv, err := parser.NewParser().ParseContent(cmd.Context(), content, "")
	if err != nil {
		fmt.Printf("  Access key: not recovered (%v)\n", err)
		return
	}

	key := inv.AccessKey
	fmt.Printf("  Access key: %s\n", key)
	fmt.Printf("    Jurisdiction: %s\n", key[0:2])
	fmt.Printf("    Period: 20%s-%s\n", key[2:4], key[4:6])
	fmt.Printf("    Issuer: %s\n", parser.IssuerFromAccessKey(key))
	fmt.Printf("    Model: %s\n", key[20:22])
	fmt.Printf("    Series: %s\n", key[22:25])
	fmt.Printf("    Number: %s\n", parser.NumberFromAccessKey(key))
	fmt.Printf("  Strategy: %s\n", inv.Strategy)
}

func documentKind(content []byte, root string) string {
	switch {
	case parser.IsEvent(content, ""):
		return "event"
	case root == parser.RootSummary:
		return "invoice summary"
	case root == parser.RootInvoiceProc, root == parser.RootInvoice:
		return "full invoice"
	default:
		return "unknown"
	}
}
