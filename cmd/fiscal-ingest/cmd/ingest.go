package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rezonia/fiscal-ingest/internal/model"
)

var ingestAll bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [taxpayer-id]",
	Short: "Pull new documents from the distribution service",
	Long: `Run one ingestion for a taxpayer: page through the distribution service
from the stored cursor, import new invoices and advance the cursor.

Examples:
  fiscal-ingest ingest 12345678000190
  fiscal-ingest ingest --all -f table`,
	Args: func(cmd *cobra.Command, args []string) error {
		if ingestAll {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().BoolVar(&ingestAll, "all", false, "Ingest every active profile")
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()

	var taxpayers []string
	if ingestAll {
		profiles, err := a.store.Configs.ListActive(ctx)
		if err != nil {
			return err
		}
		for _, p := range profiles {
			taxpayers = append(taxpayers, p.TaxpayerID)
		}
	} else {
		taxpayers = args
	}

	summaries := make([]*model.RunSummary, 0, len(taxpayers))
	failed := 0
	for _, taxpayer := range taxpayers {
		printVerbose("Ingesting: %s\n", taxpayer)
		summary := a.orchestrator.RunIngestion(ctx, taxpayer)
		summaries = append(summaries, summary)
		if summary.Status.Failed() {
			failed++
		}
	}

	if err := outputSummaries(summaries); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d ingestion runs failed", failed, len(summaries))
	}
	return nil
}

func outputSummaries(summaries []*model.RunSummary) error {
	if outputFormat != "table" {
		return writeJSON(os.Stdout, summaries)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TAXPAYER\tSTATUS\tPAGES\tIMPORTED\tDUPLICATES\tUNPARSEABLE\tEVENTS\tCURSOR\tERROR")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			s.TaxpayerID, s.Status, s.Pages, s.Imported, s.Duplicates, s.Unparseable, s.Events, s.FinalCursor, s.Error)
	}
	return tw.Flush()
}
