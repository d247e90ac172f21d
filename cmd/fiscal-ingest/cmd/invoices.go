package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rezonia/fiscal-ingest/internal/model"
	"github.com/rezonia/fiscal-ingest/internal/store"
)

var (
	listStatus   string
	listPage     int
	listPageSize int
	ignoreReason string
)

var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "Review imported invoices",
}

var invoicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List invoices, newest first",
	Args:  cobra.NoArgs,
	RunE:  runInvoicesList,
}

var invoicesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count invoices per status",
	Args:  cobra.NoArgs,
	RunE:  runInvoicesStats,
}

var invoicesProcessCmd = &cobra.Command{
	Use:   "process [invoice-id]",
	Short: "Create the payable bill for a pending invoice",
	Args:  cobra.ExactArgs(1),
	RunE:  runInvoicesProcess,
}

var invoicesIgnoreCmd = &cobra.Command{
	Use:   "ignore [invoice-id]",
	Short: "Mark a pending invoice as ignored",
	Args:  cobra.ExactArgs(1),
	RunE:  runInvoicesIgnore,
}

var invoicesReprocessCmd = &cobra.Command{
	Use:   "reprocess [invoice-id]",
	Short: "Move a processed or ignored invoice back to pending",
	Args:  cobra.ExactArgs(1),
	RunE:  runInvoicesReprocess,
}

var invoicesProcessPendingCmd = &cobra.Command{
	Use:   "process-pending",
	Short: "Process every pending invoice",
	Args:  cobra.NoArgs,
	RunE:  runInvoicesProcessPending,
}

func init() {
	rootCmd.AddCommand(invoicesCmd)
	invoicesCmd.AddCommand(
		invoicesListCmd,
		invoicesStatsCmd,
		invoicesProcessCmd,
		invoicesIgnoreCmd,
		invoicesReprocessCmd,
		invoicesProcessPendingCmd,
	)

	invoicesListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (PENDING, PROCESSED, IGNORED)")
	invoicesListCmd.Flags().IntVar(&listPage, "page", 1, "Page number")
	invoicesListCmd.Flags().IntVar(&listPageSize, "page-size", store.DefaultPageSize, "Page size")

	invoicesIgnoreCmd.Flags().StringVar(&ignoreReason, "reason", "", "Why the invoice is ignored")
	_ = invoicesIgnoreCmd.MarkFlagRequired("reason")
}

func runInvoicesList(cmd *cobra.Command, args []string) error {
	filter := store.InvoiceFilter{Page: listPage, PageSize: listPageSize}
	if listStatus != "" {
		status, err := model.ParseInvoiceStatus(listStatus)
		if err != nil {
			return err
		}
		filter.Status = status
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	page, err := a.store.Invoices.List(cmd.Context(), filter)
	if err != nil {
		return err
	}

	if outputFormat != "table" {
		return writeJSON(os.Stdout, page)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tNUMBER\tISSUER\tTOTAL\tISSUED\tACCESS KEY")
	for _, inv := range page.Items {
		issued := ""
		if !inv.IssueDate.IsZero() {
			issued = inv.IssueDate.Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			inv.ID, inv.Status, inv.InvoiceNumber, inv.IssuerName, inv.TotalValue.StringFixed(2), issued, inv.AccessKey)
	}
	fmt.Fprintf(tw, "\npage %d, %d of %d\n", page.Page, len(page.Items), page.Total)
	return tw.Flush()
}

func runInvoicesStats(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	counts, err := a.store.Invoices.CountByStatus(cmd.Context())
	if err != nil {
		return err
	}

	if outputFormat != "table" {
		return writeJSON(os.Stdout, counts)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tCOUNT")
	for _, status := range model.InvoiceStatuses {
		fmt.Fprintf(tw, "%s\t%d\n", status, counts[status])
	}
	return tw.Flush()
}

func runInvoicesProcess(cmd *cobra.Command, args []string) error {
	id, err := parseInvoiceID(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	bill, err := a.processor.Process(cmd.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, bill)
}

func runInvoicesIgnore(cmd *cobra.Command, args []string) error {
	id, err := parseInvoiceID(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	inv, err := a.processor.Ignore(cmd.Context(), id, ignoreReason)
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, inv)
}

func runInvoicesReprocess(cmd *cobra.Command, args []string) error {
	id, err := parseInvoiceID(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	inv, err := a.processor.Reprocess(cmd.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, inv)
}

func runInvoicesProcessPending(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.processor.ProcessAllPending(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Processed %d invoices\n", n)
	return nil
}

func parseInvoiceID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid invoice id: %s", s)
	}
	return id, nil
}
