package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rezonia/fiscal-ingest/internal/model"
)

var (
	profileCredential   string
	profileJurisdiction string
	profileEnvironment  string
	profileInactive     bool
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage taxpayer integration profiles",
}

var profileSetCmd = &cobra.Command{
	Use:   "set [taxpayer-id]",
	Short: "Create or update the active profile of a taxpayer",
	Long: `Create or update the active profile of a taxpayer. The stored cursor is
kept; use reset-cursor to move it.

Examples:
  fiscal-ingest profile set 12345678000190 --credential default --jurisdiction 35
  fiscal-ingest profile set 12345678000190 --credential acme --jurisdiction 35 --environment production`,
	Args: cobra.ExactArgs(1),
	RunE: runProfileSet,
}

var profileShowCmd = &cobra.Command{
	Use:   "show [taxpayer-id]",
	Short: "Show the active profile of a taxpayer",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileShow,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active profiles",
	Args:  cobra.NoArgs,
	RunE:  runProfileList,
}

var profileResetCursorCmd = &cobra.Command{
	Use:   "reset-cursor [taxpayer-id] [cursor]",
	Short: "Move the stored cursor, e.g. back to 0 for a full reload",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runProfileResetCursor,
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd, profileShowCmd, profileListCmd, profileResetCursorCmd)

	profileSetCmd.Flags().StringVar(&profileCredential, "credential", "default", "Credential reference")
	profileSetCmd.Flags().StringVar(&profileJurisdiction, "jurisdiction", "", "Two digit jurisdiction code of the taxpayer")
	profileSetCmd.Flags().StringVar(&profileEnvironment, "environment", "staging", "Authority environment (staging, production)")
	profileSetCmd.Flags().BoolVar(&profileInactive, "inactive", false, "Store the profile as inactive")
	_ = profileSetCmd.MarkFlagRequired("jurisdiction")
}

func runProfileSet(cmd *cobra.Command, args []string) error {
	env, err := model.ParseEnvironment(profileEnvironment)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	saved, err := a.store.Configs.Upsert(cmd.Context(), model.IntegrationConfig{
		TaxpayerID:    args[0],
		CredentialRef: profileCredential,
		Jurisdiction:  profileJurisdiction,
		Environment:   env,
		Active:        !profileInactive,
	})
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, saved)
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	profile, err := a.store.Configs.GetActive(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, profile)
}

func runProfileList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	profiles, err := a.store.Configs.ListActive(cmd.Context())
	if err != nil {
		return err
	}

	if outputFormat != "table" {
		return writeJSON(os.Stdout, profiles)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TAXPAYER\tENVIRONMENT\tJURISDICTION\tCREDENTIAL\tCURSOR")
	for _, p := range profiles {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.TaxpayerID, p.Environment, p.Jurisdiction, p.CredentialRef, p.LastSequenceNumber)
	}
	return tw.Flush()
}

func runProfileResetCursor(cmd *cobra.Command, args []string) error {
	cursor := model.InitialCursor
	if len(args) == 2 {
		cursor = args[1]
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.Configs.ResetCursor(cmd.Context(), args[0], cursor); err != nil {
		return err
	}
	fmt.Printf("Cursor of %s set to %s\n", args[0], model.NormalizeCursor(cursor))
	return nil
}
