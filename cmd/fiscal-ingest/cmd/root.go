package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rezonia/fiscal-ingest/internal/config"
	"github.com/rezonia/fiscal-ingest/internal/logger"
)

var (
	version = "1.0.0"

	// Global flags
	configFile   string
	verbose      bool
	outputFormat string

	v   = config.New()
	cfg *config.Config
	log = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "fiscal-ingest",
	Short: "Import NF-e documents addressed to a taxpayer",
	Long: `Fiscal Ingest polls the national NF-e distribution service for the
documents issued against a taxpayer, stores the invoices for review and
turns approved invoices into payable bills.

Configuration is read from flags, FISCAL_* environment variables, a .env
file and an optional config.yaml.

Examples:
  # Run the API server with the background poller
  fiscal-ingest serve

  # Register a taxpayer profile
  fiscal-ingest profile set 12345678000190 --credential default --jurisdiction 35

  # Pull new documents once
  fiscal-ingest ingest 12345678000190

  # Parse downloaded documents offline
  fiscal-ingest parse downloads/ -f table`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = log.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default: ./config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	flags.StringVarP(&outputFormat, "format", "f", "json", "Output format (json, csv, table)")
	flags.String("log-level", "", "Log level (env: FISCAL_LOG_LEVEL)")
	flags.String("db-type", "", "Database type: sqlite or postgres (env: FISCAL_DB_TYPE)")
	flags.String("db-dsn", "", "Database DSN (env: FISCAL_DB_DSN)")

	bindFlag(v, "log.level", "log-level")
	bindFlag(v, "db.type", "db-type")
	bindFlag(v, "db.dsn", "db-dsn")
}

func bindFlag(v *viper.Viper, key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

func initConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	cfg = loaded

	built, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	log = built
	return nil
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
