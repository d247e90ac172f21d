package cmd

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rezonia/fiscal-ingest/internal/ingestion"
	"github.com/rezonia/fiscal-ingest/internal/server"
)

var (
	serverAddr   string
	serverDebug  bool
	readTimeout  time.Duration
	writeTimeout time.Duration
	pollInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and the background poller",
	Long: `Start an HTTP API server for reviewing imported invoices.

The API provides endpoints for:
  - POST /api/v1/ingestions/:taxpayerId       - Run ingestion now
  - GET  /api/v1/invoices                     - List invoices (status, page, page_size)
  - GET  /api/v1/invoices/stats               - Count invoices per status
  - GET  /api/v1/invoices/:id                 - Show one invoice
  - POST /api/v1/invoices/:id/process         - Create the payable bill
  - POST /api/v1/invoices/:id/ignore          - Ignore with a reason
  - POST /api/v1/invoices/:id/reprocess       - Move back to pending
  - POST /api/v1/invoices/process-pending     - Process every pending invoice
  - POST /api/v1/documents/parse              - Parse one raw document
  - GET  /health                              - Health check
  - GET  /metrics                             - Prometheus metrics

Unless --poll-interval is 0, every active profile is ingested on that interval.

Examples:
  # Start server on default port
  fiscal-ingest serve

  # Start on custom port, polling every 15 minutes
  fiscal-ingest serve --address :9090 --poll-interval 15m

  # Start in debug mode without polling
  fiscal-ingest serve --debug --poll-interval 0`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverAddr, "address", "", "Server listen address (env: FISCAL_HTTP_ADDRESS)")
	serveCmd.Flags().BoolVar(&serverDebug, "debug", false, "Enable debug mode")
	serveCmd.Flags().DurationVar(&readTimeout, "read-timeout", 0, "HTTP read timeout")
	serveCmd.Flags().DurationVar(&writeTimeout, "write-timeout", 0, "HTTP write timeout")
	serveCmd.Flags().DurationVar(&pollInterval, "poll-interval", -1, "Ingestion poll interval, 0 disables polling")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	config := &server.Config{
		Address:      firstString(serverAddr, cfg.HTTP.Address),
		ReadTimeout:  firstDuration(readTimeout, cfg.HTTP.ReadTimeout),
		WriteTimeout: firstDuration(writeTimeout, cfg.HTTP.WriteTimeout),
		Debug:        serverDebug,
	}
	interval := cfg.Ingestion.PollInterval
	if pollInterval >= 0 {
		interval = pollInterval
	}

	srv := server.NewServer(config, server.Deps{
		Store:     a.store,
		Ingestion: a.orchestrator,
		Processor: a.processor,
		Parser:    a.parser,
		Gatherer:  a.registry,
		Log:       log,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if interval > 0 {
		poller := ingestion.NewPoller(a.orchestrator, a.store.Configs, interval, log)
		g.Go(func() error {
			return poller.Run(gctx)
		})
	} else {
		log.Info("background polling disabled")
	}

	err = g.Wait()
	log.Info("shutdown complete", zap.Error(err))
	return err
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstDuration(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
