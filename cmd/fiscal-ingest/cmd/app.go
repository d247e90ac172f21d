package cmd

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/rezonia/fiscal-ingest/internal/config"
	"github.com/rezonia/fiscal-ingest/internal/credential"
	"github.com/rezonia/fiscal-ingest/internal/distribution"
	"github.com/rezonia/fiscal-ingest/internal/ingestion"
	"github.com/rezonia/fiscal-ingest/internal/metrics"
	"github.com/rezonia/fiscal-ingest/internal/model"
	"github.com/rezonia/fiscal-ingest/internal/parser"
	"github.com/rezonia/fiscal-ingest/internal/processor"
	"github.com/rezonia/fiscal-ingest/internal/store"
)

// app wires the long lived components shared by the commands
type app struct {
	db           *gorm.DB
	store        *store.Store
	registry     *prometheus.Registry
	orchestrator *ingestion.Orchestrator
	processor    *processor.Processor
	parser       *parser.Parser
}

func newApp(cfg *config.Config) (*app, error) {
	db, err := store.Open(store.Config{
		Type:         cfg.DB.Type,
		DSN:          cfg.DB.DSN,
		MaxIdleConns: cfg.DB.MaxIdleConns,
		MaxOpenConns: cfg.DB.MaxOpenConns,
	}, log)
	if err != nil {
		return nil, err
	}

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	st := store.New(db, node)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	certs := credential.NewManager(cfg.CredentialStore(),
		credential.WithLoadTimeout(cfg.Ingestion.CertTimeout),
	)

	clientOpts := []distribution.Option{
		distribution.WithLogger(log),
		distribution.WithTimeout(cfg.Distribution.Timeout),
		distribution.WithRetry(cfg.Distribution.RetryMax, time.Second, 10*time.Second),
	}
	if cfg.Distribution.Endpoint != "" {
		clientOpts = append(clientOpts,
			distribution.WithEndpoint(model.EnvironmentStaging, cfg.Distribution.Endpoint),
			distribution.WithEndpoint(model.EnvironmentProduction, cfg.Distribution.Endpoint),
		)
	}
	fetcher := distribution.NewClient(certs, clientOpts...)

	p := parser.NewParser()
	orch := ingestion.NewFromStore(st, certs, fetcher,
		ingestion.WithLogger(log),
		ingestion.WithMetrics(m),
		ingestion.WithParser(p),
		ingestion.WithMaxPages(cfg.Ingestion.MaxPages),
		ingestion.WithRunTimeout(cfg.Ingestion.RunTimeout),
		ingestion.WithLockTTL(cfg.Ingestion.LockTTL),
	)

	proc := processor.New(st,
		processor.WithLogger(log),
		processor.WithMetrics(m),
		processor.WithGraceDays(cfg.Processing.GraceDays),
	)

	return &app{
		db:           db,
		store:        st,
		registry:     registry,
		orchestrator: orch,
		processor:    proc,
		parser:       p,
	}, nil
}

func (a *app) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
