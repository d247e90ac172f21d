// Package ingestion pulls distributed documents for a taxpayer page by page,
// imports each invoice once and advances the stored cursor after every page.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rezonia/fiscal-ingest/internal/credential"
	"github.com/rezonia/fiscal-ingest/internal/distribution"
	"github.com/rezonia/fiscal-ingest/internal/metrics"
	"github.com/rezonia/fiscal-ingest/internal/model"
	"github.com/rezonia/fiscal-ingest/internal/parser"
	"github.com/rezonia/fiscal-ingest/internal/store"
)

const (
	DefaultMaxPages   = 50
	DefaultRunTimeout = 5 * time.Minute
	DefaultLockTTL    = 10 * time.Minute

	// bound for the bookkeeping writes that must survive a run timeout
	persistTimeout = 10 * time.Second
)

var errLeaseLost = errors.New("run lease lost to another holder")

// Document outcomes, also used as metric labels
const (
	OutcomeImported    = "imported"
	OutcomeDuplicate   = "duplicate"
	OutcomeUnparseable = "unparseable"
	OutcomeEvent       = "event"
)

// ConfigRepository reads profiles and persists cursors
type ConfigRepository interface {
	GetActive(ctx context.Context, taxpayerID string) (*model.IntegrationConfig, error)
	AdvanceCursor(ctx context.Context, id int64, from, to string) error
}

// InvoiceRepository stores imported invoices
type InvoiceRepository interface {
	ExistsByAccessKey(ctx context.Context, key string) (bool, error)
	Insert(ctx context.Context, inv *model.IncomingInvoice) error
}

// Locker hands out per-taxpayer run leases
type Locker interface {
	Acquire(ctx context.Context, taxpayerID, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, taxpayerID, holder string) error
}

// CertificateLoader checks that a profile's certificate is usable
type CertificateLoader interface {
	Load(ctx context.Context, ref string) (*credential.Certificate, error)
}

// DocumentParser turns one distributed document into an invoice
type DocumentParser interface {
	Parse(ctx context.Context, raw []byte, schemaHint string) (*model.ParsedInvoice, error)
}

// Orchestrator runs ingestion for one taxpayer at a time
type Orchestrator struct {
	configs  ConfigRepository
	invoices InvoiceRepository
	locks    Locker
	certs    CertificateLoader
	fetcher  distribution.Fetcher
	parser   DocumentParser

	log        *zap.Logger
	metrics    *metrics.Metrics
	maxPages   int
	runTimeout time.Duration
	lockTTL    time.Duration
	now        func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithMaxPages bounds the number of pages fetched per run
func WithMaxPages(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxPages = n
		}
	}
}

// WithRunTimeout sets the wall clock budget of a run
func WithRunTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.runTimeout = d
		}
	}
}

// WithLockTTL sets how long a run lease lasts if never released
func WithLockTTL(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.lockTTL = d
		}
	}
}

// WithParser replaces the document parser
func WithParser(p DocumentParser) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.parser = p
		}
	}
}

// WithClock sets the clock used for summary timestamps
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(configs ConfigRepository, invoices InvoiceRepository, locks Locker, certs CertificateLoader, fetcher distribution.Fetcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		configs:    configs,
		invoices:   invoices,
		locks:      locks,
		certs:      certs,
		fetcher:    fetcher,
		parser:     parser.NewParser(),
		log:        zap.NewNop(),
		maxPages:   DefaultMaxPages,
		runTimeout: DefaultRunTimeout,
		lockTTL:    DefaultLockTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.Named("ingestion")
	return o
}

// NewFromStore wires an orchestrator on the gorm repositories
func NewFromStore(st *store.Store, certs CertificateLoader, fetcher distribution.Fetcher, opts ...Option) *Orchestrator {
	return NewOrchestrator(st.Configs, st.Invoices, st.Locks, certs, fetcher, opts...)
}

// RunIngestion pulls every new document for taxpayerID. It never returns nil;
// failures are reported through the summary status and error.
func (o *Orchestrator) RunIngestion(ctx context.Context, taxpayerID string) *model.RunSummary {
	summary := &model.RunSummary{
		TaxpayerID: taxpayerID,
		RunID:      uuid.NewString(),
		StartedAt:  o.now(),
	}
	log := o.log.With(zap.String("taxpayer_id", taxpayerID), zap.String("run_id", summary.RunID))

	defer func() {
		summary.FinishedAt = o.now()
		o.metrics.ObserveRun(string(summary.Status), summary.FinishedAt.Sub(summary.StartedAt))

		fields := []zap.Field{
			zap.String("status", string(summary.Status)),
			zap.String("start_cursor", summary.StartCursor),
			zap.String("final_cursor", summary.FinalCursor),
			zap.Int("pages", summary.Pages),
			zap.Int("imported", summary.Imported),
			zap.Int("duplicates", summary.Duplicates),
			zap.Int("unparseable", summary.Unparseable),
			zap.Int("events", summary.Events),
		}
		if summary.Status.Failed() {
			log.Warn("ingestion run failed", append(fields, zap.Error(summary.Err))...)
			return
		}
		log.Info("ingestion run finished", fields...)
	}()

	cfg, err := o.configs.GetActive(ctx, taxpayerID)
	if err != nil {
		if errors.Is(err, model.ErrNotConfigured) {
			summary.Fail(model.RunStatusNotConfigured, model.NewConfigError(taxpayerID, "no active integration profile", err))
			return summary
		}
		summary.Fail(model.RunStatusStorageError, fmt.Errorf("load profile: %w", err))
		return summary
	}
	summary.StartCursor = model.NormalizeCursor(cfg.LastSequenceNumber)
	summary.FinalCursor = summary.StartCursor

	// certificate problems are configuration problems: no network call is made
	if _, err := o.certs.Load(ctx, cfg.CredentialRef); err != nil {
		summary.Fail(model.RunStatusBadCredential, model.NewConfigError(taxpayerID, "credential unavailable", fmt.Errorf("%w: %w", model.ErrBadCredential, err)))
		return summary
	}

	acquired, err := o.locks.Acquire(ctx, taxpayerID, summary.RunID, o.lockTTL)
	if err != nil {
		summary.Fail(model.RunStatusStorageError, fmt.Errorf("acquire run lock: %w", err))
		return summary
	}
	if !acquired {
		summary.Fail(model.RunStatusLocked, model.ErrRunInProgress)
		return summary
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := o.locks.Release(releaseCtx, taxpayerID, summary.RunID); err != nil {
			log.Warn("failed to release run lock", zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	o.pageLoop(runCtx, summary, log)
	return summary
}

func (o *Orchestrator) pageLoop(ctx context.Context, summary *model.RunSummary, log *zap.Logger) {
	for summary.Pages < o.maxPages {
		if err := ctx.Err(); err != nil {
			summary.Fail(model.RunStatusTimeout, fmt.Errorf("run budget exhausted after %d pages: %w", summary.Pages, err))
			return
		}

		if summary.Pages > 0 {
			if err := o.renewLease(ctx, summary); err != nil {
				o.failOnLease(ctx, summary, err)
				return
			}
		}

		// the store is the only source of the cursor
		cfg, err := o.configs.GetActive(ctx, summary.TaxpayerID)
		if err != nil {
			o.failOnStore(ctx, summary, "reload profile", err)
			return
		}
		cursor := model.NormalizeCursor(cfg.LastSequenceNumber)

		page, err := o.fetcher.FetchPage(ctx, cfg, cursor)
		if err != nil {
			o.failOnFetch(ctx, summary, err, log)
			return
		}
		summary.Pages++
		o.metrics.IncPages()

		pageLog := log.With(zap.String("cursor", cursor), zap.String("page_cursor", page.PageCursor))
		pageLog.Debug("page fetched",
			zap.String("status", page.Status),
			zap.Int("documents", len(page.Documents)),
			zap.String("max_cursor", page.ReportedMaxCursor),
		)

		for _, doc := range page.Documents {
			outcome, err := o.importDocument(ctx, cfg, doc, pageLog)
			if err != nil {
				o.failOnStore(ctx, summary, "store invoice", err)
				return
			}
			count(summary, outcome)
			o.metrics.IncDocument(outcome)
		}

		// documents are durable; only now may the cursor move past them
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		err = o.configs.AdvanceCursor(persistCtx, cfg.ID, cursor, page.PageCursor)
		cancel()
		if err != nil {
			summary.Fail(model.RunStatusStorageError, fmt.Errorf("advance cursor to %s: %w", page.PageCursor, err))
			return
		}
		if model.CompareCursor(page.PageCursor, summary.FinalCursor) > 0 {
			summary.FinalCursor = page.PageCursor
		}

		if !page.HasMore() {
			summary.Status = model.RunStatusCompleted
			if summary.Documents() == 0 {
				summary.Status = model.RunStatusCaughtUp
			}
			return
		}
		if model.CompareCursor(page.PageCursor, cursor) <= 0 {
			pageLog.Warn("distribution cursor did not advance, stopping run")
			summary.Status = model.RunStatusCompleted
			return
		}
	}

	summary.Status = model.RunStatusPageLimit
	log.Info("page limit reached", zap.Int("max_pages", o.maxPages))
}

// importDocument stores one document. Only storage failures are returned;
// anything wrong with the document itself is an outcome.
func (o *Orchestrator) importDocument(ctx context.Context, cfg *model.IntegrationConfig, doc distribution.Document, log *zap.Logger) (string, error) {
	log = log.With(zap.String("nsu", doc.SequenceNumber), zap.String("schema", doc.Schema))

	if doc.Err != nil {
		log.Warn("skipping undecodable document", zap.Error(doc.Err))
		return OutcomeUnparseable, nil
	}

	parsed, err := o.parser.Parse(ctx, doc.Payload, doc.Schema)
	if err != nil {
		if errors.Is(err, model.ErrNotInvoice) {
			log.Debug("skipping event document")
			return OutcomeEvent, nil
		}
		log.Warn("skipping unparseable document", zap.Error(err))
		return OutcomeUnparseable, nil
	}
	log = log.With(zap.String("access_key", parsed.AccessKey))

	exists, err := o.invoices.ExistsByAccessKey(ctx, parsed.AccessKey)
	if err != nil {
		return "", err
	}
	if exists {
		log.Debug("duplicate document")
		return OutcomeDuplicate, nil
	}

	inv := &model.IncomingInvoice{
		AccessKey:      parsed.AccessKey,
		InvoiceNumber:  parsed.InvoiceNumber,
		IssuerTaxID:    parsed.IssuerTaxID,
		IssuerName:     parsed.IssuerName,
		TotalValue:     parsed.TotalValue,
		IssueDate:      parsed.IssueDate,
		Schema:         doc.Schema,
		SequenceNumber: doc.SequenceNumber,
		RawPayload:     string(parsed.Raw),
		Status:         model.InvoiceStatusPending,
	}
	if parsed.Partial() {
		note := "partial extraction: missing " + strings.Join(parsed.Missing, ", ")
		inv.Notes = &note
		inv.MissingFields = strings.Join(parsed.Missing, ",")
		log.Warn("importing partially extracted invoice", zap.Strings("missing", parsed.Missing))
	}

	if err := o.invoices.Insert(ctx, inv); err != nil {
		if errors.Is(err, store.ErrDuplicateInvoice) {
			log.Debug("duplicate document detected on insert")
			return OutcomeDuplicate, nil
		}
		return "", err
	}

	log.Info("invoice imported",
		zap.Int64("invoice_id", inv.ID),
		zap.String("strategy", parsed.Strategy),
		zap.String("total", inv.TotalValue.StringFixed(2)),
	)
	return OutcomeImported, nil
}

// renewLease extends the run lease so a long run keeps it past the TTL
func (o *Orchestrator) renewLease(ctx context.Context, summary *model.RunSummary) error {
	held, err := o.locks.Acquire(ctx, summary.TaxpayerID, summary.RunID, o.lockTTL)
	if err != nil {
		return err
	}
	if !held {
		return errLeaseLost
	}
	return nil
}

func (o *Orchestrator) failOnLease(ctx context.Context, summary *model.RunSummary, err error) {
	if errors.Is(err, errLeaseLost) {
		summary.Fail(model.RunStatusLocked, fmt.Errorf("%w: %w", model.ErrRunInProgress, err))
		return
	}
	o.failOnStore(ctx, summary, "renew run lock", err)
}

func count(summary *model.RunSummary, outcome string) {
	switch outcome {
	case OutcomeImported:
		summary.Imported++
	case OutcomeDuplicate:
		summary.Duplicates++
	case OutcomeUnparseable:
		summary.Unparseable++
	case OutcomeEvent:
		summary.Events++
	}
}

func (o *Orchestrator) failOnFetch(ctx context.Context, summary *model.RunSummary, err error, log *zap.Logger) {
	var credErr *credential.CredentialError
	switch {
	case errors.As(err, &credErr):
		summary.Fail(model.RunStatusBadCredential, model.NewConfigError(summary.TaxpayerID, "credential unavailable", fmt.Errorf("%w: %w", model.ErrBadCredential, err)))
	case ctx.Err() != nil:
		summary.Fail(model.RunStatusTimeout, fmt.Errorf("run budget exhausted after %d pages: %w", summary.Pages, err))
	case distribution.IsProtocolError(err):
		// the authority answered; throttling and rejections clear on their own
		log.Warn("distribution service rejected the query", zap.Error(err))
		summary.Fail(model.RunStatusTransportError, err)
	default:
		log.Error("distribution service unreachable", zap.Error(err))
		summary.Fail(model.RunStatusTransportError, err)
	}
}

func (o *Orchestrator) failOnStore(ctx context.Context, summary *model.RunSummary, op string, err error) {
	switch {
	case errors.Is(err, model.ErrNotConfigured):
		summary.Fail(model.RunStatusNotConfigured, model.NewConfigError(summary.TaxpayerID, "profile deactivated during run", err))
	case ctx.Err() != nil:
		summary.Fail(model.RunStatusTimeout, fmt.Errorf("run budget exhausted after %d pages: %w", summary.Pages, ctx.Err()))
	default:
		summary.Fail(model.RunStatusStorageError, fmt.Errorf("%s: %w", op, err))
	}
}
