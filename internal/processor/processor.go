// Package processor turns imported invoices into payable bills and manages
// their review status.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rezonia/fiscal-ingest/internal/decimal"
	"github.com/rezonia/fiscal-ingest/internal/metrics"
	"github.com/rezonia/fiscal-ingest/internal/model"
	"github.com/rezonia/fiscal-ingest/internal/store"
)

// DefaultGraceDays is the payment term added to the issue date
const DefaultGraceDays = 30

// Actions, used in errors and metrics
const (
	ActionProcess   = "process"
	ActionIgnore    = "ignore"
	ActionReprocess = "reprocess"
)

// Processor applies review actions to imported invoices
type Processor struct {
	store     *store.Store
	log       *zap.Logger
	metrics   *metrics.Metrics
	graceDays int
	now       func() time.Time
	locks     *keyedMutex
}

// Option configures a Processor
type Option func(*Processor)

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(p *Processor) {
		if log != nil {
			p.log = log
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// WithGraceDays sets the payment term of created bills
func WithGraceDays(days int) Option {
	return func(p *Processor) {
		if days >= 0 {
			p.graceDays = days
		}
	}
}

// WithClock sets the clock used for processedAt
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// New creates a processor over st
func New(st *store.Store, opts ...Option) *Processor {
	p := &Processor{
		store:     st,
		log:       zap.NewNop(),
		graceDays: DefaultGraceDays,
		now:       func() time.Time { return time.Now().UTC() },
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.Named("processor")
	return p
}

// Process creates the payable bill of a pending invoice and marks it PROCESSED.
// A second call on the same invoice fails with model.ErrAlreadyProcessed and
// creates nothing.
func (p *Processor) Process(ctx context.Context, invoiceID int64) (*model.PayableBill, error) {
	unlock := p.locks.Lock(invoiceID)
	defer unlock()

	var bill *model.PayableBill
	err := p.store.Transaction(ctx, func(tx *store.Store) error {
		inv, err := tx.Invoices.Get(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := checkTransition(inv, model.InvoiceStatusProcessed, ActionProcess); err != nil {
			return err
		}
		if inv.IssuerTaxID == "" {
			return model.NewProcessingError(invoiceID, ActionProcess, "issuer tax id was not recovered", model.ErrIncompleteInvoice)
		}
		if inv.Lacks("total_value") {
			return model.NewProcessingError(invoiceID, ActionProcess, "total value was not recovered", model.ErrIncompleteInvoice)
		}

		// claim first so that a concurrent caller fails before creating anything
		now := p.now()
		claimed, err := tx.Invoices.Transition(ctx, invoiceID, model.InvoiceStatusPending, map[string]any{
			"status":       model.InvoiceStatusProcessed,
			"processed_at": now,
		})
		if err != nil {
			return err
		}
		if !claimed {
			return model.NewProcessingError(invoiceID, ActionProcess, "invoice was processed concurrently", model.ErrAlreadyProcessed)
		}

		vendor, err := p.resolveVendor(ctx, tx, inv)
		if err != nil {
			return err
		}

		bill = &model.PayableBill{
			VendorID:    vendor.ID,
			VendorName:  vendor.Name,
			Amount:      decimal.RoundCents(inv.TotalValue),
			DueDate:     p.dueDate(inv),
			DocumentRef: inv.AccessKey,
			Description: fmt.Sprintf("Invoice %s from %s", inv.InvoiceNumber, vendor.Name),
		}
		if err := tx.Bills.Create(ctx, bill); err != nil {
			return fmt.Errorf("create bill: %w", err)
		}

		_, err = tx.Invoices.Transition(ctx, invoiceID, model.InvoiceStatusProcessed, map[string]any{
			"linked_bill_id": bill.ID,
		})
		return err
	})
	p.metrics.IncProcessing(ActionProcess, err)
	if err != nil {
		return nil, err
	}

	p.log.Info("invoice processed",
		zap.Int64("invoice_id", invoiceID),
		zap.Int64("bill_id", bill.ID),
		zap.String("access_key", bill.DocumentRef),
		zap.String("amount", bill.Amount.StringFixed(2)),
		zap.Time("due_date", bill.DueDate),
	)
	return bill, nil
}

// Ignore marks a pending invoice as IGNORED and records the reason
func (p *Processor) Ignore(ctx context.Context, invoiceID int64, reason string) (*model.IncomingInvoice, error) {
	unlock := p.locks.Lock(invoiceID)
	defer unlock()

	inv, err := p.store.Invoices.Get(ctx, invoiceID)
	if err == nil {
		err = checkTransition(inv, model.InvoiceStatusIgnored, ActionIgnore)
	}
	if err == nil {
		var ok bool
		ok, err = p.store.Invoices.Transition(ctx, invoiceID, model.InvoiceStatusPending, map[string]any{
			"status": model.InvoiceStatusIgnored,
			"notes":  reason,
		})
		if err == nil && !ok {
			err = model.NewProcessingError(invoiceID, ActionIgnore, "invoice changed concurrently", model.ErrInvalidTransition)
		}
	}
	p.metrics.IncProcessing(ActionIgnore, err)
	if err != nil {
		return nil, err
	}

	p.log.Info("invoice ignored", zap.Int64("invoice_id", invoiceID), zap.String("reason", reason))
	return p.store.Invoices.Get(ctx, invoiceID)
}

// Reprocess moves a PROCESSED or IGNORED invoice back to PENDING. The bill
// created by an earlier Process call is kept.
func (p *Processor) Reprocess(ctx context.Context, invoiceID int64) (*model.IncomingInvoice, error) {
	unlock := p.locks.Lock(invoiceID)
	defer unlock()

	inv, err := p.store.Invoices.Get(ctx, invoiceID)
	if err == nil {
		err = checkTransition(inv, model.InvoiceStatusPending, ActionReprocess)
	}
	if err == nil {
		var ok bool
		ok, err = p.store.Invoices.Transition(ctx, invoiceID, inv.Status, map[string]any{
			"status":         model.InvoiceStatusPending,
			"processed_at":   nil,
			"linked_bill_id": nil,
		})
		if err == nil && !ok {
			err = model.NewProcessingError(invoiceID, ActionReprocess, "invoice changed concurrently", model.ErrInvalidTransition)
		}
	}
	p.metrics.IncProcessing(ActionReprocess, err)
	if err != nil {
		return nil, err
	}

	p.log.Info("invoice reset to pending",
		zap.Int64("invoice_id", invoiceID),
		zap.String("previous_status", string(inv.Status)),
	)
	return p.store.Invoices.Get(ctx, invoiceID)
}

// ProcessAllPending processes every pending invoice. A failing invoice is
// logged and skipped; the number of bills created is returned.
func (p *Processor) ProcessAllPending(ctx context.Context) (int, error) {
	ids, err := p.store.Invoices.PendingIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending invoices: %w", err)
	}

	processed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if _, err := p.Process(ctx, id); err != nil {
			p.log.Warn("skipping invoice", zap.Int64("invoice_id", id), zap.Error(err))
			continue
		}
		processed++
	}

	p.log.Info("pending invoices processed",
		zap.Int("pending", len(ids)),
		zap.Int("processed", processed),
		zap.Int("failed", len(ids)-processed),
	)
	return processed, nil
}

// resolveVendor finds the issuer's vendor or registers a placeholder for it
func (p *Processor) resolveVendor(ctx context.Context, tx *store.Store, inv *model.IncomingInvoice) (*model.Vendor, error) {
	vendor, err := tx.Vendors.FindByTaxID(ctx, inv.IssuerTaxID)
	if err == nil {
		return vendor, nil
	}
	if !errors.Is(err, store.ErrVendorNotFound) {
		return nil, err
	}

	name := inv.IssuerName
	if name == "" {
		name = "Vendor " + inv.IssuerTaxID
	}
	vendor, err = tx.Vendors.Create(ctx, &model.Vendor{
		TaxID:       inv.IssuerTaxID,
		Name:        name,
		Placeholder: true,
	})
	if err != nil {
		return nil, model.NewProcessingError(inv.ID, ActionProcess, "vendor creation failed", err)
	}
	p.log.Info("placeholder vendor created", zap.String("tax_id", vendor.TaxID), zap.Int64("vendor_id", vendor.ID))
	return vendor, nil
}

// dueDate is the issue date plus the grace period. Invoices whose issue date
// was not recovered fall back to the import date.
func (p *Processor) dueDate(inv *model.IncomingInvoice) time.Time {
	base := inv.IssueDate
	if base.IsZero() {
		base = inv.ImportedAt
	}
	return base.AddDate(0, 0, p.graceDays)
}

func checkTransition(inv *model.IncomingInvoice, next model.InvoiceStatus, action string) error {
	if inv.Status.CanTransition(next) {
		return nil
	}
	if inv.Status == model.InvoiceStatusProcessed && next == model.InvoiceStatusProcessed {
		return model.NewProcessingError(inv.ID, action, "invoice is already PROCESSED", model.ErrAlreadyProcessed)
	}
	return model.NewProcessingError(inv.ID, action, fmt.Sprintf("cannot move from %s to %s", inv.Status, next), model.ErrInvalidTransition)
}
