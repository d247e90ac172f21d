package processor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/fiscal-ingest/internal/model"
	"github.com/rezonia/fiscal-ingest/internal/processor"
	"github.com/rezonia/fiscal-ingest/internal/store"
)

const keyA = "35150112345678000190550010000001231000000123"

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return store.New(db, node)
}

func newProcessor(st *store.Store, opts ...processor.Option) *processor.Processor {
	opts = append([]processor.Option{processor.WithClock(func() time.Time { return fixedNow })}, opts...)
	return processor.New(st, opts...)
}

func insertInvoice(t *testing.T, st *store.Store, key, issuer, total string) *model.IncomingInvoice {
	t.Helper()
	inv := &model.IncomingInvoice{
		AccessKey:     key,
		InvoiceNumber: "123",
		IssuerTaxID:   issuer,
		IssuerName:    "ACME Distribuidora Ltda",
		TotalValue:    decimal.RequireFromString(total),
		IssueDate:     time.Date(2015, 1, 10, 11, 30, 0, 0, time.UTC),
	}
	require.NoError(t, st.Invoices.Insert(context.Background(), inv))
	return inv
}

func TestProcess_CreatesBill(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := insertInvoice(t, st, keyA, "12345678000190", "1500.00")

	bill, err := newProcessor(st).Process(ctx, inv.ID)
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("1500.00").Equal(bill.Amount))
	assert.True(t, time.Date(2015, 2, 9, 11, 30, 0, 0, time.UTC).Equal(bill.DueDate), "due date is issue date + 30 days, got %s", bill.DueDate)
	assert.Equal(t, keyA, bill.DocumentRef)
	assert.Equal(t, "ACME Distribuidora Ltda", bill.VendorName)
	assert.Contains(t, bill.Description, "123")

	got, err := st.Invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusProcessed, got.Status)
	require.NotNil(t, got.ProcessedAt)
	assert.True(t, fixedNow.Equal(*got.ProcessedAt))
	require.NotNil(t, got.LinkedBillID)
	assert.Equal(t, bill.ID, *got.LinkedBillID)

	vendor, err := st.Vendors.FindByTaxID(ctx, "12345678000190")
	require.NoError(t, err)
	assert.True(t, vendor.Placeholder)
	assert.Equal(t, vendor.ID, bill.VendorID)
}

func TestProcess_UsesExistingVendor(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	vendor, err := st.Vendors.Create(ctx, &model.Vendor{TaxID: "12345678000190", Name: "ACME Registered", Email: "ap@acme.test"})
	require.NoError(t, err)
	inv := insertInvoice(t, st, keyA, "12345678000190", "10.00")

	bill, err := newProcessor(st).Process(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, vendor.ID, bill.VendorID)
	assert.Equal(t, "ACME Registered", bill.VendorName)

	vendors, err := st.Vendors.List(ctx)
	require.NoError(t, err)
	assert.Len(t, vendors, 1)
}

func TestProcess_Twice(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := insertInvoice(t, st, keyA, "12345678000190", "1500.00")
	p := newProcessor(st)

	_, err := p.Process(ctx, inv.ID)
	require.NoError(t, err)

	_, err = p.Process(ctx, inv.ID)
	assert.ErrorIs(t, err, model.ErrAlreadyProcessed)
	var procErr *model.ProcessingError
	require.True(t, errors.As(err, &procErr))
	assert.Equal(t, processor.ActionProcess, procErr.Action)

	bills, err := st.Bills.ListByDocumentRef(ctx, keyA)
	require.NoError(t, err)
	assert.Len(t, bills, 1)
}

func TestProcess_ConcurrentCallsCreateOneBill(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := insertInvoice(t, st, keyA, "12345678000190", "1500.00")
	p := newProcessor(st)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Process(ctx, inv.ID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	bills, err := st.Bills.ListByDocumentRef(ctx, keyA)
	require.NoError(t, err)
	assert.Len(t, bills, 1)
}

func TestProcess_Errors(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := newProcessor(st)

	_, err := p.Process(ctx, 12345)
	assert.ErrorIs(t, err, model.ErrInvoiceNotFound)

	noIssuer := insertInvoice(t, st, keyA, "", "10.00")
	_, err = p.Process(ctx, noIssuer.ID)
	assert.ErrorIs(t, err, model.ErrIncompleteInvoice)

	got, err := st.Invoices.Get(ctx, noIssuer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPending, got.Status, "failed process leaves the invoice pending")
}

func TestProcess_RefusesInvoiceWithoutRecoveredTotal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := newProcessor(st)

	inv := &model.IncomingInvoice{
		AccessKey:     keyA,
		InvoiceNumber: "123",
		IssuerTaxID:   "12345678000190",
		IssuerName:    "ACME Distribuidora Ltda",
		TotalValue:    decimal.Zero,
		IssueDate:     time.Date(2015, 1, 10, 11, 30, 0, 0, time.UTC),
		MissingFields: "total_value,issue_date",
	}
	require.NoError(t, st.Invoices.Insert(ctx, inv))

	bill, err := p.Process(ctx, inv.ID)
	assert.Nil(t, bill)
	assert.ErrorIs(t, err, model.ErrIncompleteInvoice)

	// an ignore and reprocess round trip does not clear the gap
	_, err = p.Ignore(ctx, inv.ID, "checking with supplier")
	require.NoError(t, err)
	_, err = p.Reprocess(ctx, inv.ID)
	require.NoError(t, err)
	_, err = p.Process(ctx, inv.ID)
	assert.ErrorIs(t, err, model.ErrIncompleteInvoice)

	got, err := st.Invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPending, got.Status)
	assert.Nil(t, got.LinkedBillID)

	bills, err := st.Bills.ListByDocumentRef(ctx, keyA)
	require.NoError(t, err)
	assert.Empty(t, bills)
}

func TestReprocess_ThenProcessCreatesSecondBill(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	inv := insertInvoice(t, st, keyA, "12345678000190", "1500.00")
	p := newProcessor(st)

	first, err := p.Process(ctx, inv.ID)
	require.NoError(t, err)

	reset, err := p.Reprocess(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPending, reset.Status)
	assert.Nil(t, reset.ProcessedAt)
	assert.Nil(t, reset.LinkedBillID)

	second, err := p.Process(ctx, inv.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	kept, err := st.Bills.Get(ctx, first.ID)
	require.NoError(t, err, "first bill is left intact")
	assert.True(t, first.Amount.Equal(kept.Amount))

	got, err := st.Invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LinkedBillID)
	assert.Equal(t, second.ID, *got.LinkedBillID)

	bills, err := st.Bills.ListByDocumentRef(ctx, keyA)
	require.NoError(t, err)
	assert.Len(t, bills, 2)
}

func TestIgnore(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := newProcessor(st)

	inv := insertInvoice(t, st, keyA, "12345678000190", "1500.00")
	ignored, err := p.Ignore(ctx, inv.ID, "duplicate of paper invoice")
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusIgnored, ignored.Status)
	require.NotNil(t, ignored.Notes)
	assert.Equal(t, "duplicate of paper invoice", *ignored.Notes)

	_, err = p.Ignore(ctx, inv.ID, "again")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = p.Process(ctx, inv.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	reset, err := p.Reprocess(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPending, reset.Status)
}

func TestIgnore_RejectedWhenProcessed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := newProcessor(st)

	inv := insertInvoice(t, st, keyA, "12345678000190", "1500.00")
	_, err := p.Process(ctx, inv.ID)
	require.NoError(t, err)

	_, err = p.Ignore(ctx, inv.ID, "too late")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = p.Ignore(ctx, 999, "missing")
	assert.ErrorIs(t, err, model.ErrInvoiceNotFound)
}

func TestReprocess_RejectedWhenPending(t *testing.T) {
	st := newTestStore(t)
	inv := insertInvoice(t, st, keyA, "12345678000190", "1500.00")

	_, err := newProcessor(st).Reprocess(context.Background(), inv.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestProcessAllPending_SkipsFailures(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	insertInvoice(t, st, "35240111111111000111550010000000011000000011", "11111111000111", "10.00")
	insertInvoice(t, st, "35240122222222000122550010000000021000000022", "", "20.00")
	insertInvoice(t, st, "35240133333333000133550010000000031000000033", "33333333000133", "30.00")
	ignored := insertInvoice(t, st, "35240144444444000144550010000000041000000044", "44444444000144", "40.00")

	p := newProcessor(st, processor.WithGraceDays(15))
	_, err := p.Ignore(ctx, ignored.ID, "not ours")
	require.NoError(t, err)

	n, err := p.ProcessAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	counts, err := st.Invoices.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.InvoiceStatusProcessed])
	assert.Equal(t, int64(1), counts[model.InvoiceStatusPending])
	assert.Equal(t, int64(1), counts[model.InvoiceStatusIgnored])

	bills, err := st.Bills.ListByDocumentRef(ctx, "35240111111111000111550010000000011000000011")
	require.NoError(t, err)
	require.Len(t, bills, 1)
	assert.True(t, time.Date(2015, 1, 25, 11, 30, 0, 0, time.UTC).Equal(bills[0].DueDate), "got %s", bills[0].DueDate)
}
