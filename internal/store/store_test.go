package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/fiscal-ingest/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return New(db, node)
}

func activeProfile() model.IntegrationConfig {
	return model.IntegrationConfig{
		TaxpayerID:    "12345678000190",
		CredentialRef: "main",
		Jurisdiction:  "35",
		Environment:   model.EnvironmentStaging,
		Active:        true,
	}
}

func TestConfigStore_UpsertAndGetActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Configs.GetActive(ctx, "12345678000190")
	assert.ErrorIs(t, err, model.ErrNotConfigured)

	created, err := s.Configs.Upsert(ctx, activeProfile())
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, model.InitialCursor, created.LastSequenceNumber)

	require.NoError(t, s.Configs.AdvanceCursor(ctx, created.ID, "0", "120"))

	update := activeProfile()
	update.CredentialRef = "renewed"
	update.Environment = model.EnvironmentProduction
	updated, err := s.Configs.Upsert(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	got, err := s.Configs.GetActive(ctx, "12345678000190")
	require.NoError(t, err)
	assert.Equal(t, "renewed", got.CredentialRef)
	assert.Equal(t, model.EnvironmentProduction, got.Environment)
	assert.Equal(t, "120", got.LastSequenceNumber, "upsert keeps the cursor")

	active, err := s.Configs.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestConfigStore_UpsertValidates(t *testing.T) {
	s := newTestStore(t)

	bad := activeProfile()
	bad.TaxpayerID = "123"
	_, err := s.Configs.Upsert(context.Background(), bad)

	var vErr *model.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "taxpayer_id", vErr.Field)
}

func TestConfigStore_InactiveProfileIsNotConfigured(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := activeProfile()
	p.Active = false
	_, err := s.Configs.Upsert(ctx, p)
	require.NoError(t, err)

	_, err = s.Configs.GetActive(ctx, p.TaxpayerID)
	assert.ErrorIs(t, err, model.ErrNotConfigured)
}

func TestConfigStore_AdvanceCursorIsForwardOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg, err := s.Configs.Upsert(ctx, activeProfile())
	require.NoError(t, err)

	require.NoError(t, s.Configs.AdvanceCursor(ctx, cfg.ID, "0", "000000000000120"))
	require.NoError(t, s.Configs.AdvanceCursor(ctx, cfg.ID, "120", "99"))
	require.NoError(t, s.Configs.AdvanceCursor(ctx, cfg.ID, "120", "120"))

	got, err := s.Configs.GetActive(ctx, cfg.TaxpayerID)
	require.NoError(t, err)
	assert.Equal(t, "120", got.LastSequenceNumber)

	// stale caller whose target was already passed
	require.NoError(t, s.Configs.AdvanceCursor(ctx, cfg.ID, "0", "100"))

	// stale caller trying to go past the stored cursor from an old base
	err = s.Configs.AdvanceCursor(ctx, cfg.ID, "50", "200")
	assert.ErrorIs(t, err, ErrCursorConflict)

	got, err = s.Configs.GetActive(ctx, cfg.TaxpayerID)
	require.NoError(t, err)
	assert.Equal(t, "120", got.LastSequenceNumber)
}

func TestConfigStore_AdvanceCursorRejectsNonNumeric(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg, err := s.Configs.Upsert(ctx, activeProfile())
	require.NoError(t, err)
	require.NoError(t, s.Configs.AdvanceCursor(ctx, cfg.ID, "0", "120"))

	for _, to := range []string{"ABC", "", "12a"} {
		err := s.Configs.AdvanceCursor(ctx, cfg.ID, "120", to)

		var vErr *model.ValidationError
		require.True(t, errors.As(err, &vErr), "cursor %q", to)
		assert.Equal(t, "cursor", vErr.Field)
	}

	got, err := s.Configs.GetActive(ctx, cfg.TaxpayerID)
	require.NoError(t, err)
	assert.Equal(t, "120", got.LastSequenceNumber)
}

func TestConfigStore_ResetCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg, err := s.Configs.Upsert(ctx, activeProfile())
	require.NoError(t, err)
	require.NoError(t, s.Configs.AdvanceCursor(ctx, cfg.ID, "0", "500"))

	require.NoError(t, s.Configs.ResetCursor(ctx, cfg.TaxpayerID, "000000000000010"))
	got, err := s.Configs.GetActive(ctx, cfg.TaxpayerID)
	require.NoError(t, err)
	assert.Equal(t, "10", got.LastSequenceNumber)

	assert.Error(t, s.Configs.ResetCursor(ctx, cfg.TaxpayerID, "abc"))
	assert.ErrorIs(t, s.Configs.ResetCursor(ctx, "99999999000199", "0"), model.ErrNotConfigured)
}

func newInvoice(key string) *model.IncomingInvoice {
	return &model.IncomingInvoice{
		AccessKey:     key,
		InvoiceNumber: "123",
		IssuerTaxID:   "12345678000190",
		IssuerName:    "ACME",
		TotalValue:    decimal.RequireFromString("1500.00"),
		IssueDate:     time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestInvoiceStore_InsertDetectsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "35150112345678000190550010000001231000000123"

	exists, err := s.Invoices.ExistsByAccessKey(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	inv := newInvoice(key)
	require.NoError(t, s.Invoices.Insert(ctx, inv))
	assert.NotZero(t, inv.ID)
	assert.Equal(t, model.InvoiceStatusPending, inv.Status)
	assert.False(t, inv.ImportedAt.IsZero())

	exists, err = s.Invoices.ExistsByAccessKey(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	err = s.Invoices.Insert(ctx, newInvoice(key))
	assert.ErrorIs(t, err, ErrDuplicateInvoice)

	got, err := s.Invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1500").Equal(got.TotalValue))
	assert.Equal(t, key, got.AccessKey)

	byKey, err := s.Invoices.GetByAccessKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, byKey.ID)

	_, err = s.Invoices.Get(ctx, 42)
	assert.ErrorIs(t, err, model.ErrInvoiceNotFound)
}

func TestInvoiceStore_ListAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keys := []string{
		"35240111111111000111550010000000011000000011",
		"35240111111111000111550010000000021000000022",
		"35240111111111000111550010000000031000000033",
	}
	var ids []int64
	for i, k := range keys {
		inv := newInvoice(k)
		inv.ImportedAt = time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC)
		require.NoError(t, s.Invoices.Insert(ctx, inv))
		ids = append(ids, inv.ID)
	}

	ok, err := s.Invoices.Transition(ctx, ids[0], model.InvoiceStatusPending, map[string]any{"status": model.InvoiceStatusIgnored})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Invoices.Transition(ctx, ids[0], model.InvoiceStatusPending, map[string]any{"status": model.InvoiceStatusProcessed})
	require.NoError(t, err)
	assert.False(t, ok, "transition from a status the invoice is not in")

	page, err := s.Invoices.List(ctx, InvoiceFilter{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Items, 2)
	assert.Equal(t, ids[2], page.Items[0].ID, "newest first")

	page, err = s.Invoices.List(ctx, InvoiceFilter{Status: model.InvoiceStatusPending})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, DefaultPageSize, page.PageSize)
	assert.False(t, page.HasMore)

	pending, err := s.Invoices.PendingIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[1], ids[2]}, pending)

	counts, err := s.Invoices.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.InvoiceStatusPending])
	assert.Equal(t, int64(1), counts[model.InvoiceStatusIgnored])
	assert.Equal(t, int64(0), counts[model.InvoiceStatusProcessed])
}

func TestVendorRegistry_CreateIsIdempotentPerTaxID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Vendors.FindByTaxID(ctx, "12345678000190")
	assert.ErrorIs(t, err, ErrVendorNotFound)

	first, err := s.Vendors.Create(ctx, &model.Vendor{TaxID: "12345678000190", Name: "ACME", Placeholder: true})
	require.NoError(t, err)

	second, err := s.Vendors.Create(ctx, &model.Vendor{TaxID: "12345678000190", Name: "Other"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "ACME", second.Name)

	vendors, err := s.Vendors.List(ctx)
	require.NoError(t, err)
	assert.Len(t, vendors, 1)
}

func TestBillRegistry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := &model.PayableBill{
		VendorID:    1,
		VendorName:  "ACME",
		Amount:      decimal.RequireFromString("89.90"),
		DueDate:     time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC),
		DocumentRef: "35240198765432000110550010000004561000004566",
	}
	require.NoError(t, s.Bills.Create(ctx, b))
	assert.NotZero(t, b.ID)

	got, err := s.Bills.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("89.90").Equal(got.Amount))

	bills, err := s.Bills.ListByDocumentRef(ctx, b.DocumentRef)
	require.NoError(t, err)
	assert.Len(t, bills, 1)

	_, err = s.Bills.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrBillNotFound)
}

func TestTransactionRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(tx *Store) error {
		if err := tx.Invoices.Insert(ctx, newInvoice("35240111111111000111550010000000011000000011")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	exists, err := s.Invoices.ExistsByAccessKey(ctx, "35240111111111000111550010000000011000000011")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLockStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	locks := s.WithClock(func() time.Time { return now }).Locks

	ok, err := locks.Acquire(ctx, "12345678000190", "run-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = locks.Acquire(ctx, "12345678000190", "run-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "live lease blocks another holder")

	ok, err = locks.Acquire(ctx, "99999999000199", "run-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "leases are per taxpayer")

	now = now.Add(2 * time.Minute)
	ok, err = locks.Acquire(ctx, "12345678000190", "run-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is taken over")

	// the previous holder no longer owns it
	require.NoError(t, locks.Release(ctx, "12345678000190", "run-a"))
	holder, err := locks.Holder(ctx, "12345678000190")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "run-b", holder.Holder)

	require.NoError(t, locks.Release(ctx, "12345678000190", "run-b"))
	holder, err = locks.Holder(ctx, "12345678000190")
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: incoming_invoices.access_key")))
	assert.True(t, IsDuplicateKeyErr(errors.New(`ERROR: duplicate key value violates unique constraint "idx_access_key"`)))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
}

func TestDialect(t *testing.T) {
	d, err := Dialect(Config{Type: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())

	_, err = Dialect(Config{Type: "postgres"})
	assert.Error(t, err)

	_, err = Dialect(Config{Type: "oracle"})
	assert.Error(t, err)
}
