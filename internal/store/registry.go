package store

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rezonia/fiscal-ingest/internal/model"
)

// VendorRegistry persists vendors keyed by tax id
type VendorRegistry struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time
}

// FindByTaxID returns the vendor registered under taxID
func (r *VendorRegistry) FindByTaxID(ctx context.Context, taxID string) (*model.Vendor, error) {
	var v model.Vendor
	err := r.db.WithContext(ctx).Where("tax_id = ?", taxID).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVendorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Create registers a vendor; an existing tax id is left untouched and
// the stored row is returned instead.
func (r *VendorRegistry) Create(ctx context.Context, v *model.Vendor) (*model.Vendor, error) {
	if v.ID == 0 {
		v.ID = r.node.Generate().Int64()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = r.now()
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tax_id"}}, DoNothing: true}).
		Create(v)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return v, nil
	}
	return r.FindByTaxID(ctx, v.TaxID)
}

// List returns every vendor ordered by name
func (r *VendorRegistry) List(ctx context.Context) ([]model.Vendor, error) {
	var vendors []model.Vendor
	err := r.db.WithContext(ctx).Order("name, tax_id").Find(&vendors).Error
	return vendors, err
}

// BillRegistry persists payable bills
type BillRegistry struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time
}

// Create stores a new bill
func (r *BillRegistry) Create(ctx context.Context, b *model.PayableBill) error {
	if b.ID == 0 {
		b.ID = r.node.Generate().Int64()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = r.now()
	}
	return r.db.WithContext(ctx).Create(b).Error
}

// Get loads one bill
func (r *BillRegistry) Get(ctx context.Context, id int64) (*model.PayableBill, error) {
	var b model.PayableBill
	err := r.db.WithContext(ctx).First(&b, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBillNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListByDocumentRef returns the bills created from one access key, oldest first
func (r *BillRegistry) ListByDocumentRef(ctx context.Context, ref string) ([]model.PayableBill, error) {
	var bills []model.PayableBill
	err := r.db.WithContext(ctx).
		Where("document_ref = ?", ref).
		Order("created_at, id").
		Find(&bills).Error
	return bills, err
}
