package store

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/rezonia/fiscal-ingest/internal/model"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 250
)

// InvoiceFilter narrows an invoice listing
type InvoiceFilter struct {
	Status   model.InvoiceStatus
	Page     int
	PageSize int
}

func (f *InvoiceFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
}

// InvoicePage is one page of a listing
type InvoicePage struct {
	Items    []model.IncomingInvoice `json:"items"`
	Total    int64                   `json:"total"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
	HasMore  bool                    `json:"has_more"`
}

// InvoiceStore persists imported invoices
type InvoiceStore struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time
}

// ExistsByAccessKey reports whether an invoice with key was already imported
func (s *InvoiceStore) ExistsByAccessKey(ctx context.Context, key string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.IncomingInvoice{}).
		Where("access_key = ?", key).
		Count(&count).Error
	return count > 0, err
}

// Insert stores a new invoice. A second insert of the same access key
// returns ErrDuplicateInvoice.
func (s *InvoiceStore) Insert(ctx context.Context, inv *model.IncomingInvoice) error {
	if inv.ID == 0 {
		inv.ID = s.node.Generate().Int64()
	}
	if inv.Status == "" {
		inv.Status = model.InvoiceStatusPending
	}
	if inv.ImportedAt.IsZero() {
		inv.ImportedAt = s.now()
	}

	if err := s.db.WithContext(ctx).Create(inv).Error; err != nil {
		if IsDuplicateKeyErr(err) {
			return ErrDuplicateInvoice
		}
		return err
	}
	return nil
}

// Get loads one invoice
func (s *InvoiceStore) Get(ctx context.Context, id int64) (*model.IncomingInvoice, error) {
	var inv model.IncomingInvoice
	err := s.db.WithContext(ctx).First(&inv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetByAccessKey loads one invoice by its access key
func (s *InvoiceStore) GetByAccessKey(ctx context.Context, key string) (*model.IncomingInvoice, error) {
	var inv model.IncomingInvoice
	err := s.db.WithContext(ctx).Where("access_key = ?", key).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// List returns invoices newest first, optionally filtered by status
func (s *InvoiceStore) List(ctx context.Context, f InvoiceFilter) (*InvoicePage, error) {
	f.normalize()

	q := s.db.WithContext(ctx).Model(&model.IncomingInvoice{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}

	items := make([]model.IncomingInvoice, 0, f.PageSize)
	if err := q.Order("imported_at DESC, id DESC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&items).Error; err != nil {
		return nil, err
	}

	return &InvoicePage{
		Items:    items,
		Total:    total,
		Page:     f.Page,
		PageSize: f.PageSize,
		HasMore:  int64(f.Page*f.PageSize) < total,
	}, nil
}

// PendingIDs returns the ids of pending invoices in import order
func (s *InvoiceStore) PendingIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&model.IncomingInvoice{}).
		Where("status = ?", model.InvoiceStatusPending).
		Order("imported_at, id").
		Pluck("id", &ids).Error
	return ids, err
}

// CountByStatus returns the number of invoices in each status.
// Every known status is present in the result.
func (s *InvoiceStore) CountByStatus(ctx context.Context) (map[model.InvoiceStatus]int64, error) {
	var rows []struct {
		Status model.InvoiceStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).
		Model(&model.IncomingInvoice{}).
		Select("status, count(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[model.InvoiceStatus]int64, len(model.InvoiceStatuses))
	for _, st := range model.InvoiceStatuses {
		counts[st] = 0
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// Transition moves an invoice out of status `from` and applies fields.
// It reports false when the invoice was not in `from`, which makes the
// check and the write a single atomic step.
func (s *InvoiceStore) Transition(ctx context.Context, id int64, from model.InvoiceStatus, fields map[string]any) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.IncomingInvoice{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
