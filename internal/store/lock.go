package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IngestionLock is a lease on the right to run ingestion for one taxpayer
type IngestionLock struct {
	TaxpayerID string    `gorm:"primaryKey;size:14"`
	Holder     string    `gorm:"size:64;not null"`
	AcquiredAt time.Time `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"index;not null"`
}

// TableName overrides the gorm table name
func (IngestionLock) TableName() string {
	return "ingestion_locks"
}

// LockStore hands out per-taxpayer leases shared by every process using the database
type LockStore struct {
	db  *gorm.DB
	now func() time.Time
}

// Acquire takes the lease for taxpayerID. An expired lease held by someone
// else is taken over. It reports false when a live lease exists.
func (s *LockStore) Acquire(ctx context.Context, taxpayerID, holder string, ttl time.Duration) (bool, error) {
	now := s.now()
	lock := IngestionLock{
		TaxpayerID: taxpayerID,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&lock)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	res = s.db.WithContext(ctx).
		Model(&IngestionLock{}).
		Where("taxpayer_id = ? AND (expires_at < ? OR holder = ?)", taxpayerID, now, holder).
		Updates(map[string]any{
			"holder":      holder,
			"acquired_at": now,
			"expires_at":  lock.ExpiresAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Release drops the lease if holder still owns it
func (s *LockStore) Release(ctx context.Context, taxpayerID, holder string) error {
	return s.db.WithContext(ctx).
		Where("taxpayer_id = ? AND holder = ?", taxpayerID, holder).
		Delete(&IngestionLock{}).Error
}

// Holder returns the current lease of taxpayerID, if any
func (s *LockStore) Holder(ctx context.Context, taxpayerID string) (*IngestionLock, error) {
	var lock IngestionLock
	res := s.db.WithContext(ctx).Where("taxpayer_id = ?", taxpayerID).Limit(1).Find(&lock)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &lock, nil
}
