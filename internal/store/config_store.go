package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/rezonia/fiscal-ingest/internal/model"
)

// ConfigStore persists integration profiles and their cursors
type ConfigStore struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time
}

// GetActive returns the active profile of a taxpayer
func (s *ConfigStore) GetActive(ctx context.Context, taxpayerID string) (*model.IntegrationConfig, error) {
	var cfg model.IntegrationConfig
	err := s.db.WithContext(ctx).
		Where("taxpayer_id = ? AND active = ?", taxpayerID, true).
		Order("updated_at DESC").
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListActive returns every active profile
func (s *ConfigStore) ListActive(ctx context.Context) ([]model.IntegrationConfig, error) {
	var cfgs []model.IntegrationConfig
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("taxpayer_id").
		Find(&cfgs).Error
	return cfgs, err
}

// Upsert creates or updates the single active profile of a taxpayer.
// Any other active row for the same taxpayer is deactivated. The cursor of an
// existing profile is kept; a new profile starts at the initial cursor.
func (s *ConfigStore) Upsert(ctx context.Context, in model.IntegrationConfig) (*model.IntegrationConfig, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var out model.IntegrationConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []model.IntegrationConfig
		if err := tx.Where("taxpayer_id = ?", in.TaxpayerID).
			Order("active DESC, updated_at DESC").
			Find(&rows).Error; err != nil {
			return err
		}

		now := s.now()
		if len(rows) == 0 {
			out = in
			out.ID = s.node.Generate().Int64()
			out.LastSequenceNumber = model.InitialCursor
			out.CreatedAt = now
			out.UpdatedAt = now
			return tx.Create(&out).Error
		}

		out = rows[0]
		out.CredentialRef = in.CredentialRef
		out.Jurisdiction = in.Jurisdiction
		out.Environment = in.Environment
		out.Active = in.Active
		out.UpdatedAt = now
		if err := tx.Model(&model.IntegrationConfig{}).
			Where("id = ?", out.ID).
			Updates(map[string]any{
				"credential_ref": out.CredentialRef,
				"jurisdiction":   out.Jurisdiction,
				"environment":    out.Environment,
				"active":         out.Active,
				"updated_at":     now,
			}).Error; err != nil {
			return err
		}

		for _, other := range rows[1:] {
			if !other.Active {
				continue
			}
			if err := tx.Model(&model.IntegrationConfig{}).
				Where("id = ?", other.ID).
				Updates(map[string]any{"active": false, "updated_at": now}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AdvanceCursor moves a profile's cursor from `from` to `to`. Moving
// backwards or sideways is a no-op. The update only applies while the stored
// cursor still equals `from`.
func (s *ConfigStore) AdvanceCursor(ctx context.Context, id int64, from, to string) error {
	if !model.ValidCursor(to) {
		return model.NewValidationError("cursor", to, "digits", "cursor must be numeric")
	}
	from, to = model.NormalizeCursor(from), model.NormalizeCursor(to)
	if model.CompareCursor(to, from) <= 0 {
		return nil
	}

	res := s.db.WithContext(ctx).
		Model(&model.IntegrationConfig{}).
		Where("id = ? AND last_sequence_number = ?", id, from).
		Updates(map[string]any{"last_sequence_number": to, "updated_at": s.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var current model.IntegrationConfig
	if err := s.db.WithContext(ctx).Select("last_sequence_number").First(&current, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.ErrNotConfigured
		}
		return err
	}
	if model.CompareCursor(current.LastSequenceNumber, to) >= 0 {
		return nil
	}
	return fmt.Errorf("%w: expected %s, found %s", ErrCursorConflict, from, current.LastSequenceNumber)
}

// ResetCursor sets the cursor of the active profile unconditionally.
// This is an administrative action; ingestion never moves a cursor back.
func (s *ConfigStore) ResetCursor(ctx context.Context, taxpayerID, cursor string) error {
	if !model.ValidCursor(cursor) {
		return model.NewValidationError("cursor", cursor, "digits", "cursor must be numeric")
	}
	res := s.db.WithContext(ctx).
		Model(&model.IntegrationConfig{}).
		Where("taxpayer_id = ? AND active = ?", taxpayerID, true).
		Updates(map[string]any{"last_sequence_number": model.NormalizeCursor(cursor), "updated_at": s.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrNotConfigured
	}
	return nil
}
