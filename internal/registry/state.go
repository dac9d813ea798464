package registry

import (
	"context"
	"fmt"

	"github.com/zulandar/pneumaticqc/internal/db"
	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
	"gorm.io/gorm"
)

// ActiveModel returns the model system_state points at, read through tx so
// callers can take it inside their own transaction.
func ActiveModel(tx *gorm.DB) (*models.ProductModel, error) {
	var state models.SystemState
	if err := tx.Preload("ActiveModel").First(&state, models.SystemStateID).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, fmt.Errorf("system_state row missing: %w", qcerr.ErrNoActiveModel)
		}
		return nil, err
	}
	if state.ActiveModelID == nil || state.ActiveModel == nil {
		return nil, qcerr.ErrNoActiveModel
	}
	return state.ActiveModel, nil
}

// GetActiveModel returns the model currently in production.
func (r *Registry) GetActiveModel(ctx context.Context) (*models.ProductModel, error) {
	m, err := ActiveModel(r.db.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("registry: active model: %w", err)
	}
	return m, nil
}

// SetActiveModel switches the line to the given model.
func (r *Registry) SetActiveModel(ctx context.Context, id uint) (*models.ProductModel, error) {
	var m models.ProductModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&m, id).Error; err != nil {
			if db.IsNotFound(err) {
				return qcerr.NotFound("model %d", id)
			}
			return err
		}
		return setActive(tx, &id)
	})
	if err != nil {
		return nil, fmt.Errorf("registry: set active model: %w", err)
	}
	return &m, nil
}

// ClearActiveModel leaves the line with no active model. Recording is
// refused until a model is activated again.
func (r *Registry) ClearActiveModel(ctx context.Context) error {
	if err := setActive(r.db.WithContext(ctx), nil); err != nil {
		return fmt.Errorf("registry: clear active model: %w", err)
	}
	return nil
}

func setActive(tx *gorm.DB, id *uint) error {
	result := tx.Model(&models.SystemState{}).Where("id = ?", models.SystemStateID).
		Update("active_model_id", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Recreate a missing singleton rather than silently dropping the switch.
		if err := db.SeedSystemState(tx); err != nil {
			return err
		}
		return tx.Model(&models.SystemState{}).Where("id = ?", models.SystemStateID).
			Update("active_model_id", id).Error
	}
	return nil
}
