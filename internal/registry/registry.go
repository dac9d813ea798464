// Package registry manages product models, their alert phone rosters and the
// system_state pointer to the model currently in production.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/pneumaticqc/internal/db"
	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
	"gorm.io/gorm"
)

// Registry is the Model Registry and System State component.
type Registry struct {
	db *gorm.DB
}

// New returns a Registry backed by db.
func New(gdb *gorm.DB) *Registry {
	return &Registry{db: gdb}
}

// limits rounds a band to the stored precision and checks its order.
func limits(lower, upper float64) (float64, float64, error) {
	lower, upper = models.RoundPeak(lower), models.RoundPeak(upper)
	if lower > upper {
		return 0, 0, qcerr.Invalid("lower limit %.3f exceeds upper limit %.3f", lower, upper)
	}
	return lower, upper, nil
}

// CreateModel registers a new product model.
func (r *Registry) CreateModel(ctx context.Context, name, modelType string, lower, upper float64) (*models.ProductModel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("registry: create model: %w", qcerr.Invalid("name is required"))
	}
	lower, upper, err := limits(lower, upper)
	if err != nil {
		return nil, fmt.Errorf("registry: create model %q: %w", name, err)
	}

	m := models.ProductModel{
		Name:       name,
		ModelType:  strings.TrimSpace(modelType),
		LowerLimit: lower,
		UpperLimit: upper,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if db.IsDuplicate(err) {
			return nil, fmt.Errorf("registry: create model: %w", qcerr.Conflict("model %q already exists", name))
		}
		return nil, fmt.Errorf("registry: create model %q: %w", name, err)
	}
	return &m, nil
}

// GetModel returns the model with the given id.
func (r *Registry) GetModel(ctx context.Context, id uint) (*models.ProductModel, error) {
	var m models.ProductModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, fmt.Errorf("registry: %w", qcerr.NotFound("model %d", id))
		}
		return nil, fmt.Errorf("registry: get model %d: %w", id, err)
	}
	return &m, nil
}

// ListModels returns all models ordered by name.
func (r *Registry) ListModels(ctx context.Context) ([]models.ProductModel, error) {
	var ms []models.ProductModel
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("registry: list models: %w", err)
	}
	return ms, nil
}

// UpdateLimits changes a model's tolerance band. Cycles already recorded keep
// the verdict they were given.
func (r *Registry) UpdateLimits(ctx context.Context, id uint, lower, upper float64) (*models.ProductModel, error) {
	lower, upper, err := limits(lower, upper)
	if err != nil {
		return nil, fmt.Errorf("registry: update limits of model %d: %w", id, err)
	}
	result := r.db.WithContext(ctx).Model(&models.ProductModel{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"lower_limit": lower,
			"upper_limit": upper,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("registry: update limits of model %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero affected rows when values are unchanged.
		if _, err := r.GetModel(ctx, id); err != nil {
			return nil, err
		}
	}
	return r.GetModel(ctx, id)
}

// UpdateModel replaces a model's name, type and limits.
func (r *Registry) UpdateModel(ctx context.Context, id uint, name, modelType string, lower, upper float64) (*models.ProductModel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("registry: update model %d: %w", id, qcerr.Invalid("name is required"))
	}
	lower, upper, err := limits(lower, upper)
	if err != nil {
		return nil, fmt.Errorf("registry: update model %d: %w", id, err)
	}
	if _, err := r.GetModel(ctx, id); err != nil {
		return nil, err
	}
	err = r.db.WithContext(ctx).Model(&models.ProductModel{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"name":        name,
			"model_type":  strings.TrimSpace(modelType),
			"lower_limit": lower,
			"upper_limit": upper,
		}).Error
	if err != nil {
		if db.IsDuplicate(err) {
			return nil, fmt.Errorf("registry: update model %d: %w", id, qcerr.Conflict("model %q already exists", name))
		}
		return nil, fmt.Errorf("registry: update model %d: %w", id, err)
	}
	return r.GetModel(ctx, id)
}

// DeleteModel removes a model and, by cascade, its alert phones. A model
// still referenced by live cycles or by system_state is not deleted.
func (r *Registry) DeleteModel(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.ProductModel
		if err := db.ForUpdate(tx).First(&m, id).Error; err != nil {
			if db.IsNotFound(err) {
				return qcerr.NotFound("model %d", id)
			}
			return err
		}

		var state models.SystemState
		if err := tx.First(&state, models.SystemStateID).Error; err != nil && !db.IsNotFound(err) {
			return err
		}
		if state.ActiveModelID != nil && *state.ActiveModelID == id {
			return qcerr.Conflict("model %q is the active model", m.Name)
		}

		var cycles int64
		if err := tx.Model(&models.Cycle{}).Where("model_id = ?", id).Count(&cycles).Error; err != nil {
			return err
		}
		if cycles > 0 {
			return qcerr.Conflict("model %q is referenced by %d cycle(s)", m.Name, cycles)
		}

		return tx.Delete(&models.ProductModel{}, id).Error
	})
	if err != nil {
		return fmt.Errorf("registry: delete model %d: %w", id, err)
	}
	return nil
}
