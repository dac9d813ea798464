package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
	"gorm.io/gorm"
)

// AddPhone registers a recipient for FAIL alerts of a model.
func (r *Registry) AddPhone(ctx context.Context, modelID uint, name, number string) (*models.AlertPhone, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, fmt.Errorf("registry: add phone: %w", qcerr.Invalid("phone number is required"))
	}
	if _, err := r.GetModel(ctx, modelID); err != nil {
		return nil, err
	}

	p := models.AlertPhone{
		ModelID:     modelID,
		Name:        strings.TrimSpace(name),
		PhoneNumber: number,
	}
	if err := r.db.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, fmt.Errorf("registry: add phone for model %d: %w", modelID, err)
	}
	return &p, nil
}

// UpdatePhone changes a recipient's name and number.
func (r *Registry) UpdatePhone(ctx context.Context, id uint, name, number string) error {
	number = strings.TrimSpace(number)
	if number == "" {
		return fmt.Errorf("registry: update phone %d: %w", id, qcerr.Invalid("phone number is required"))
	}
	result := r.db.WithContext(ctx).Model(&models.AlertPhone{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"name":         strings.TrimSpace(name),
			"phone_number": number,
		})
	if result.Error != nil {
		return fmt.Errorf("registry: update phone %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		var n int64
		if err := r.db.WithContext(ctx).Model(&models.AlertPhone{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return fmt.Errorf("registry: update phone %d: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("registry: %w", qcerr.NotFound("alert phone %d", id))
		}
	}
	return nil
}

// DeletePhone removes a recipient.
func (r *Registry) DeletePhone(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.AlertPhone{}, id)
	if result.Error != nil {
		return fmt.Errorf("registry: delete phone %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("registry: %w", qcerr.NotFound("alert phone %d", id))
	}
	return nil
}

// Phones returns the alert roster of a model.
func (r *Registry) Phones(ctx context.Context, modelID uint) ([]models.AlertPhone, error) {
	return PhonesFor(r.db.WithContext(ctx), modelID)
}

// PhonesFor returns the alert roster of a model, read through tx.
func PhonesFor(tx *gorm.DB, modelID uint) ([]models.AlertPhone, error) {
	var phones []models.AlertPhone
	if err := tx.Where("model_id = ?", modelID).Order("id ASC").Find(&phones).Error; err != nil {
		return nil, fmt.Errorf("registry: phones of model %d: %w", modelID, err)
	}
	return phones, nil
}
