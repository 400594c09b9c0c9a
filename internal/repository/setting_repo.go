package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/didware/did-engine/internal/domain"
)

type SettingRepository interface {
	GetAll(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, key string, value string) error
}

type GormSettingRepo struct {
	db *gorm.DB
}

var _ SettingRepository = (*GormSettingRepo)(nil)

func NewGormSettingRepo(db *gorm.DB) *GormSettingRepo {
	return &GormSettingRepo{db: db}
}

func (r *GormSettingRepo) GetAll(ctx context.Context) (map[string]string, error) {
	var models []SettingModel
	if err := r.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}

	settings := make(map[string]string, len(models))
	for _, model := range models {
		settings[model.Key] = model.Value
	}
	return settings, nil
}

func (r *GormSettingRepo) Save(ctx context.Context, key string, value string) error {
	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" {
		return fmt.Errorf("%w: setting key is required", domain.ErrValidation)
	}

	model := SettingModel{Key: trimmedKey, Value: value}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&model).Error
}
