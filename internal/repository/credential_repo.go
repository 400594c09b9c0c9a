package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/didware/did-engine/internal/domain"
)

// CredentialRecord is the repository view of one stored vendor credential.
type CredentialRecord struct {
	Name                      string
	APIKey                    string
	EncryptedSecret           string
	APIKeyHint                string
	DefaultVoiceCallbackType  string
	DefaultVoiceCallbackValue string
}

type CredentialRepository interface {
	GetByName(ctx context.Context, name string) (*CredentialRecord, error)
	// FindByGroupID matches the "[<groupid>]" marker embedded in sub-account
	// names, e.g. "GroupId [acme-east]".
	FindByGroupID(ctx context.Context, groupID string) (*CredentialRecord, error)
	List(ctx context.Context) ([]CredentialRecord, error)
	Save(ctx context.Context, record *CredentialRecord) error
	Delete(ctx context.Context, name string) error
	// ReplaceEncryptedSecrets swaps the ciphertext of every named credential in
	// one transaction; used by vault re-keying.
	ReplaceEncryptedSecrets(ctx context.Context, secrets map[string]string) error
}

type GormCredentialRepo struct {
	db *gorm.DB
}

var _ CredentialRepository = (*GormCredentialRepo)(nil)

func NewGormCredentialRepo(db *gorm.DB) *GormCredentialRepo {
	return &GormCredentialRepo{db: db}
}

func (r *GormCredentialRepo) GetByName(ctx context.Context, name string) (*CredentialRecord, error) {
	var model CredentialModel
	err := r.db.WithContext(ctx).First(&model, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: credential %q", domain.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return credentialModelToRecord(&model), nil
}

func (r *GormCredentialRepo) FindByGroupID(ctx context.Context, groupID string) (*CredentialRecord, error) {
	trimmed := strings.TrimSpace(groupID)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: group id is required", domain.ErrValidation)
	}

	var model CredentialModel
	err := r.db.WithContext(ctx).
		Where("name LIKE ?", "%["+trimmed+"]%").
		Order("name").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no credential for groupid %q", domain.ErrNotFound, trimmed)
	}
	if err != nil {
		return nil, err
	}
	return credentialModelToRecord(&model), nil
}

func (r *GormCredentialRepo) List(ctx context.Context) ([]CredentialRecord, error) {
	var models []CredentialModel
	if err := r.db.WithContext(ctx).Order("name").Find(&models).Error; err != nil {
		return nil, err
	}

	records := make([]CredentialRecord, 0, len(models))
	for i := range models {
		records = append(records, *credentialModelToRecord(&models[i]))
	}
	return records, nil
}

func (r *GormCredentialRepo) Save(ctx context.Context, record *CredentialRecord) error {
	if record == nil {
		return fmt.Errorf("%w: credential record is required", domain.ErrValidation)
	}

	model := CredentialModel{
		ID:                        uuid.NewString(),
		Name:                      record.Name,
		APIKey:                    record.APIKey,
		EncryptedSecret:           record.EncryptedSecret,
		APIKeyHint:                record.APIKeyHint,
		DefaultVoiceCallbackType:  record.DefaultVoiceCallbackType,
		DefaultVoiceCallbackValue: record.DefaultVoiceCallbackValue,
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"api_key",
				"encrypted_secret",
				"api_key_hint",
				"default_voice_callback_type",
				"default_voice_callback_value",
				"updated_at",
			}),
		}).
		Create(&model).Error
}

func (r *GormCredentialRepo) Delete(ctx context.Context, name string) error {
	result := r.db.WithContext(ctx).Delete(&CredentialModel{}, "name = ?", name)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: credential %q", domain.ErrNotFound, name)
	}
	return nil
}

func (r *GormCredentialRepo) ReplaceEncryptedSecrets(ctx context.Context, secrets map[string]string) error {
	if len(secrets) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for name, encryptedSecret := range secrets {
			result := tx.Model(&CredentialModel{}).
				Where("name = ?", name).
				Update("encrypted_secret", encryptedSecret)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: credential %q disappeared during re-key", domain.ErrNotFound, name)
			}
		}
		return nil
	})
}

func credentialModelToRecord(model *CredentialModel) *CredentialRecord {
	return &CredentialRecord{
		Name:                      model.Name,
		APIKey:                    model.APIKey,
		EncryptedSecret:           model.EncryptedSecret,
		APIKeyHint:                model.APIKeyHint,
		DefaultVoiceCallbackType:  model.DefaultVoiceCallbackType,
		DefaultVoiceCallbackValue: model.DefaultVoiceCallbackValue,
	}
}
