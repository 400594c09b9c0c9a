package repository

import "time"

// CredentialModel is the persistence model for the credentials table. The
// api_secret column holds the vault's versioned ciphertext envelope, never a
// plaintext secret.
type CredentialModel struct {
	ID                        string `gorm:"type:uuid;primaryKey"`
	Name                      string `gorm:"type:varchar(255);not null;uniqueIndex"`
	APIKey                    string `gorm:"type:varchar(64);not null"`
	EncryptedSecret           string `gorm:"type:text;not null"`
	APIKeyHint                string `gorm:"type:varchar(16)"`
	DefaultVoiceCallbackType  string `gorm:"type:varchar(32)"`
	DefaultVoiceCallbackValue string `gorm:"type:varchar(255)"`
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

func (CredentialModel) TableName() string {
	return "credentials"
}

// SettingModel is the persistence model for the settings table. Values are
// stored as strings and coerced to their typed defaults on load.
type SettingModel struct {
	Key       string `gorm:"type:varchar(64);primaryKey"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (SettingModel) TableName() string {
	return "settings"
}
