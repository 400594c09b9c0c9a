package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/didware/did-engine/internal/repository"
)

func createCredentialsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_credentials",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CredentialModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_name ON credentials (name)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CredentialModel{})
		},
	}
}
