package vault

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/didware/did-engine/internal/domain"
	"github.com/didware/did-engine/internal/repository"
)

// GroupCredentials is a decrypted vendor credential pair plus the per-group
// routing defaults stored alongside it. It is read-only once resolved and may
// be shared by every concurrent call of a batch.
type GroupCredentials struct {
	AccountName               string
	APIKey                    string
	APISecret                 string
	DefaultVoiceCallbackType  string
	DefaultVoiceCallbackValue string
}

// CredentialSummary exposes non-secret credential metadata for listings.
type CredentialSummary struct {
	Name                      string
	APIKeyHint                string
	DefaultVoiceCallbackType  string
	DefaultVoiceCallbackValue string
}

// SaveParams describes a credential write. An empty APISecret keeps the
// existing stored secret, which is only allowed when neither the name nor the
// API key changes.
type SaveParams struct {
	Name               string
	APIKey             string
	APISecret          string
	VoiceCallbackType  string
	VoiceCallbackValue string
}

// Vault resolves tenant groups to decrypted vendor credentials. Secrets are
// stored under envelope encryption keyed by the operator master key.
type Vault struct {
	creds  repository.CredentialRepository
	cipher *Cipher
	logger *zap.Logger

	mu        sync.RWMutex
	masterKey string
}

func New(creds repository.CredentialRepository, cipher *Cipher, masterKey string, logger *zap.Logger) (*Vault, error) {
	if creds == nil {
		return nil, fmt.Errorf("credential repository is required")
	}
	if cipher == nil {
		return nil, fmt.Errorf("cipher is required")
	}
	if strings.TrimSpace(masterKey) == "" {
		return nil, fmt.Errorf("master key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Vault{
		creds:     creds,
		cipher:    cipher,
		logger:    logger,
		masterKey: masterKey,
	}, nil
}

// SubaccountName is the canonical stored name for a tenant group's
// sub-account; FindByGroupID matches on the bracketed group id.
func SubaccountName(groupID string) string {
	return fmt.Sprintf("GroupId [%s]", strings.TrimSpace(groupID))
}

// ResolveGroup finds and decrypts the credential owned by a tenant group.
func (v *Vault) ResolveGroup(ctx context.Context, groupID string) (*GroupCredentials, error) {
	record, err := v.creds.FindByGroupID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return v.decrypt(record)
}

// Get finds and decrypts a credential by its stored name.
func (v *Vault) Get(ctx context.Context, name string) (*GroupCredentials, error) {
	record, err := v.creds.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return v.decrypt(record)
}

func (v *Vault) decrypt(record *repository.CredentialRecord) (*GroupCredentials, error) {
	if strings.TrimSpace(record.EncryptedSecret) == "" {
		return nil, fmt.Errorf("credential %q is improperly configured: missing encrypted secret", record.Name)
	}

	v.mu.RLock()
	masterKey := v.masterKey
	v.mu.RUnlock()

	secret, err := v.cipher.Decrypt(record.EncryptedSecret, masterKey)
	if err != nil {
		return nil, fmt.Errorf("credential %q: %w", record.Name, err)
	}

	return &GroupCredentials{
		AccountName:               record.Name,
		APIKey:                    record.APIKey,
		APISecret:                 secret,
		DefaultVoiceCallbackType:  record.DefaultVoiceCallbackType,
		DefaultVoiceCallbackValue: record.DefaultVoiceCallbackValue,
	}, nil
}

// Save encrypts and persists a credential. Preserving the existing secret by
// omitting it requires the name and API key to be unchanged.
func (v *Vault) Save(ctx context.Context, params SaveParams) error {
	name := strings.TrimSpace(params.Name)
	apiKey := strings.TrimSpace(params.APIKey)
	if name == "" || apiKey == "" {
		return fmt.Errorf("%w: credential name and api key are required", domain.ErrValidation)
	}

	v.mu.RLock()
	masterKey := v.masterKey
	v.mu.RUnlock()

	var encryptedSecret string
	if params.APISecret != "" {
		sealed, err := v.cipher.Encrypt(params.APISecret, masterKey)
		if err != nil {
			return err
		}
		encryptedSecret = sealed
	} else {
		existing, err := v.creds.GetByName(ctx, name)
		if err != nil {
			return fmt.Errorf("%w: an api secret is required for a new credential", domain.ErrValidation)
		}
		if existing.APIKey != apiKey {
			return fmt.Errorf("%w: a new api secret is required when changing the api key", domain.ErrValidation)
		}
		encryptedSecret = existing.EncryptedSecret
	}

	record := &repository.CredentialRecord{
		Name:                      name,
		APIKey:                    apiKey,
		EncryptedSecret:           encryptedSecret,
		APIKeyHint:                apiKeyHint(apiKey),
		DefaultVoiceCallbackType:  params.VoiceCallbackType,
		DefaultVoiceCallbackValue: params.VoiceCallbackValue,
	}
	if err := v.creds.Save(ctx, record); err != nil {
		return err
	}

	v.logger.Info("credential saved", zap.String("name", name), zap.String("apiKeyHint", record.APIKeyHint))
	return nil
}

// SaveGroupDefaults updates only the stored per-group callback defaults.
func (v *Vault) SaveGroupDefaults(ctx context.Context, name string, callbackType string, callbackValue string) error {
	existing, err := v.creds.GetByName(ctx, name)
	if err != nil {
		return err
	}

	existing.DefaultVoiceCallbackType = callbackType
	existing.DefaultVoiceCallbackValue = callbackValue
	return v.creds.Save(ctx, existing)
}

func (v *Vault) Delete(ctx context.Context, name string) error {
	return v.creds.Delete(ctx, name)
}

func (v *Vault) List(ctx context.Context) ([]CredentialSummary, error) {
	records, err := v.creds.List(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]CredentialSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, CredentialSummary{
			Name:                      record.Name,
			APIKeyHint:                record.APIKeyHint,
			DefaultVoiceCallbackType:  record.DefaultVoiceCallbackType,
			DefaultVoiceCallbackValue: record.DefaultVoiceCallbackValue,
		})
	}
	return summaries, nil
}

// Rekey re-encrypts every stored secret under a new master key and swaps the
// vault's active key. All secrets are decrypted and re-sealed before any row
// is written, so a bad old key leaves the store untouched.
func (v *Vault) Rekey(ctx context.Context, newMasterKey string) (int, error) {
	if strings.TrimSpace(newMasterKey) == "" {
		return 0, fmt.Errorf("%w: new master key is required", domain.ErrValidation)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	records, err := v.creds.List(ctx)
	if err != nil {
		return 0, err
	}

	reencrypted := make(map[string]string, len(records))
	for _, record := range records {
		secret, err := v.cipher.Decrypt(record.EncryptedSecret, v.masterKey)
		if err != nil {
			return 0, fmt.Errorf("re-key aborted at credential %q: %w", record.Name, err)
		}
		sealed, err := v.cipher.Encrypt(secret, newMasterKey)
		if err != nil {
			return 0, fmt.Errorf("re-key aborted at credential %q: %w", record.Name, err)
		}
		reencrypted[record.Name] = sealed
	}

	if err := v.creds.ReplaceEncryptedSecrets(ctx, reencrypted); err != nil {
		return 0, err
	}

	v.masterKey = newMasterKey
	v.logger.Info("vault re-keyed", zap.Int("credentials", len(reencrypted)))
	return len(reencrypted), nil
}

func apiKeyHint(apiKey string) string {
	if len(apiKey) <= 8 {
		return apiKey
	}
	return apiKey[:5] + "..." + apiKey[len(apiKey)-4:]
}
