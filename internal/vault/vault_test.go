package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/didware/did-engine/internal/domain"
	"github.com/didware/did-engine/internal/repository"
)

type fakeCredentialRepo struct {
	records map[string]*repository.CredentialRecord

	replaceErr error
}

func newFakeCredentialRepo() *fakeCredentialRepo {
	return &fakeCredentialRepo{records: map[string]*repository.CredentialRecord{}}
}

func (f *fakeCredentialRepo) GetByName(_ context.Context, name string) (*repository.CredentialRecord, error) {
	record, ok := f.records[name]
	if !ok {
		return nil, fmt.Errorf("%w: credential %q", domain.ErrNotFound, name)
	}
	copied := *record
	return &copied, nil
}

func (f *fakeCredentialRepo) FindByGroupID(_ context.Context, groupID string) (*repository.CredentialRecord, error) {
	marker := "[" + strings.TrimSpace(groupID) + "]"
	for _, record := range f.records {
		if strings.Contains(record.Name, marker) {
			copied := *record
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: no credential for groupid %q", domain.ErrNotFound, groupID)
}

func (f *fakeCredentialRepo) List(context.Context) ([]repository.CredentialRecord, error) {
	records := make([]repository.CredentialRecord, 0, len(f.records))
	for _, record := range f.records {
		records = append(records, *record)
	}
	return records, nil
}

func (f *fakeCredentialRepo) Save(_ context.Context, record *repository.CredentialRecord) error {
	copied := *record
	f.records[record.Name] = &copied
	return nil
}

func (f *fakeCredentialRepo) Delete(_ context.Context, name string) error {
	if _, ok := f.records[name]; !ok {
		return fmt.Errorf("%w: credential %q", domain.ErrNotFound, name)
	}
	delete(f.records, name)
	return nil
}

func (f *fakeCredentialRepo) ReplaceEncryptedSecrets(_ context.Context, secrets map[string]string) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	for name, encryptedSecret := range secrets {
		record, ok := f.records[name]
		if !ok {
			return fmt.Errorf("%w: credential %q disappeared during re-key", domain.ErrNotFound, name)
		}
		record.EncryptedSecret = encryptedSecret
	}
	return nil
}

func newTestVault(t *testing.T) (*Vault, *fakeCredentialRepo) {
	t.Helper()

	cipher, err := NewCipher("test-salt")
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}
	repo := newFakeCredentialRepo()
	v, err := New(repo, cipher, "master-key-1", nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return v, repo
}

func seedCredential(t *testing.T, v *Vault, name, apiKey, secret string) {
	t.Helper()

	err := v.Save(context.Background(), SaveParams{
		Name:      name,
		APIKey:    apiKey,
		APISecret: secret,
	})
	if err != nil {
		t.Fatalf("Save(%q) error = %v", name, err)
	}
}

func TestResolveGroupDecryptsSecret(t *testing.T) {
	t.Parallel()

	v, _ := newTestVault(t)
	seedCredential(t, v, SubaccountName("acme-east"), "apikey1", "s3cret")

	group, err := v.ResolveGroup(context.Background(), "acme-east")
	if err != nil {
		t.Fatalf("ResolveGroup() error = %v", err)
	}
	if group.AccountName != "GroupId [acme-east]" {
		t.Errorf("AccountName = %q, want GroupId [acme-east]", group.AccountName)
	}
	if group.APISecret != "s3cret" {
		t.Errorf("APISecret = %q, want decrypted plaintext", group.APISecret)
	}
}

func TestResolveGroupUnknownGroupIsNotFound(t *testing.T) {
	t.Parallel()

	v, _ := newTestVault(t)

	_, err := v.ResolveGroup(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestSaveStoresEncryptedSecretAndHint(t *testing.T) {
	t.Parallel()

	v, repo := newTestVault(t)
	seedCredential(t, v, "primary", "abcdef123456", "s3cret")

	record := repo.records["primary"]
	if record.EncryptedSecret == "s3cret" || !strings.HasPrefix(record.EncryptedSecret, envelopePrefix) {
		t.Errorf("EncryptedSecret = %q, want envelope ciphertext", record.EncryptedSecret)
	}
	if record.APIKeyHint != "abcde...3456" {
		t.Errorf("APIKeyHint = %q, want abcde...3456", record.APIKeyHint)
	}
}

func TestSaveWithoutSecretPreservesExisting(t *testing.T) {
	t.Parallel()

	v, repo := newTestVault(t)
	seedCredential(t, v, "primary", "apikey1", "s3cret")
	sealed := repo.records["primary"].EncryptedSecret

	err := v.Save(context.Background(), SaveParams{
		Name:              "primary",
		APIKey:            "apikey1",
		VoiceCallbackType: "sip",
	})
	if err != nil {
		t.Fatalf("Save() without secret error = %v", err)
	}
	if repo.records["primary"].EncryptedSecret != sealed {
		t.Error("existing encrypted secret was not preserved")
	}
	if repo.records["primary"].DefaultVoiceCallbackType != "sip" {
		t.Error("callback default was not updated")
	}
}

func TestSaveWithoutSecretRejectsChangedAPIKey(t *testing.T) {
	t.Parallel()

	v, _ := newTestVault(t)
	seedCredential(t, v, "primary", "apikey1", "s3cret")

	err := v.Save(context.Background(), SaveParams{Name: "primary", APIKey: "apikey2"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation for changed api key without a secret", err)
	}
}

func TestSaveWithoutSecretRejectsNewCredential(t *testing.T) {
	t.Parallel()

	v, _ := newTestVault(t)

	err := v.Save(context.Background(), SaveParams{Name: "brand-new", APIKey: "apikey1"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation for new credential without a secret", err)
	}
}

func TestListNeverExposesSecrets(t *testing.T) {
	t.Parallel()

	v, _ := newTestVault(t)
	seedCredential(t, v, "primary", "abcdef123456", "s3cret")

	summaries, err := v.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("len(summaries) = %d, want 1", len(summaries))
	}
	if summaries[0].APIKeyHint != "abcde...3456" {
		t.Errorf("APIKeyHint = %q, want hint form", summaries[0].APIKeyHint)
	}
}

func TestRekeySwapsMasterKey(t *testing.T) {
	t.Parallel()

	v, _ := newTestVault(t)
	seedCredential(t, v, SubaccountName("acme-east"), "apikey1", "s3cret-a")
	seedCredential(t, v, SubaccountName("acme-west"), "apikey2", "s3cret-b")

	count, err := v.Rekey(context.Background(), "master-key-2")
	if err != nil {
		t.Fatalf("Rekey() error = %v", err)
	}
	if count != 2 {
		t.Errorf("re-keyed count = %d, want 2", count)
	}

	group, err := v.ResolveGroup(context.Background(), "acme-east")
	if err != nil {
		t.Fatalf("ResolveGroup() after re-key error = %v", err)
	}
	if group.APISecret != "s3cret-a" {
		t.Errorf("APISecret = %q, want original plaintext under new key", group.APISecret)
	}
}

func TestRekeyFailureLeavesOldKeyActive(t *testing.T) {
	t.Parallel()

	v, repo := newTestVault(t)
	seedCredential(t, v, SubaccountName("acme-east"), "apikey1", "s3cret")
	repo.replaceErr = errors.New("transaction aborted")

	if _, err := v.Rekey(context.Background(), "master-key-2"); err == nil {
		t.Fatal("Rekey() succeeded, want storage failure")
	}

	group, err := v.ResolveGroup(context.Background(), "acme-east")
	if err != nil {
		t.Fatalf("ResolveGroup() after failed re-key error = %v", err)
	}
	if group.APISecret != "s3cret" {
		t.Errorf("APISecret = %q, want plaintext under the original key", group.APISecret)
	}
}

func TestAPIKeyHint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		apiKey string
		want   string
	}{
		{"short", "short"},
		{"12345678", "12345678"},
		{"abcdef123456", "abcde...3456"},
	}
	for _, tc := range tests {
		if got := apiKeyHint(tc.apiKey); got != tc.want {
			t.Errorf("apiKeyHint(%q) = %q, want %q", tc.apiKey, got, tc.want)
		}
	}
}
