package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// envelopePrefix versions the stored ciphertext format so a future scheme
	// change can be detected before attempting decryption.
	envelopePrefix = "didvault.v1:"

	keyLength      = 32
	kdfIterations  = 480_000
	minMasterKeyLn = 8
)

// Cipher encrypts vendor secrets under a key derived from an operator-supplied
// master key, so stored ciphertext is useless without it. PBKDF2-SHA256 key
// derivation, AES-256-GCM authenticated encryption.
type Cipher struct {
	salt []byte
}

func NewCipher(salt string) (*Cipher, error) {
	if strings.TrimSpace(salt) == "" {
		return nil, fmt.Errorf("encryption salt is required")
	}
	return &Cipher{salt: []byte(salt)}, nil
}

func (c *Cipher) deriveKey(masterKey string) ([]byte, error) {
	if len(masterKey) < minMasterKeyLn {
		return nil, fmt.Errorf("master key must be at least %d characters", minMasterKeyLn)
	}
	return pbkdf2.Key([]byte(masterKey), c.salt, kdfIterations, keyLength, sha256.New), nil
}

// Encrypt seals plaintext into a versioned envelope string.
func (c *Cipher) Encrypt(plaintext, masterKey string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("data to encrypt cannot be empty")
	}

	key, err := c.deriveKey(masterKey)
	if err != nil {
		return "", err
	}

	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return envelopePrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope produced by Encrypt. A wrong master key fails the
// GCM authentication check rather than yielding garbage.
func (c *Cipher) Decrypt(envelope, masterKey string) (string, error) {
	if envelope == "" {
		return "", fmt.Errorf("encrypted data cannot be empty")
	}
	if !strings.HasPrefix(envelope, envelopePrefix) {
		return "", fmt.Errorf("unrecognized ciphertext envelope")
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(envelope, envelopePrefix))
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext payload: %w", err)
	}

	key, err := c.deriveKey(masterKey)
	if err != nil {
		return "", err
	}

	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	if len(sealed) < aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed, the master key may be incorrect or the data corrupted")
	}

	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	return aead, nil
}
