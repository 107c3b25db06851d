package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql/driver"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/hypergolix/hypergolix/internal/golix"
)

// encryptionKey is the package-level AES-256 key used by EncryptedSecret.
// Set once via InitEncryption before any SecretRecord is read or written,
// the same single-key-at-rest scheme arkeep's EncryptedString uses for
// credentials.
var encryptionKey []byte

// InitEncryption sets the AES-256 key used to encrypt and decrypt
// SecretRecord.Secret at rest. key must be exactly 32 bytes.
func InitEncryption(key []byte) error {
	if len(key) != 32 {
		return fmt.Errorf("store: encryption key must be exactly 32 bytes, got %d", len(key))
	}
	encryptionKey = make([]byte, 32)
	copy(encryptionKey, key)
	return nil
}

// EncryptedSecret is a golix.Secret that is transparently AES-256-GCM
// encrypted before being written to the database, and decrypted after
// being read. The stored value is base64(nonce || ciphertext), identical in
// shape to arkeep's EncryptedString — only the plaintext payload (a fixed
// 66-byte Secret encoding instead of an arbitrary string) differs.
type EncryptedSecret struct {
	golix.Secret
}

func (s EncryptedSecret) plaintext() []byte {
	out := make([]byte, 0, 66)
	out = append(out, s.CipherID, s.Version)
	out = append(out, s.Key[:]...)
	out = append(out, s.Seed[:]...)
	return out
}

func secretFromPlaintext(b []byte) (golix.Secret, error) {
	if len(b) != 66 {
		return golix.Secret{}, fmt.Errorf("store: decrypted secret has wrong length %d", len(b))
	}
	var s golix.Secret
	s.CipherID = b[0]
	s.Version = b[1]
	copy(s.Key[:], b[2:34])
	copy(s.Seed[:], b[34:66])
	return s, nil
}

// Value implements driver.Valuer. Called by GORM before writing.
func (s EncryptedSecret) Value() (driver.Value, error) {
	if encryptionKey == nil {
		return nil, errors.New("store: encryption key not initialized, call store.InitEncryption first")
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("store: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("store: new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("store: read nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, s.plaintext(), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Scan implements sql.Scanner. Called by GORM after reading.
func (s *EncryptedSecret) Scan(value interface{}) error {
	if value == nil {
		s.Secret = golix.Secret{}
		return nil
	}

	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("store: EncryptedSecret.Scan: expected string, got %T", value)
	}
	if str == "" {
		s.Secret = golix.Secret{}
		return nil
	}
	if encryptionKey == nil {
		return errors.New("store: encryption key not initialized, call store.InitEncryption first")
	}

	data, err := base64.StdEncoding.DecodeString(str)
	if err != nil {
		return fmt.Errorf("store: decode base64: %w", err)
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return fmt.Errorf("store: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("store: new gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return errors.New("store: encrypted secret too short to contain nonce")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("store: decrypt secret: %w", err)
	}

	secret, err := secretFromPlaintext(plaintext)
	if err != nil {
		return err
	}
	s.Secret = secret
	return nil
}
