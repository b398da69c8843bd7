package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// fixedSalt keeps key derivation deterministic across restarts so that
// previously written config entries remain decryptable. Rotating the master
// secret invalidates all stored values.
var fixedSalt = []byte("overseer-config-v1")

const gcmTagSize = 16

// Encryptor provides AES-256-GCM encryption for config values. Records are
// stored as iv:authTag:ciphertext in hex.
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor derives a 32-byte key from the master secret via scrypt and
// builds an AES-256-GCM AEAD.
func NewEncryptor(master string) (*Encryptor, error) {
	if master == "" {
		return nil, fmt.Errorf("crypto: master secret cannot be empty")
	}
	key, err := scrypt.Key([]byte(master), fixedSalt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("crypto: key derivation failed: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return &Encryptor{gcm: gcm}, nil
}

// Encrypt encrypts plaintext and returns an iv:authTag:ciphertext hex record.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}
	sealed := e.gcm.Seal(nil, iv, []byte(plaintext), nil)
	// Seal appends the auth tag after the ciphertext.
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	authTag := sealed[len(sealed)-gcmTagSize:]
	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(iv),
		hex.EncodeToString(authTag),
		hex.EncodeToString(ciphertext)), nil
}

// Decrypt reverses Encrypt.
func (e *Encryptor) Decrypt(record string) (string, error) {
	parts := strings.Split(record, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("crypto: malformed record: want iv:authTag:ciphertext")
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("crypto: malformed iv: %w", err)
	}
	authTag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("crypto: malformed auth tag: %w", err)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("crypto: malformed ciphertext: %w", err)
	}
	if len(iv) != e.gcm.NonceSize() || len(authTag) != gcmTagSize {
		return "", fmt.Errorf("crypto: malformed record lengths")
	}
	plaintext, err := e.gcm.Open(nil, iv, append(ciphertext, authTag...), nil)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// Mask truncates a secret to first-2 + asterisks + last-2 for display.
func Mask(value string) string {
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return value[:2] + strings.Repeat("*", 6) + value[len(value)-2:]
}
