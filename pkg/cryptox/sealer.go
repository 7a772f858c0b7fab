package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// MasterKeyEnv is consulted when no master key file is configured.
const MasterKeyEnv = "ARISE_MASTER_KEY"

// hkdfInfo binds derived keys to their purpose so the same master key can
// never decrypt records sealed for something else.
const hkdfInfo = "arise-secure-store-v1"

// ErrCiphertextTooShort is returned when the input cannot contain a nonce.
var ErrCiphertextTooShort = errors.New("cryptox: ciphertext too short")

// Sealer encrypts records with AES-256-GCM.
// The output format is: [12-byte nonce][encrypted data][16-byte auth tag]
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a 32-byte AES key from keyMaterial using HKDF-SHA256.
func NewSealer(keyMaterial []byte) (*Sealer, error) {
	if len(keyMaterial) == 0 {
		return nil, fmt.Errorf("cryptox: empty key material")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, keyMaterial, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Sealer{aead: gcm}, nil
}

// LoadSealer builds a Sealer from, in order:
// 1. the file at path (if set)
// 2. the ARISE_MASTER_KEY environment variable
// 3. an ephemeral random key (records will not survive a restart)
//
// ephemeral reports whether the third option was used.
func LoadSealer(path string) (s *Sealer, ephemeral bool, err error) {
	var keyMaterial []byte

	switch {
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read master key file: %w", err)
		}
		keyMaterial = []byte(strings.TrimSpace(string(data)))
	case os.Getenv(MasterKeyEnv) != "":
		keyMaterial = []byte(os.Getenv(MasterKeyEnv))
	default:
		keyMaterial = make([]byte, 32)
		if _, err := rand.Read(keyMaterial); err != nil {
			return nil, false, fmt.Errorf("failed to generate ephemeral master key: %w", err)
		}
		ephemeral = true
	}

	s, err = NewSealer(keyMaterial)
	return s, ephemeral, err
}

// Seal encrypts and authenticates plaintext with a random nonce. The key
// name is bound as additional data so records cannot be swapped between keys.
func (s *Sealer) Seal(key string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// gcm.Seal appends the ciphertext and auth tag to nonce
	return s.aead.Seal(nonce, nonce, plaintext, []byte(key)), nil
}

// Open decrypts data produced by Seal for the same key name.
func (s *Sealer) Open(key string, sealed []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrCiphertextTooShort
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}
