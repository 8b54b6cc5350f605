// Package crypto encrypts and decrypts connection credential bundles.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

var (
	// ErrInvalidMasterKey is returned when the master secret is empty.
	ErrInvalidMasterKey = errors.New("invalid master key: must not be empty")
	// ErrDecryptionFailed is returned when decryption fails due to a malformed
	// blob, a tampered ciphertext, or the wrong master key.
	ErrDecryptionFailed = errors.New("decryption failed: invalid blob or wrong key")
)

const (
	saltSize = 32
	ivSize   = 16
	tagSize  = 16

	// scrypt parameters for per-blob key derivation.
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	derivedBytes = 32
)

// EncryptedBlob is a printable encrypted credential bundle:
// base64(salt || iv || tag || ciphertext). It is opaque to every component
// except CredentialCipher - nothing else can read fields out of it.
type EncryptedBlob string

// CredentialCipher provides AES-256-GCM encryption for credential bundles.
// Each blob is encrypted under a key derived from the master secret and a
// fresh per-blob salt, so recovering one blob's derived key does not help
// decrypt any other blob.
type CredentialCipher struct {
	masterSecret []byte
}

// NewCredentialCipher creates a cipher from the master secret.
func NewCredentialCipher(masterSecret string) (*CredentialCipher, error) {
	if masterSecret == "" {
		return nil, ErrInvalidMasterKey
	}
	return &CredentialCipher{masterSecret: []byte(masterSecret)}, nil
}

// NewEphemeralCredentialCipher creates a cipher with a random per-process
// master secret. Blobs encrypted with it cannot be decrypted after a restart;
// only for non-persistent developer and test modes.
func NewEphemeralCredentialCipher() (*CredentialCipher, error) {
	secret := make([]byte, derivedBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral master key: %w", err)
	}
	return &CredentialCipher{masterSecret: secret}, nil
}

// Encrypt serializes the bundle and returns base64(salt || iv || tag || ciphertext).
// A fresh salt and IV are drawn for every call.
func (c *CredentialCipher) Encrypt(bundle map[string]string) (EncryptedBlob, error) {
	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("failed to marshal bundle: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	// Seal returns ciphertext || tag; the blob layout stores the tag first.
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, saltSize+ivSize+tagSize+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, iv...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)

	return EncryptedBlob(base64.StdEncoding.EncodeToString(blob)), nil
}

// Decrypt reverses Encrypt. It fails closed: any malformed blob, tag mismatch,
// or wrong master key returns ErrDecryptionFailed, never partial output.
func (c *CredentialCipher) Decrypt(blob EncryptedBlob) (map[string]string, error) {
	data, err := base64.StdEncoding.DecodeString(string(blob))
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode failed", ErrDecryptionFailed)
	}
	if len(data) < saltSize+ivSize+tagSize {
		return nil, fmt.Errorf("%w: blob too short", ErrDecryptionFailed)
	}

	salt := data[:saltSize]
	iv := data[saltSize : saltSize+ivSize]
	tag := data[saltSize+ivSize : saltSize+ivSize+tagSize]
	ciphertext := data[saltSize+ivSize+tagSize:]

	gcm, err := c.aead(salt)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}

	var bundle map[string]string
	if err := json.Unmarshal(plaintext, &bundle); err != nil {
		return nil, fmt.Errorf("%w: malformed bundle payload", ErrDecryptionFailed)
	}
	return bundle, nil
}

// aead derives the per-blob key from the master secret and salt and builds
// an AES-256-GCM instance with a 16-byte nonce.
func (c *CredentialCipher) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(c.masterSecret, salt, scryptN, scryptR, scryptP, derivedBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
