// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security provides the zero-knowledge field encryption used by
// rigchat sync.
//
// Every synced value is encrypted on its own with:
// - AES-256-GCM authenticated encryption
// - PBKDF2-SHA-256 key derivation from the passphrase hash
// - A random 12-byte IV per value, encoded as base64(iv|ciphertext|tag)
//
// The server only ever sees the opaque strings.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// SyncSalt is the fixed application salt for sync key derivation. Every
// device must derive the same key from the same passphrase.
const SyncSalt = "llmchat-sync-salt"

// SyncIterations is the PBKDF2 iteration count for the sync key.
const SyncIterations = 100000

// NonceSize is the size of the nonce/IV for AES-GCM (12 bytes / 96 bits)
const NonceSize = 12

// KeySize is the size of the AES-256 key (32 bytes / 256 bits)
const KeySize = 32

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidCiphertext indicates the ciphertext format is invalid
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	// ErrDecryptionFailed indicates decryption failed (wrong key or tampered data)
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")
	// ErrNoPassphraseHash is returned when no key material is available
	ErrNoPassphraseHash = errors.New("no passphrase hash")
)

// ZeroBytes overwrites sensitive byte slices.
// SECURITY: Zero key material to prevent memory disclosure via crash dumps.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// =============================================================================
// PASSPHRASE HASHING
// =============================================================================

// HashPassphrase returns the hex SHA-256 of passphrase. The hash, never the
// passphrase, is stored and used as key material.
func HashPassphrase(passphrase string) string {
	sum := sha256.Sum256([]byte(passphrase))
	return hex.EncodeToString(sum[:])
}

// VerifyPassphrase reports whether passphrase hashes to hash.
func VerifyPassphrase(passphrase, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashPassphrase(passphrase)), []byte(hash)) == 1
}

// DeriveSyncKey derives the AES-256 key from a passphrase hash. The UTF-8
// bytes of the hex string are the PBKDF2 password.
func DeriveSyncKey(passphraseHash string) []byte {
	return pbkdf2.Key([]byte(passphraseHash), []byte(SyncSalt), SyncIterations, KeySize, sha256.New)
}

// =============================================================================
// CRYPTO BOX
// =============================================================================

// CryptoBox encrypts and decrypts individual string values. Derived ciphers
// are cached per passphrase hash since PBKDF2 is deliberately slow.
type CryptoBox struct {
	mu      sync.Mutex
	ciphers map[string]cipher.AEAD
	rand    io.Reader
}

// NewCryptoBox creates a CryptoBox using crypto/rand for IVs.
func NewCryptoBox() *CryptoBox {
	return &CryptoBox{
		ciphers: make(map[string]cipher.AEAD),
		rand:    rand.Reader,
	}
}

func (b *CryptoBox) aead(passphraseHash string) (cipher.AEAD, error) {
	if passphraseHash == "" {
		return nil, ErrNoPassphraseHash
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.ciphers[passphraseHash]; ok {
		return c, nil
	}

	key := DeriveSyncKey(passphraseHash)
	defer ZeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	b.ciphers[passphraseHash] = gcm
	return gcm, nil
}

// Encrypt seals value under the key derived from passphraseHash and
// returns base64(iv|ciphertext|tag).
func (b *CryptoBox) Encrypt(value, passphraseHash string) (string, error) {
	gcm, err := b.aead(passphraseHash)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(b.rand, nonce); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(value), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. A wrong key or a tampered value fails with
// ErrDecryptionFailed.
func (b *CryptoBox) Decrypt(encrypted, passphraseHash string) (string, error) {
	gcm, err := b.aead(passphraseHash)
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(data) < NonceSize+gcm.Overhead() {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := gcm.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// Forget drops cached key material, e.g. on logout.
func (b *CryptoBox) Forget() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ciphers = make(map[string]cipher.AEAD)
}
