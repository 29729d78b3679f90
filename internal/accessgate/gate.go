// Package accessgate seals and unseals document content under the
// process-wide master key.
package accessgate

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/starford/examvault/internal/apperr"
	"github.com/starford/examvault/internal/checksum"
)

const (
	// KeySize is the required master key length in bytes.
	KeySize = 32
	// IVSize is the GCM nonce length in bytes.
	IVSize = 12
)

var keyInfo = []byte("examvault accessgate aes-256-gcm")

// Gate performs authenticated encryption of document content.
// The master key is parsed on first use and the outcome is cached, so a
// bad key surfaces as apperr.ErrConfiguration from every call.
type Gate struct {
	masterKey string

	once sync.Once
	aead cipher.AEAD
	err  error
}

// New returns a Gate for the hex-encoded 32-byte master key.
func New(hexKey string) *Gate {
	return &Gate{masterKey: strings.TrimSpace(hexKey)}
}

func (g *Gate) cipher() (cipher.AEAD, error) {
	g.once.Do(func() {
		g.aead, g.err = deriveAEAD(g.masterKey)
	})
	return g.aead, g.err
}

func deriveAEAD(hexKey string) (cipher.AEAD, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("accessgate: master key not set: %w", apperr.ErrConfiguration)
	}
	master, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("accessgate: master key is not hex: %w", apperr.ErrConfiguration)
	}
	if len(master) != KeySize {
		return nil, fmt.Errorf("accessgate: master key is %d bytes, want %d: %w",
			len(master), KeySize, apperr.ErrConfiguration)
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, keyInfo), key); err != nil {
		return nil, fmt.Errorf("accessgate: derive key: %w", apperr.ErrConfiguration)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("accessgate: %v: %w", err, apperr.ErrConfiguration)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("accessgate: %v: %w", err, apperr.ErrConfiguration)
	}
	return aead, nil
}

// Check reports whether the master key is usable.
func (g *Gate) Check() error {
	_, err := g.cipher()
	return err
}

// Encrypt seals plaintext under a fresh random IV.
func (g *Gate) Encrypt(plaintext []byte) (ciphertext, iv []byte, err error) {
	aead, err := g.cipher()
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("accessgate: read iv: %w", err)
	}
	return aead.Seal(nil, iv, plaintext, nil), iv, nil
}

// Decrypt opens ciphertext sealed by Encrypt. A wrong IV length, a wrong
// key or any modification of the ciphertext yields apperr.ErrDecryption.
func (g *Gate) Decrypt(ciphertext, iv []byte) ([]byte, error) {
	aead, err := g.cipher()
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("accessgate: iv is %d bytes: %w", len(iv), apperr.ErrDecryption)
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("accessgate: open: %w", apperr.ErrDecryption)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// Digest returns the hex SHA-256 of content.
func (g *Gate) Digest(content []byte) string {
	return checksum.Sum(content)
}

// VerifyIntegrity reports whether content digests to expected.
func (g *Gate) VerifyIntegrity(content []byte, expected string) bool {
	return checksum.Equal(content, expected)
}
