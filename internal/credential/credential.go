// SPDX-License-Identifier: MPL-2.0

package credential

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/invowk/upkeep/internal/logging"
	"github.com/invowk/upkeep/internal/store"
)

const (
	// DefaultOptionKey is the option-store key holding the encrypted credential.
	DefaultOptionKey = "credential"

	// envelopeDelimiter separates the armored ciphertext from the armored IV.
	envelopeDelimiter = "::"

	logCategory = "credential"
)

// ErrNoKeyMaterial is returned when neither secrets nor a salt are configured.
var ErrNoKeyMaterial = errors.New("no key material configured for credential encryption")

type (
	// KeyMaterial is the host-provided input for key derivation.
	KeyMaterial struct {
		// Secrets are concatenated in order. Up to four values are used.
		Secrets []string
		// Salt is used on its own when no secret is defined.
		Salt string
	}

	// Store keeps one credential encrypted at rest in an option store.
	Store struct {
		options   store.OptionStore
		key       []byte
		optionKey string
		random    io.Reader
		logger    *logging.Logger
	}

	// Option configures a Store during construction.
	Option func(*Store)
)

// WithOptionKey overrides DefaultOptionKey.
func WithOptionKey(key string) Option {
	return func(s *Store) {
		s.optionKey = key
	}
}

// WithRandom sets the IV source. Defaults to crypto/rand.
func WithRandom(r io.Reader) Option {
	return func(s *Store) {
		s.random = r
	}
}

// WithLogger sets the logger used for storage diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore derives the encryption key from material and returns a Store
// persisting into options.
func NewStore(options store.OptionStore, material KeyMaterial, opts ...Option) (*Store, error) {
	key, err := material.DeriveKey()
	if err != nil {
		return nil, err
	}

	s := &Store{
		options:   options,
		key:       key,
		optionKey: DefaultOptionKey,
		random:    rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DeriveKey returns SHA-256 over the concatenated secrets, or over the salt
// when no secret is set.
func (m KeyMaterial) DeriveKey() ([]byte, error) {
	var sb strings.Builder
	for i, secret := range m.Secrets {
		if i == 4 {
			break
		}
		sb.WriteString(secret)
	}

	input := sb.String()
	if input == "" {
		input = m.Salt
	}
	if input == "" {
		return nil, ErrNoKeyMaterial
	}

	sum := sha256.Sum256([]byte(input))
	return sum[:], nil
}

// Save stores value. An empty value deletes the stored credential. A value
// that already decrypts under the current key is stored verbatim; anything
// else is encrypted first.
func (s *Store) Save(value string) error {
	if value == "" {
		return s.Clear()
	}

	envelope := value
	if s.Decrypt(value) == "" {
		encrypted, err := s.Encrypt(value)
		if err != nil {
			return err
		}
		envelope = encrypted
	}

	if err := s.options.Set(s.optionKey, []byte(envelope)); err != nil {
		s.logger.Error(logCategory, "failed to persist credential", logging.Fields{"error": err.Error()})
		return fmt.Errorf("saving credential: %w", err)
	}
	return nil
}

// Get returns the decrypted credential, or "" when nothing is stored or the
// stored envelope no longer decrypts. Only storage failures produce an error.
func (s *Store) Get() (string, error) {
	raw, ok, err := s.options.Get(s.optionKey)
	if err != nil {
		return "", fmt.Errorf("reading credential: %w", err)
	}
	if !ok {
		return "", nil
	}
	return s.Decrypt(string(raw)), nil
}

// HasStored reports whether an envelope is stored, decryptable or not.
func (s *Store) HasStored() (bool, error) {
	raw, ok, err := s.options.Get(s.optionKey)
	if err != nil {
		return false, fmt.Errorf("reading credential: %w", err)
	}
	return ok && len(raw) > 0, nil
}

// Clear deletes the stored credential.
func (s *Store) Clear() error {
	if err := s.options.Delete(s.optionKey); err != nil {
		return fmt.Errorf("clearing credential: %w", err)
	}
	return nil
}

// Encrypt seals plaintext with AES-256-CBC under a fresh IV and returns
// base64(base64(ciphertext) + "::" + base64(iv)). Empty input yields "".
func (s *Store) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("initializing cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(s.random, iv); err != nil {
		return "", fmt.Errorf("generating IV: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	inner := base64.StdEncoding.EncodeToString(ciphertext) +
		envelopeDelimiter +
		base64.StdEncoding.EncodeToString(iv)
	return base64.StdEncoding.EncodeToString([]byte(inner)), nil
}

// Decrypt reverses Encrypt. Any malformed input, wrong key or padding
// failure yields "".
func (s *Store) Decrypt(envelope string) string {
	if envelope == "" {
		return ""
	}

	inner, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return ""
	}

	ctPart, ivPart, found := strings.Cut(string(inner), envelopeDelimiter)
	if !found || strings.Contains(ivPart, envelopeDelimiter) {
		return ""
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ctPart)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return ""
	}
	iv, err := base64.StdEncoding.DecodeString(ivPart)
	if err != nil || len(iv) != aes.BlockSize {
		return ""
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return ""
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	unpadded, ok := pkcs7Unpad(plain, aes.BlockSize)
	if !ok || !utf8.Valid(unpadded) {
		return ""
	}
	return string(unpadded)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
