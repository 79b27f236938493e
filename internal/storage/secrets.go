package storage

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/piwi3910/vnfm/internal/models"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	sealedPrefix = "enc:v1:"
	nonceSize    = 24
	keyInfo      = "vnfm at-rest credentials v1"

	// sealedScheme names the encryption of a sealed record.
	sealedScheme = "secretbox-hkdf-sha256-v1"
)

// ErrDecrypt is returned when a sealed value cannot be opened.
var ErrDecrypt = errors.New("failed to decrypt sealed value")

// sealedRecord is the stored form of a record written with encryption
// enabled. Every non-empty credential string inside Record is ciphertext.
// Records without the envelope are plaintext, whatever their values
// look like.
type sealedRecord struct {
	Scheme string          `json:"$sealed"`
	Record json.RawMessage `json:"$record"`
}

// Sealer encrypts credential values inside JSON records.
// A Sealer built from an empty secret passes values through unchanged.
type Sealer struct {
	key     [32]byte
	enabled bool
}

// NewSealer derives the record encryption key from secret with HKDF-SHA256.
func NewSealer(secret string) (*Sealer, error) {
	s := &Sealer{}
	if secret == "" {
		return s, nil
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo))
	if _, err := io.ReadFull(r, s.key[:]); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	s.enabled = true
	return s, nil
}

// Enabled reports whether values are actually encrypted.
func (s *Sealer) Enabled() bool {
	return s != nil && s.enabled
}

// Seal encrypts one value. Every call produces fresh ciphertext, so
// sealing a sealed value wraps it again.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if !s.Enabled() {
		return plaintext, nil
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(box), nil
}

// Open decrypts one value produced by Seal.
func (s *Sealer) Open(value string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("%w: no encryption key configured", ErrDecrypt)
	}
	encoded, ok := strings.CutPrefix(value, sealedPrefix)
	if !ok {
		return "", fmt.Errorf("%w: unknown format", ErrDecrypt)
	}
	box, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(box) < nonceSize {
		return "", fmt.Errorf("%w: malformed value", ErrDecrypt)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// Marshal encodes v as JSON. With encryption enabled every credential
// value is sealed and the document is wrapped in a sealed envelope.
func (s *Sealer) Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if !s.Enabled() {
		return raw, nil
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := models.WalkSensitive(doc, s.Seal); err != nil {
		return nil, err
	}
	sealed, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sealedRecord{Scheme: sealedScheme, Record: sealed})
}

// Unmarshal decodes data into out. Credential values of a sealed
// envelope are opened; plaintext records decode as they are.
func (s *Sealer) Unmarshal(data []byte, out interface{}) error {
	env := decodeEnvelope(data)
	if env == nil {
		return json.Unmarshal(data, out)
	}
	if env.Scheme != sealedScheme {
		return fmt.Errorf("%w: unsupported scheme %q", ErrDecrypt, env.Scheme)
	}

	var doc interface{}
	if err := json.Unmarshal(env.Record, &doc); err != nil {
		return err
	}
	if err := models.WalkSensitive(doc, s.Open); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// decodeEnvelope returns the sealed envelope of data, or nil for a
// plaintext record.
func decodeEnvelope(data []byte) *sealedRecord {
	if !bytes.Contains(data, []byte(`"$sealed"`)) {
		return nil
	}
	var env sealedRecord
	if err := json.Unmarshal(data, &env); err != nil || env.Scheme == "" {
		return nil
	}
	return &env
}
