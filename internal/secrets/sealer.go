// Package secrets seals APN credentials at rest.
//
// Template passwords are encrypted with age (X25519) and stored as an
// ASCII-armored block so they survive the text row encoding used by the
// store. A nil *Sealer passes values through unchanged, which keeps
// deployments without a key file working.
package secrets

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// ErrNoIdentity is returned when a sealed value is read without a key.
var ErrNoIdentity = errors.New("sealed value requires an age identity")

// Sealer encrypts to, and decrypts with, one or more X25519 identities.
// The first identity in the key file is the encryption recipient.
type Sealer struct {
	recipient  age.Recipient
	identities []age.Identity
}

// NewSealer builds a Sealer from identities. At least one is required.
func NewSealer(identities ...*age.X25519Identity) (*Sealer, error) {
	if len(identities) == 0 {
		return nil, errors.New("no age identities found")
	}
	ids := make([]age.Identity, 0, len(identities))
	for _, id := range identities {
		ids = append(ids, id)
	}
	return &Sealer{recipient: identities[0].Recipient(), identities: ids}, nil
}

// LoadSealer reads an age key file. An empty path returns a nil Sealer and
// no error.
func LoadSealer(keyPath string) (*Sealer, error) {
	keyPath = strings.TrimSpace(keyPath)
	if keyPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read age key %s: %w", keyPath, err)
	}
	identities, err := parseAgeIdentities(data)
	if err != nil {
		return nil, err
	}
	return NewSealer(identities...)
}

// Enabled reports whether values will be encrypted.
func (s *Sealer) Enabled() bool {
	return s != nil && s.recipient != nil
}

// Seal encrypts plaintext. Empty values and a disabled sealer pass through.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if !s.Enabled() || plaintext == "" {
		return plaintext, nil
	}
	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	w, err := age.Encrypt(aw, s.recipient)
	if err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if err := aw.Close(); err != nil {
		return "", fmt.Errorf("age armor: %w", err)
	}
	return buf.String(), nil
}

// Open decrypts a value produced by Seal. Values that are not armored age
// payloads are returned as they are, so rows written before a key was
// configured keep working.
func (s *Sealer) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if s == nil || len(s.identities) == 0 {
		return "", ErrNoIdentity
	}
	r, err := age.Decrypt(armor.NewReader(strings.NewReader(value)), s.identities...)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	return string(out), nil
}

// IsSealed reports whether value looks like an armored age payload.
func IsSealed(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), armor.Header)
}

// GenerateKeyFile writes a fresh X25519 identity to path with mode 0600
// and returns its public recipient string. An existing file is not
// overwritten.
func GenerateKeyFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("age key path is required")
	}
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generate age identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create key dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create age key %s: %w", path, err)
	}
	defer f.Close()
	recipient := identity.Recipient().String()
	content := fmt.Sprintf("# public key: %s\n%s\n", recipient, identity.String())
	if _, err := f.WriteString(content); err != nil {
		return "", fmt.Errorf("write age key %s: %w", path, err)
	}
	return recipient, nil
}

func parseAgeIdentities(data []byte) ([]*age.X25519Identity, error) {
	var identities []*age.X25519Identity
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "AGE-SECRET-KEY-") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("parse age identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read age key: %w", err)
	}
	if len(identities) == 0 {
		return nil, errors.New("no age identities found")
	}
	return identities, nil
}
