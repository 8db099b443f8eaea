package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
)

func newTestSealer(t *testing.T) (*Sealer, *age.X25519Identity) {
	t.Helper()
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate age identity: %v", err)
	}
	s, err := NewSealer(identity)
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	return s, identity
}

func TestSealRoundTrip(t *testing.T) {
	t.Parallel()
	s, _ := newTestSealer(t)
	sealed, err := s.Seal("s3cr|et\\pw")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !IsSealed(sealed) {
		t.Fatalf("sealed value missing armor header: %q", sealed)
	}
	if strings.Contains(sealed, "s3cr") {
		t.Fatalf("sealed value leaks plaintext")
	}
	if strings.Contains(sealed, "|") {
		t.Fatalf("sealed value contains row separator")
	}
	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if opened != "s3cr|et\\pw" {
		t.Fatalf("opened = %q", opened)
	}
}

func TestSealPassThrough(t *testing.T) {
	t.Parallel()
	var s *Sealer
	if s.Enabled() {
		t.Fatalf("nil sealer reports enabled")
	}
	got, err := s.Seal("plain")
	if err != nil || got != "plain" {
		t.Fatalf("nil seal = %q, %v", got, err)
	}
	got, err = s.Open("plain")
	if err != nil || got != "plain" {
		t.Fatalf("nil open = %q, %v", got, err)
	}

	enabled, _ := newTestSealer(t)
	got, err = enabled.Seal("")
	if err != nil || got != "" {
		t.Fatalf("empty seal = %q, %v", got, err)
	}
	got, err = enabled.Open("legacy-plaintext")
	if err != nil || got != "legacy-plaintext" {
		t.Fatalf("legacy open = %q, %v", got, err)
	}
}

func TestOpenWithoutIdentity(t *testing.T) {
	t.Parallel()
	s, _ := newTestSealer(t)
	sealed, err := s.Seal("pw")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	var none *Sealer
	if _, err := none.Open(sealed); err != ErrNoIdentity {
		t.Fatalf("open without identity err = %v, want ErrNoIdentity", err)
	}
	other, _ := newTestSealer(t)
	if _, err := other.Open(sealed); err == nil {
		t.Fatalf("expected decrypt error with foreign identity")
	}
}

func TestLoadSealer(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()

	s, err := LoadSealer("  ")
	if err != nil || s != nil {
		t.Fatalf("empty path = %v, %v", s, err)
	}

	keyPath := filepath.Join(tmp, "keys", "apnd.key")
	recipient, err := GenerateKeyFile(keyPath)
	if err != nil {
		t.Fatalf("generate key file: %v", err)
	}
	if !strings.HasPrefix(recipient, "age1") {
		t.Fatalf("recipient = %q", recipient)
	}
	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("stat key: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("key mode = %v", info.Mode().Perm())
	}
	if _, err := GenerateKeyFile(keyPath); err == nil {
		t.Fatalf("expected error overwriting key file")
	}

	s, err = LoadSealer(keyPath)
	if err != nil {
		t.Fatalf("load sealer: %v", err)
	}
	sealed, err := s.Seal("pw")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	opened, err := s.Open(sealed)
	if err != nil || opened != "pw" {
		t.Fatalf("open = %q, %v", opened, err)
	}

	if _, err := LoadSealer(filepath.Join(tmp, "missing.key")); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestParseAgeIdentities(t *testing.T) {
	t.Parallel()
	_, identity := newTestSealer(t)
	data := []byte("# comment\n\nnot-a-key\n" + identity.String() + "\n")
	ids, err := parseAgeIdentities(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ids) != 1 || ids[0].String() != identity.String() {
		t.Fatalf("parsed identities = %v", ids)
	}
	if _, err := parseAgeIdentities([]byte("# empty\n")); err == nil {
		t.Fatalf("expected error for key file without identities")
	}
	if _, err := parseAgeIdentities([]byte("AGE-SECRET-KEY-BOGUS\n")); err == nil {
		t.Fatalf("expected parse error")
	}
}
