package password

import (
	"errors"
	"strings"
	"testing"
)

func fastArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newFastArgon2(t *testing.T) *Argon2 {
	t.Helper()

	h, err := NewArgon2(fastArgon2Config())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	return h
}

func TestArgon2HashAndVerify(t *testing.T) {
	hasher := newFastArgon2(t)

	hash, err := hasher.Hash("Tr0ub4dor&3-horse")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("Tr0ub4dor&3-horse", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected password verification to succeed")
	}

	ok, err = hasher.Verify("Tr0ub4dor&3-horsE", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected different password to fail")
	}
}

func TestArgon2SaltsDiffer(t *testing.T) {
	hasher := newFastArgon2(t)

	a, err := hasher.Hash("same-password-1A!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	b, err := hasher.Hash("same-password-1A!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct hashes for the same password")
	}
}

func TestArgon2NeedsUpgrade(t *testing.T) {
	weak := newFastArgon2(t)
	hash, err := weak.Hash("upgrade-me-Please1!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	cfg := fastArgon2Config()
	cfg.Time = 2
	strong, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	upgrade, err := strong.NeedsUpgrade(hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if !upgrade {
		t.Fatal("expected upgrade for weaker time cost")
	}

	upgrade, err = weak.NeedsUpgrade(hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if upgrade {
		t.Fatal("expected no upgrade for identical parameters")
	}
}

func TestArgon2RejectsMalformedInput(t *testing.T) {
	hasher := newFastArgon2(t)

	if _, err := hasher.Verify("whatever", "not-a-hash"); !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("expected ErrMalformedHash, got %v", err)
	}
	if _, err := hasher.Verify("whatever", "$bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA"); !errors.Is(err, ErrUnsupportedHash) {
		t.Fatalf("expected ErrUnsupportedHash, got %v", err)
	}
	if _, err := hasher.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
	if _, err := hasher.Hash(strings.Repeat("a", defaultMaxPasswordBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	cfg := fastArgon2Config()
	cfg.Memory = 1024
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected error for low memory")
	}

	cfg = fastArgon2Config()
	cfg.SaltLength = 8
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected error for short salt")
	}
}
