// Package mfa generates TOTP secrets and provisioning URIs and verifies codes
// with a configurable clock-skew window.
package mfa

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const secretBytes = 20

var (
	ErrInvalidSecret = errors.New("invalid totp secret")
	ErrMissingLabel  = errors.New("totp account label and issuer are required")
)

var b32NoPadding = base32.StdEncoding.WithPadding(base32.NoPadding)

type Config struct {
	Period    uint
	Digits    int
	Algorithm string
}

func DefaultConfig() Config {
	return Config{
		Period:    30,
		Digits:    6,
		Algorithm: "SHA1",
	}
}

type Service struct {
	period    uint
	digits    otp.Digits
	algorithm otp.Algorithm
	rand      io.Reader
}

func New(cfg Config) (*Service, error) {
	if cfg.Period == 0 {
		return nil, errors.New("totp period must be > 0")
	}
	if cfg.Digits != 6 && cfg.Digits != 8 {
		return nil, errors.New("totp digits must be 6 or 8")
	}

	var alg otp.Algorithm
	switch strings.ToUpper(cfg.Algorithm) {
	case "", "SHA1":
		alg = otp.AlgorithmSHA1
	case "SHA256":
		alg = otp.AlgorithmSHA256
	case "SHA512":
		alg = otp.AlgorithmSHA512
	default:
		return nil, errors.New("totp algorithm must be SHA1, SHA256 or SHA512")
	}

	return &Service{
		period:    cfg.Period,
		digits:    otp.Digits(cfg.Digits),
		algorithm: alg,
		rand:      rand.Reader,
	}, nil
}

// GenerateSecret returns a fresh 160-bit secret, base32 encoded without padding.
func (s *Service) GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := io.ReadFull(s.rand, raw); err != nil {
		return "", err
	}
	return b32NoPadding.EncodeToString(raw), nil
}

// ProvisioningURI renders the otpauth:// URI authenticator apps scan.
func (s *Service) ProvisioningURI(accountLabel, secret, issuer string) (string, error) {
	if accountLabel == "" || issuer == "" {
		return "", ErrMissingLabel
	}
	raw, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountLabel,
		Period:      s.period,
		Secret:      raw,
		Digits:      s.digits,
		Algorithm:   s.algorithm,
	})
	if err != nil {
		return "", err
	}
	return key.URL(), nil
}

// Verify accepts code when it matches the current time step or any step
// within window on either side.
func (s *Service) Verify(secret, code string, window int, now time.Time) bool {
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != s.digits.Length() {
		return false
	}
	if window < 0 {
		window = 0
	}

	ok, err := totp.ValidateCustom(code, secret, now.UTC(), totp.ValidateOpts{
		Period:    s.period,
		Skew:      uint(window),
		Digits:    s.digits,
		Algorithm: s.algorithm,
	})
	return err == nil && ok
}

// Code returns the code for secret at t.
func (s *Service) Code(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t.UTC(), totp.ValidateOpts{
		Period:    s.period,
		Digits:    s.digits,
		Algorithm: s.algorithm,
	})
}

func decodeSecret(secret string) ([]byte, error) {
	secret = strings.ToUpper(strings.TrimSpace(secret))
	secret = strings.TrimRight(secret, "=")
	raw, err := b32NoPadding.DecodeString(secret)
	if err != nil || len(raw) == 0 {
		return nil, ErrInvalidSecret
	}
	return raw, nil
}
