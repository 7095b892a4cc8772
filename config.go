package fileGate

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/fileGate/password"
)

// Config is the engine configuration. Start from DefaultConfig and set
// Token.Secret at minimum.
type Config struct {
	Token    TokenConfig
	Lockout  LockoutConfig
	MFA      MFAConfig
	Password PasswordConfig
	Download DownloadConfig
	Mail     MailConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Redis    RedisConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig holds the signing secret and per-purpose lifetimes. Lifetimes
// must satisfy activation > password reset > download.
type TokenConfig struct {
	Secret        []byte
	Issuer        string
	KeyID         string
	VerifySecrets map[string][]byte

	ActivationTTL    time.Duration
	PasswordResetTTL time.Duration
	DownloadTTL      time.Duration
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

type LockoutConfig struct {
	MaxLoginAttempts int
	// Duration of a lock. Zero locks until an explicit unlock.
	Duration time.Duration
}

/*
====================================
MFA CONFIG
====================================
*/

type MFAConfig struct {
	Issuer    string
	Window    int
	Period    uint
	Digits    int
	Algorithm string

	// StagingTTL bounds how long an enrollment secret waits for confirmation.
	StagingTTL time.Duration
	// ChallengeTTL bounds the gap between password and code during login.
	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	MinLength       int
	GeneratedLength int
	Argon2          password.Argon2Config

	// AcceptLegacyBcrypt verifies bcrypt hashes next to Argon2id ones.
	AcceptLegacyBcrypt bool
	BcryptCost         int
	// UpgradeOnLogin rehashes with the primary scheme after a successful
	// login when the stored hash is weaker.
	UpgradeOnLogin bool
}

/*
====================================
DOWNLOAD CONFIG
====================================
*/

type DownloadConfig struct {
	RequireTermsAccepted bool
	// SingleUseTokens rejects a download token the second time it is
	// redeemed. Requires redis.
	SingleUseTokens bool
}

/*
====================================
MAIL CONFIG
====================================
*/

// MailConfig controls outbound mail. Sends run on a background worker;
// BufferSize bounds the queue and SendTimeout each Mailer call.
type MailConfig struct {
	BaseURL     string
	CompanyName string
	BufferSize  int
	SendTimeout time.Duration
	DropIfFull  bool
}

/*
====================================
AUDIT CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
REDIS CONFIG
====================================
*/

type RedisConfig struct {
	KeyPrefix string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults without a signing secret.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Issuer:           "fileGate",
			ActivationTTL:    7 * 24 * time.Hour,
			PasswordResetTTL: 24 * time.Hour,
			DownloadTTL:      30 * time.Minute,
		},
		Lockout: LockoutConfig{
			MaxLoginAttempts: 5,
			Duration:         30 * time.Minute,
		},
		MFA: MFAConfig{
			Issuer:               "DurinsGate Portal",
			Window:               1,
			Period:               30,
			Digits:               6,
			Algorithm:            "SHA1",
			StagingTTL:           10 * time.Minute,
			ChallengeTTL:         5 * time.Minute,
			ChallengeMaxAttempts: 5,
		},
		Password: PasswordConfig{
			MinLength:          12,
			GeneratedLength:    16,
			Argon2:             password.DefaultArgon2Config(),
			AcceptLegacyBcrypt: true,
			BcryptCost:         12,
			UpgradeOnLogin:     true,
		},
		Download: DownloadConfig{
			RequireTermsAccepted: true,
			SingleUseTokens:      false,
		},
		Mail: MailConfig{
			BaseURL:     "http://localhost:8080",
			CompanyName: "DurinsGate",
			BufferSize:  256,
			SendTimeout: 30 * time.Second,
			DropIfFull:  true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Redis: RedisConfig{
			KeyPrefix: "fg",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.Secret = cloneBytes(cfg.Token.Secret)
	if cfg.Token.VerifySecrets != nil {
		out.Token.VerifySecrets = make(map[string][]byte, len(cfg.Token.VerifySecrets))
		for kid, key := range cfg.Token.VerifySecrets {
			out.Token.VerifySecrets[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Token
	if len(c.Token.Secret) == 0 {
		return errors.New("Token Secret is required")
	}
	if len(c.Token.Secret) < 16 {
		return errors.New("Token Secret must be at least 16 bytes")
	}
	if c.Token.ActivationTTL <= 0 || c.Token.PasswordResetTTL <= 0 || c.Token.DownloadTTL <= 0 {
		return errors.New("Token TTLs must be > 0")
	}
	if c.Token.ActivationTTL <= c.Token.PasswordResetTTL {
		return errors.New("Token ActivationTTL must exceed PasswordResetTTL")
	}
	if c.Token.PasswordResetTTL <= c.Token.DownloadTTL {
		return errors.New("Token PasswordResetTTL must exceed DownloadTTL")
	}

	// Lockout
	if c.Lockout.MaxLoginAttempts < 1 {
		return errors.New("Lockout MaxLoginAttempts must be >= 1")
	}
	if c.Lockout.Duration < 0 {
		return errors.New("Lockout Duration must be >= 0")
	}

	// MFA
	if strings.TrimSpace(c.MFA.Issuer) == "" {
		return errors.New("MFA Issuer is required")
	}
	if c.MFA.Window < 0 || c.MFA.Window > 10 {
		return errors.New("MFA Window must be between 0 and 10")
	}
	if c.MFA.Period == 0 {
		return errors.New("MFA Period must be > 0")
	}
	if c.MFA.Digits != 6 && c.MFA.Digits != 8 {
		return errors.New("MFA Digits must be 6 or 8")
	}
	if c.MFA.StagingTTL <= 0 || c.MFA.ChallengeTTL <= 0 {
		return errors.New("MFA StagingTTL and ChallengeTTL must be > 0")
	}
	if c.MFA.ChallengeMaxAttempts < 1 {
		return errors.New("MFA ChallengeMaxAttempts must be >= 1")
	}

	// Password
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.GeneratedLength < c.Password.MinLength {
		return errors.New("Password GeneratedLength must be >= MinLength")
	}

	// Mail
	if c.Mail.BufferSize < 0 {
		return errors.New("Mail BufferSize must be >= 0")
	}
	if c.Mail.SendTimeout <= 0 {
		return errors.New("Mail SendTimeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if strings.TrimSpace(c.Redis.KeyPrefix) == "" {
		return errors.New("Redis KeyPrefix is required")
	}

	return nil
}
