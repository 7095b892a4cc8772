package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	fileGate "github.com/MrEthical07/fileGate"
)

// duration decodes "30m" style strings from TOML.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type portalConfig struct {
	ListenAddr     string   `toml:"listen_addr"`
	Environment    string   `toml:"environment"`
	SecretKey      string   `toml:"secret_key"`
	DatabaseURL    string   `toml:"database_url"`
	RedisURL       string   `toml:"redis_url"`
	SentryDSN      string   `toml:"sentry_dsn"`
	CompanyName    string   `toml:"company_name"`
	BaseURL        string   `toml:"base_url"`
	TrustedProxies []string `toml:"trusted_proxies"`
	SessionTTL     duration `toml:"session_ttl"`
	SecureCookies  bool     `toml:"secure_cookies"`

	// RateLimitPerHour caps public form posts per client address. Zero
	// disables the limit.
	RateLimitPerHour int `toml:"rate_limit_per_hour"`

	Security securitySection `toml:"security"`
	Storage  storageSection  `toml:"storage"`
	Mail     mailSection     `toml:"mail"`
	Admin    adminSection    `toml:"admin"`
}

type securitySection struct {
	MaxLoginAttempts     int      `toml:"max_login_attempts"`
	LockoutDuration      duration `toml:"lockout_duration"`
	DownloadTokenTTL     duration `toml:"download_token_ttl"`
	PasswordResetTTL     duration `toml:"password_reset_token_ttl"`
	ActivationTTL        duration `toml:"activation_token_ttl"`
	MFAWindow            int      `toml:"mfa_window"`
	SingleUseDownloads   bool     `toml:"single_use_downloads"`
	RequireTermsAccepted *bool    `toml:"require_terms_accepted"`
}

type storageSection struct {
	Dir          string `toml:"dir"`
	S3Bucket     string `toml:"s3_bucket"`
	S3Prefix     string `toml:"s3_prefix"`
	S3Region     string `toml:"s3_region"`
	S3Endpoint   string `toml:"s3_endpoint"`
	UsePathStyle bool   `toml:"use_path_style"`
}

type mailSection struct {
	Server   string `toml:"server"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Sender   string `toml:"sender"`
}

type adminSection struct {
	Handle   string `toml:"handle"`
	Email    string `toml:"email"`
	Password string `toml:"password"`
}

func defaultPortalConfig() portalConfig {
	def := fileGate.DefaultConfig()
	return portalConfig{
		ListenAddr:  ":8080",
		Environment: "development",
		DatabaseURL: "sqlite:filegate.db",
		RedisURL:    "redis://localhost:6379/0",
		CompanyName: def.Mail.CompanyName,
		BaseURL:     def.Mail.BaseURL,
		SessionTTL:  duration{15 * time.Minute},

		RateLimitPerHour: 50,
		Security: securitySection{
			MaxLoginAttempts: def.Lockout.MaxLoginAttempts,
			LockoutDuration:  duration{def.Lockout.Duration},
			DownloadTokenTTL: duration{def.Token.DownloadTTL},
			PasswordResetTTL: duration{def.Token.PasswordResetTTL},
			ActivationTTL:    duration{def.Token.ActivationTTL},
			MFAWindow:        def.MFA.Window,
		},
		Storage: storageSection{Dir: "uploads"},
		Mail: mailSection{
			Port:   587,
			Sender: "noreply@durinsgate.com",
		},
	}
}

// loadConfig reads path when it is non-empty, then overlays environment
// variables. getenv is os.Getenv outside tests.
func loadConfig(path string, getenv func(string) string) (portalConfig, error) {
	cfg := defaultPortalConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	if cfg.SecretKey == "" {
		return cfg, errors.New("SECRET_KEY is required")
	}
	return cfg, nil
}

func applyEnv(cfg *portalConfig, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	dur := func(key string, unit time.Duration, dst *duration) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		d, err := parseDuration(v, unit)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		dst.Duration = d
	}
	flag := func(key string, dst *bool) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}

	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("APP_ENV", &cfg.Environment)
	str("SECRET_KEY", &cfg.SecretKey)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("REDIS_URL", &cfg.RedisURL)
	str("SENTRY_DSN", &cfg.SentryDSN)
	str("COMPANY_NAME", &cfg.CompanyName)
	str("BASE_URL", &cfg.BaseURL)
	dur("SESSION_TIMEOUT", time.Minute, &cfg.SessionTTL)
	flag("SECURE_COOKIES", &cfg.SecureCookies)
	num("RATE_LIMIT_PER_HOUR", &cfg.RateLimitPerHour)
	if v := strings.TrimSpace(getenv("TRUSTED_PROXIES")); v != "" {
		cfg.TrustedProxies = strings.Split(v, ",")
	}

	num("MAX_LOGIN_ATTEMPTS", &cfg.Security.MaxLoginAttempts)
	dur("ACCOUNT_LOCKOUT_DURATION", time.Minute, &cfg.Security.LockoutDuration)
	dur("DOWNLOAD_TOKEN_TTL", time.Minute, &cfg.Security.DownloadTokenTTL)
	dur("PASSWORD_RESET_TOKEN_TTL", time.Hour, &cfg.Security.PasswordResetTTL)
	dur("ACTIVATION_TOKEN_TTL", time.Hour, &cfg.Security.ActivationTTL)
	num("MFA_WINDOW", &cfg.Security.MFAWindow)
	flag("SINGLE_USE_DOWNLOADS", &cfg.Security.SingleUseDownloads)

	str("STORAGE_DIR", &cfg.Storage.Dir)
	str("S3_BUCKET", &cfg.Storage.S3Bucket)
	str("S3_PREFIX", &cfg.Storage.S3Prefix)
	str("S3_REGION", &cfg.Storage.S3Region)
	str("S3_ENDPOINT", &cfg.Storage.S3Endpoint)

	str("MAIL_SERVER", &cfg.Mail.Server)
	num("MAIL_PORT", &cfg.Mail.Port)
	str("MAIL_USERNAME", &cfg.Mail.Username)
	str("MAIL_PASSWORD", &cfg.Mail.Password)
	str("MAIL_DEFAULT_SENDER", &cfg.Mail.Sender)

	str("ADMIN_HANDLE", &cfg.Admin.Handle)
	str("ADMIN_EMAIL", &cfg.Admin.Email)
	str("ADMIN_PASSWORD", &cfg.Admin.Password)

	return errors.Join(errs...)
}

// parseDuration accepts Go duration strings or a bare integer in unit.
func parseDuration(v string, unit time.Duration) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * unit, nil
	}
	return time.ParseDuration(v)
}

// engineConfig maps the portal settings onto the engine configuration.
func (c portalConfig) engineConfig() fileGate.Config {
	cfg := fileGate.DefaultConfig()
	cfg.Token.Secret = []byte(c.SecretKey)
	cfg.Token.ActivationTTL = c.Security.ActivationTTL.Duration
	cfg.Token.PasswordResetTTL = c.Security.PasswordResetTTL.Duration
	cfg.Token.DownloadTTL = c.Security.DownloadTokenTTL.Duration
	cfg.Lockout.MaxLoginAttempts = c.Security.MaxLoginAttempts
	cfg.Lockout.Duration = c.Security.LockoutDuration.Duration
	cfg.MFA.Window = c.Security.MFAWindow
	cfg.MFA.Issuer = c.CompanyName + " Portal"
	cfg.Download.SingleUseTokens = c.Security.SingleUseDownloads
	if c.Security.RequireTermsAccepted != nil {
		cfg.Download.RequireTermsAccepted = *c.Security.RequireTermsAccepted
	}
	cfg.Mail.BaseURL = c.BaseURL
	cfg.Mail.CompanyName = c.CompanyName
	cfg.Audit.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
