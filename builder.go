package fileGate

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/fileGate/internal/queue"
	"github.com/MrEthical07/fileGate/internal/stores"
	"github.com/MrEthical07/fileGate/lockout"
	"github.com/MrEthical07/fileGate/mfa"
	"github.com/MrEthical07/fileGate/password"
	"github.com/MrEthical07/fileGate/token"
	"github.com/redis/go-redis/v9"
)

// Builder collects the Engine's collaborators. A Builder builds once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	repo      Repository
	mailer    Mailer
	files     FileStore
	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing MFA staging, MFA login challenges and
// single-use token tracking.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithRepository(repo Repository) *Builder {
	b.repo = repo
	return b
}

// WithMailer sets the outbound mail collaborator. Without one, mail is
// logged and skipped.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithFileStore(fs FileStore) *Builder {
	b.files = fs
	return b
}

// WithAuditSink sets the audit destination and enables audit dispatch.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for every expiry, lock and TOTP computation.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.repo == nil {
		return nil, errors.New("repository required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	engine := &Engine{
		config: cfg,
		repo:   b.repo,
		files:  b.files,
		logger: logger,
		now:    now,
	}

	// -------- TOKENS --------
	tm, err := token.NewManager(token.Config{
		Secret:        cloneBytes(cfg.Token.Secret),
		Issuer:        cfg.Token.Issuer,
		KeyID:         cfg.Token.KeyID,
		VerifySecrets: cfg.Token.VerifySecrets,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = tm

	// -------- PASSWORDS --------
	argon, err := password.NewArgon2(cfg.Password.Argon2)
	if err != nil {
		return nil, err
	}
	if cfg.Password.AcceptLegacyBcrypt {
		bc, err := password.NewBcrypt(cfg.Password.BcryptCost)
		if err != nil {
			return nil, err
		}
		engine.hasher = password.NewMulti(argon, bc)
	} else {
		engine.hasher = password.NewMulti(argon)
	}
	engine.policy = password.Policy{
		MinLength:       cfg.Password.MinLength,
		GeneratedLength: cfg.Password.GeneratedLength,
	}
	// Unknown handles are checked against this hash so they cost as much as
	// a wrong password.
	engine.dummyHash, err = argon.Hash("fileGate-timing-equalizer")
	if err != nil {
		return nil, err
	}

	// -------- MFA --------
	ms, err := mfa.New(mfa.Config{
		Period:    cfg.MFA.Period,
		Digits:    cfg.MFA.Digits,
		Algorithm: cfg.MFA.Algorithm,
	})
	if err != nil {
		return nil, err
	}
	engine.mfa = ms

	// -------- LOCKOUT --------
	lm, err := lockout.New(lockout.Policy{
		Threshold: cfg.Lockout.MaxLoginAttempts,
		Duration:  cfg.Lockout.Duration,
	})
	if err != nil {
		return nil, err
	}
	engine.lockout = lm

	// -------- REDIS STORES --------
	prefix := cfg.Redis.KeyPrefix
	engine.staging = stores.NewMFAStagingStore(b.redis, prefix+":mfas", now)
	engine.challenges = stores.NewMFALoginChallengeStore(b.redis, prefix+":mfac", now)
	engine.tokenUse = stores.NewTokenUseStore(b.redis, prefix+":used", now)

	// -------- ASYNC WORKERS --------
	engine.metrics = NewMetrics(cfg.Metrics)
	if cfg.Audit.Enabled {
		sink := b.auditSink
		if sink == nil {
			sink = NoOpSink{}
		}
		engine.audit = queue.New(queue.Config{
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink.Emit)
	}
	engine.mailer = b.mailer
	if b.mailer != nil {
		engine.mail = queue.New(queue.Config{
			BufferSize: cfg.Mail.BufferSize,
			DropIfFull: cfg.Mail.DropIfFull,
		}, engine.deliverMail)
	}

	b.built = true

	return engine, nil
}
