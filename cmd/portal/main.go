// Command portal runs the customer file portal: sign-in with lockout and
// optional TOTP, account activation and password reset by mailed link, and
// assignment-gated file downloads.
//
// Configuration comes from an optional TOML file (PORTAL_CONFIG), then a
// .env file, then environment variables. SECRET_KEY is required.
//
// Run:
//
//	SECRET_KEY=change-me-change-me go run ./cmd/portal
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	fileGate "github.com/MrEthical07/fileGate"
	"github.com/MrEthical07/fileGate/filestore"
	"github.com/MrEthical07/fileGate/internal/observability"
	"github.com/MrEthical07/fileGate/internal/rate"
	"github.com/MrEthical07/fileGate/middleware"
	"github.com/MrEthical07/fileGate/store/sqlstore"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "portal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig(os.Getenv("PORTAL_CONFIG"), os.Getenv)
	if err != nil {
		return err
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Environment); err != nil {
		fmt.Fprintln(os.Stderr, "portal: init sentry:", err)
	}
	defer observability.FlushSentry()

	logger := slog.New(observability.NewSentryHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()}),
		nil,
		slog.LevelError,
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// -------- persistence --------
	dialect, dsn := splitDatabaseURL(cfg.DatabaseURL)
	repo, err := sqlstore.Open(ctx, dialect, dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	files, closeFiles, err := openFileStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeFiles()

	var mailer fileGate.Mailer = logMailer{logger: logger}
	if cfg.Mail.Server != "" {
		mailer = newSMTPMailer(cfg.Mail)
	}

	// -------- engine --------
	engine, err := fileGate.New().
		WithConfig(cfg.engineConfig()).
		WithRedis(rdb).
		WithRepository(repo).
		WithFileStore(files).
		WithMailer(mailer).
		WithAuditSink(fileGate.NewJSONWriterSink(os.Stdout)).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("engine build: %w", err)
	}
	defer engine.Close()

	if err := bootstrapAdmin(ctx, engine, cfg.Admin, logger); err != nil {
		return err
	}

	srv := &server{
		engine:   engine,
		sessions: newSessionStore(rdb, "fg:sess", cfg.SessionTTL.Duration, cfg.SecureCookies),
		logger:   logger,
		baseURL:  cfg.BaseURL,
		checks: map[string]pinger{
			"database": repo,
			"redis":    redisPinger{rdb},
		},
		limiter: rate.New(rdb, "fg:rl", rate.Rule{Limit: cfg.RateLimitPerHour, Window: time.Hour}),
	}
	handler := observability.Recover(logger, observability.RequestLogging(logger, srv.routes(cfg.TrustedProxies)))

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return httpServer.Shutdown(shutdownCtx)
}

type redisPinger struct {
	client redis.UniversalClient
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// splitDatabaseURL picks the dialect from the URL scheme. "sqlite:" and
// "file:" select SQLite; anything else is handed to pgx.
func splitDatabaseURL(url string) (sqlstore.Dialect, string) {
	switch {
	case strings.HasPrefix(url, "sqlite://"):
		return sqlstore.SQLite, strings.TrimPrefix(url, "sqlite://")
	case strings.HasPrefix(url, "sqlite:"):
		return sqlstore.SQLite, strings.TrimPrefix(url, "sqlite:")
	case strings.HasPrefix(url, "file:"):
		return sqlstore.SQLite, url
	default:
		return sqlstore.Postgres, url
	}
}

func openFileStore(ctx context.Context, cfg storageSection) (fileGate.FileStore, func(), error) {
	if cfg.S3Bucket != "" {
		s3, err := filestore.NewS3(ctx, filestore.S3Config{
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretKey:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
			UsePathStyle: cfg.UsePathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		return s3, func() {}, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("storage dir: %w", err)
	}
	local, err := filestore.NewLocal(cfg.Dir)
	if err != nil {
		return nil, nil, err
	}
	return local, func() { _ = local.Close() }, nil
}

// bootstrapAdmin creates the configured administrator once.
func bootstrapAdmin(ctx context.Context, engine *fileGate.Engine, cfg adminSection, logger *slog.Logger) error {
	if cfg.Handle == "" || cfg.Password == "" {
		return nil
	}
	_, err := engine.CreateAdmin(ctx, cfg.Handle, cfg.Email, cfg.Password)
	if errors.Is(err, fileGate.ErrAccountExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	logger.Info("admin account created", slog.String("handle", cfg.Handle))
	return nil
}

func parseProxies(raw []string, logger *slog.Logger) []netip.Prefix {
	if len(raw) == 0 {
		return middleware.DefaultTrustedProxies
	}
	out := make([]netip.Prefix, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		p, err := netip.ParsePrefix(s)
		if err != nil {
			addr, addrErr := netip.ParseAddr(s)
			if addrErr != nil {
				logger.Warn("ignoring trusted proxy", slog.String("value", s))
				continue
			}
			p = netip.PrefixFrom(addr, addr.BitLen())
		}
		out = append(out, p)
	}
	return out
}

func logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(envOrDefault("LOG_LEVEL", "INFO"))); err != nil {
		return slog.LevelInfo
	}
	return level
}
