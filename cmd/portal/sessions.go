package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	fileGate "github.com/MrEthical07/fileGate"
	"github.com/MrEthical07/fileGate/internal"
	"github.com/MrEthical07/fileGate/middleware"
	"github.com/redis/go-redis/v9"
)

const sessionCookie = "filegate_session"

// sessionStore keeps signed-in principals in redis hashes. Each request
// that resolves a session slides its expiry forward.
type sessionStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	secure bool
}

var _ middleware.SessionResolver = (*sessionStore)(nil)

func newSessionStore(client redis.UniversalClient, prefix string, ttl time.Duration, secure bool) *sessionStore {
	if prefix == "" {
		prefix = "fg:sess"
	}
	return &sessionStore{redis: client, prefix: prefix, ttl: ttl, secure: secure}
}

func (s *sessionStore) key(sid internal.SessionID) string {
	return s.prefix + ":" + sid.Digest()
}

// Create stores p under a fresh id and sets the cookie.
func (s *sessionStore) Create(ctx context.Context, w http.ResponseWriter, p middleware.Principal) (string, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return "", err
	}
	id := sid.String()

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, s.key(sid),
		"account_id", strconv.FormatInt(p.AccountID, 10),
		"handle", p.Handle,
		"role", string(p.Role),
	)
	pipe.Expire(ctx, s.key(sid), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("session create: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id, nil
}

func (s *sessionStore) Resolve(r *http.Request) (*middleware.Principal, error) {
	sid, ok := sessionID(r)
	if !ok {
		return nil, middleware.ErrNoSession
	}

	ctx := r.Context()
	fields, err := s.redis.HGetAll(ctx, s.key(sid)).Result()
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if len(fields) == 0 {
		return nil, middleware.ErrNoSession
	}
	accountID, err := strconv.ParseInt(fields["account_id"], 10, 64)
	if err != nil {
		return nil, errors.New("session record corrupt")
	}
	_ = s.redis.Expire(ctx, s.key(sid), s.ttl).Err()

	return &middleware.Principal{
		AccountID: accountID,
		Handle:    fields["handle"],
		Role:      fileGate.Role(fields["role"]),
	}, nil
}

// Destroy drops the session named by the request cookie and clears it.
func (s *sessionStore) Destroy(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	sid, ok := sessionID(r)
	if !ok {
		return nil
	}
	return s.redis.Del(r.Context(), s.key(sid)).Err()
}

// sessionID reads the cookie. Malformed values are treated as absent.
func sessionID(r *http.Request) (internal.SessionID, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return internal.SessionID{}, false
	}
	sid, err := internal.ParseSessionID(c.Value)
	if err != nil {
		return internal.SessionID{}, false
	}
	return sid, true
}

// enrollmentKey ties MFA staging to the current session. Guarded routes
// always carry a valid cookie.
func enrollmentKey(r *http.Request) string {
	sid, _ := sessionID(r)
	return sid.Digest()
}
