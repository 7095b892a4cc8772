package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrTokenUseBackend = errors.New("token use backend unavailable")

// TokenUseStore remembers token ids that were already redeemed so
// single-use tokens cannot be replayed before they expire.
type TokenUseStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewTokenUseStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *TokenUseStore {
	if prefix == "" {
		prefix = "fg:used"
	}
	if now == nil {
		now = time.Now
	}
	return &TokenUseStore{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

// Consume marks tokenID used until expiresAt. It reports false when the id
// had already been consumed.
func (s *TokenUseStore) Consume(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	if tokenID == "" {
		return false, errors.New("token id is required")
	}
	ttl := expiresAt.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}

	ok, err := s.redis.SetNX(ctx, s.prefix+":"+tokenID, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTokenUseBackend, err)
	}
	return ok, nil
}

// Release forgets tokenID so it can be redeemed again. Callers use it when
// a step after Consume failed and the redemption did not happen.
func (s *TokenUseStore) Release(ctx context.Context, tokenID string) error {
	if tokenID == "" {
		return nil
	}
	if err := s.redis.Del(ctx, s.prefix+":"+tokenID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenUseBackend, err)
	}
	return nil
}
