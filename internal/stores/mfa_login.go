package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	mfaLoginRecordVersion1 = 1
)

var (
	ErrMFALoginChallengeNotFound = errors.New("mfa challenge not found")
	ErrMFALoginChallengeExpired  = errors.New("mfa challenge expired")
	ErrMFALoginChallengeBackend  = errors.New("mfa challenge backend unavailable")
)

// MFALoginChallenge is a login that passed the password check and waits for
// a TOTP code.
type MFALoginChallenge struct {
	AccountID int64
	Handle    string
	ExpiresAt int64
	Attempts  uint16
}

type MFALoginChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewMFALoginChallengeStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *MFALoginChallengeStore {
	if prefix == "" {
		prefix = "fg:mfac"
	}
	if now == nil {
		now = time.Now
	}
	return &MFALoginChallengeStore{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

func (s *MFALoginChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

func (s *MFALoginChallengeStore) Save(
	ctx context.Context,
	challengeID string,
	record *MFALoginChallenge,
	ttl time.Duration,
) error {
	encoded, err := encodeMFALoginChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMFALoginChallengeBackend, err)
	}
	return nil
}

func (s *MFALoginChallengeStore) Get(ctx context.Context, challengeID string) (*MFALoginChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMFALoginChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrMFALoginChallengeBackend, err)
	}

	record, err := decodeMFALoginChallenge(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, ErrMFALoginChallengeExpired
	}
	return record, nil
}

func (s *MFALoginChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMFALoginChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure counts a wrong code. It reports true, and removes the
// challenge, once maxAttempts is reached.
func (s *MFALoginChallengeStore) RecordFailure(
	ctx context.Context,
	challengeID string,
	maxAttempts int,
) (bool, error) {
	const maxRetries = 4
	key := s.key(challengeID)

	del := func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeMFALoginChallenge(data)
			if err != nil {
				return err
			}

			ttl := time.Unix(record.ExpiresAt, 0).Sub(s.now())
			if ttl <= 0 {
				if err := del(tx); err != nil {
					return err
				}
				return ErrMFALoginChallengeExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				return del(tx)
			}

			updated, err := encodeMFALoginChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrMFALoginChallengeNotFound
			}
			if errors.Is(err, ErrMFALoginChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrMFALoginChallengeBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrMFALoginChallengeNotFound
}

func encodeMFALoginChallenge(record *MFALoginChallenge) ([]byte, error) {
	if len(record.Handle) > 65535 {
		return nil, errors.New("mfa challenge handle length exceeded")
	}

	var buf bytes.Buffer
	buf.WriteByte(mfaLoginRecordVersion1)
	for _, v := range []any{record.Attempts, record.ExpiresAt, record.AccountID, uint16(len(record.Handle))} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	buf.WriteString(record.Handle)

	return buf.Bytes(), nil
}

func decodeMFALoginChallenge(data []byte) (*MFALoginChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != mfaLoginRecordVersion1 {
		return nil, errors.New("invalid mfa challenge version")
	}

	record := &MFALoginChallenge{}
	var handleLen uint16
	for _, v := range []any{&record.Attempts, &record.ExpiresAt, &record.AccountID, &handleLen} {
		if err := binary.Read(reader, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	handle := make([]byte, handleLen)
	if _, err := io.ReadFull(reader, handle); err != nil {
		return nil, err
	}
	record.Handle = string(handle)

	return record, nil
}
