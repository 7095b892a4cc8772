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

const mfaStagingRecordVersion1 = 1

var (
	ErrMFAStagingNotFound = errors.New("mfa staging record not found")
	ErrMFAStagingExpired  = errors.New("mfa staging record expired")
	ErrMFAStagingBackend  = errors.New("mfa staging backend unavailable")
)

// StagedSecret is a TOTP secret generated for a session but not yet
// attached to the account.
type StagedSecret struct {
	AccountID int64
	Secret    string
	ExpiresAt int64
}

// MFAStagingStore keys staged secrets by session id. Records are never shared
// across sessions and disappear on commit, cancel or TTL.
type MFAStagingStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewMFAStagingStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *MFAStagingStore {
	if prefix == "" {
		prefix = "fg:mfas"
	}
	if now == nil {
		now = time.Now
	}
	return &MFAStagingStore{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

func (s *MFAStagingStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *MFAStagingStore) Save(ctx context.Context, sessionID string, record *StagedSecret, ttl time.Duration) error {
	encoded, err := encodeStagedSecret(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(sessionID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMFAStagingBackend, err)
	}
	return nil
}

func (s *MFAStagingStore) Get(ctx context.Context, sessionID string) (*StagedSecret, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMFAStagingNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrMFAStagingBackend, err)
	}

	record, err := decodeStagedSecret(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() >= record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(sessionID)).Result()
		return nil, ErrMFAStagingExpired
	}
	return record, nil
}

func (s *MFAStagingStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMFAStagingBackend, err)
	}
	return n > 0, nil
}

func encodeStagedSecret(record *StagedSecret) ([]byte, error) {
	if len(record.Secret) == 0 || len(record.Secret) > 255 {
		return nil, errors.New("mfa staging secret length invalid")
	}

	var buf bytes.Buffer
	buf.WriteByte(mfaStagingRecordVersion1)
	if err := binary.Write(&buf, binary.BigEndian, record.AccountID); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.WriteByte(byte(len(record.Secret)))
	buf.WriteString(record.Secret)

	return buf.Bytes(), nil
}

func decodeStagedSecret(data []byte) (*StagedSecret, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != mfaStagingRecordVersion1 {
		return nil, errors.New("invalid mfa staging version")
	}

	record := &StagedSecret{}
	if err := binary.Read(reader, binary.BigEndian, &record.AccountID); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	n, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	secret := make([]byte, n)
	if _, err := io.ReadFull(reader, secret); err != nil {
		return nil, err
	}
	record.Secret = string(secret)

	return record, nil
}
