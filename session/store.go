package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/threemaGW/tfa"
)

// ErrRedisUnavailable wraps backend failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

const defaultTTL = 30 * time.Minute

// deleteSessionScript removes every provider entry of a session and its
// index. It returns the number of entries removed.
const deleteSessionScript = `
local providers = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, provider in ipairs(providers) do
  removed = removed + redis.call("DEL", ARGV[1] .. provider)
end
redis.call("DEL", KEYS[1])
return removed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store keeps session-scoped provider data.
type Store struct {
	redis   redis.UniversalClient
	prefix  string
	ttl     time.Duration
	sliding bool
}

// NewStore creates a Store. A zero ttl falls back to 30 minutes.
func NewStore(redisClient redis.UniversalClient, prefix string, ttl time.Duration, sliding bool) *Store {
	if prefix == "" {
		prefix = "tgw"
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{redis: redisClient, prefix: prefix, ttl: ttl, sliding: sliding}
}

func (s *Store) entryPrefix(sessionID string) string {
	return s.prefix + ":sd:" + sessionID + ":"
}

func (s *Store) key(sessionID, providerID string) string {
	return s.entryPrefix(sessionID) + providerID
}

func (s *Store) indexKey(sessionID string) string {
	return s.prefix + ":sdi:" + sessionID
}

// Load returns the entry and, for sliding stores, extends its expiry.
func (s *Store) Load(ctx context.Context, sessionID, providerID string) (*tfa.ProviderData, error) {
	if sessionID == "" {
		return nil, tfa.ErrNoProviderData
	}
	var cmd *redis.StringCmd
	if s.sliding {
		cmd = s.redis.GetEx(ctx, s.key(sessionID, providerID), s.ttl)
	} else {
		cmd = s.redis.Get(ctx, s.key(sessionID, providerID))
	}
	raw, err := cmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, tfa.ErrNoProviderData
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return tfa.DecodeProviderData(raw)
}

// Save writes the entry with a fresh TTL.
func (s *Store) Save(ctx context.Context, sessionID, providerID string, data *tfa.ProviderData) error {
	if sessionID == "" {
		return errors.New("session: empty session id")
	}
	encoded, err := tfa.EncodeProviderData(data)
	if err != nil {
		return err
	}
	index := s.indexKey(sessionID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sessionID, providerID), encoded, s.ttl)
		pipe.SAdd(ctx, index, providerID)
		pipe.Expire(ctx, index, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Update applies fn under WATCH and keeps the remaining TTL.
func (s *Store) Update(ctx context.Context, sessionID, providerID string, fn func(*tfa.ProviderData) error) (*tfa.ProviderData, error) {
	if sessionID == "" {
		return nil, tfa.ErrNoProviderData
	}
	const maxRetries = 4
	key := s.key(sessionID, providerID)

	for i := 0; i < maxRetries; i++ {
		var committed *tfa.ProviderData
		var fnErr error
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			data, err := tfa.DecodeProviderData(raw)
			if err != nil {
				return err
			}
			if fnErr = fn(data); fnErr != nil {
				return fnErr
			}
			encoded, err := tfa.EncodeProviderData(data)
			if err != nil {
				return err
			}
			ttl := s.ttl
			if !s.sliding {
				remaining, err := tx.PTTL(ctx, key).Result()
				if err != nil {
					return err
				}
				if remaining > 0 {
					ttl = remaining
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				return nil
			})
			if err == nil {
				committed = data
			}
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if fnErr != nil {
			return nil, fnErr
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, tfa.ErrNoProviderData
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return committed, nil
	}
	return nil, fmt.Errorf("%w: too much contention on %s", ErrRedisUnavailable, key)
}

// Delete removes one provider entry. Deleting a missing entry is not an error.
func (s *Store) Delete(ctx context.Context, sessionID, providerID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sessionID, providerID))
		pipe.SRem(ctx, s.indexKey(sessionID), providerID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteSession removes every entry of sessionID, for example on logout.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	n, err := deleteSessionLua.Run(ctx, s.redis, []string{s.indexKey(sessionID)}, s.entryPrefix(sessionID)).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}
