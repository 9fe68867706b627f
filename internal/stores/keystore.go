package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var ErrKeystoreBackend = errors.New("keystore backend unavailable")

// Keystore caches public keys by Threema ID. Entries are written once.
type Keystore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewKeystore(redisClient redis.UniversalClient, prefix string) *Keystore {
	if prefix == "" {
		prefix = "tgw"
	}
	return &Keystore{redis: redisClient, prefix: prefix}
}

func (s *Keystore) key(threemaID string) string {
	return s.prefix + ":key:" + threemaID
}

// Lookup returns the cached key of threemaID.
func (s *Keystore) Lookup(ctx context.Context, threemaID string) ([32]byte, bool, error) {
	var key [32]byte
	raw, err := s.redis.Get(ctx, s.key(threemaID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return key, false, nil
		}
		return key, false, fmt.Errorf("%w: %v", ErrKeystoreBackend, err)
	}
	if len(raw) != len(key) {
		return key, false, fmt.Errorf("%w: corrupt key for %s", ErrKeystoreBackend, threemaID)
	}
	copy(key[:], raw)
	return key, true, nil
}

// Store inserts the key unless one is already known. It returns false if
// an entry existed.
func (s *Keystore) Store(ctx context.Context, threemaID string, key [32]byte) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.key(threemaID), key[:], 0).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrKeystoreBackend, err)
	}
	return ok, nil
}
