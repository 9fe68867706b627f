package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/threemaGW/tfa"
)

var ErrProviderDataBackend = errors.New("provider data backend unavailable")

// AccountDataStore persists provider data per user and provider. Records
// do not expire.
type AccountDataStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewAccountDataStore(redisClient redis.UniversalClient, prefix string) *AccountDataStore {
	if prefix == "" {
		prefix = "tgw"
	}
	return &AccountDataStore{redis: redisClient, prefix: prefix}
}

func (s *AccountDataStore) key(userID, providerID string) string {
	return s.prefix + ":pd:" + userID + ":" + providerID
}

func (s *AccountDataStore) Load(ctx context.Context, userID, providerID string) (*tfa.ProviderData, error) {
	raw, err := s.redis.Get(ctx, s.key(userID, providerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, tfa.ErrNoProviderData
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderDataBackend, err)
	}
	return tfa.DecodeProviderData(raw)
}

func (s *AccountDataStore) Save(ctx context.Context, userID, providerID string, data *tfa.ProviderData) error {
	encoded, err := tfa.EncodeProviderData(data)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(userID, providerID), encoded, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrProviderDataBackend, err)
	}
	return nil
}

// Update applies fn to the stored record under WATCH and returns the value
// that was committed.
func (s *AccountDataStore) Update(ctx context.Context, userID, providerID string, fn func(*tfa.ProviderData) error) (*tfa.ProviderData, error) {
	const maxRetries = 4
	key := s.key(userID, providerID)

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
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
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
			return nil, fmt.Errorf("%w: %v", ErrProviderDataBackend, err)
		}
		return committed, nil
	}
	return nil, fmt.Errorf("%w: too much contention on %s", ErrProviderDataBackend, key)
}

func (s *AccountDataStore) Delete(ctx context.Context, userID, providerID string) error {
	if err := s.redis.Del(ctx, s.key(userID, providerID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrProviderDataBackend, err)
	}
	return nil
}
