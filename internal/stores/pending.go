package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/threemaGW/tfa"
)

var ErrPendingBackend = errors.New("pending confirmation backend unavailable")

// claimPending deletes a request with its index entries. It returns 1 only
// to the caller that removed the record.
var claimPending = redis.NewScript(`
if redis.call("DEL", KEYS[1]) == 0 then
	return 0
end
redis.call("SREM", KEYS[2], ARGV[1])
redis.call("ZREM", KEYS[4], ARGV[1])
if redis.call("GET", KEYS[3]) == ARGV[1] then
	redis.call("DEL", KEYS[3])
end
return 1
`)

// PendingStore keeps pending confirmation requests. Each request lives in
// its own key; a set per (threema id, type) serves lookups and a slot key
// per (threema id, provider, type) implements overwrite on retrigger.
type PendingStore struct {
	redis  redis.UniversalClient
	prefix string
	// grace keeps expired records around so the matcher can report them.
	grace time.Duration
}

func NewPendingStore(redisClient redis.UniversalClient, prefix string, grace time.Duration) *PendingStore {
	if prefix == "" {
		prefix = "tgw"
	}
	if grace <= 0 {
		grace = time.Hour
	}
	return &PendingStore{redis: redisClient, prefix: prefix, grace: grace}
}

func (s *PendingStore) key(requestID string) string {
	return s.prefix + ":pc:" + requestID
}

func (s *PendingStore) indexKey(threemaID string, t tfa.PendingType) string {
	return s.prefix + ":pc:idx:" + threemaID + ":" + strconv.Itoa(int(t))
}

func (s *PendingStore) slotKey(threemaID, providerID string, t tfa.PendingType) string {
	return s.prefix + ":pc:slot:" + threemaID + ":" + providerID + ":" + strconv.Itoa(int(t))
}

func (s *PendingStore) expiryKey() string {
	return s.prefix + ":pc:exp"
}

// Register stores req and drops the request it replaces. Two concurrent
// registrations for the same slot can both survive until the expiry sweep.
func (s *PendingStore) Register(ctx context.Context, req tfa.PendingRequest) error {
	if req.RequestID == "" || req.ThreemaID == "" || req.ProviderID == "" {
		return errors.New("stores: incomplete pending request")
	}
	slot := s.slotKey(req.ThreemaID, req.ProviderID, req.Type)
	previous, err := s.redis.Get(ctx, slot).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}
	if previous != "" && previous != req.RequestID {
		old := req
		old.RequestID = previous
		if _, err := s.Claim(ctx, old); err != nil {
			return err
		}
	}

	encoded, err := tfa.EncodePendingRequest(req)
	if err != nil {
		return err
	}
	ttl := time.Until(req.ExpiresAt) + s.grace
	if ttl <= 0 {
		ttl = s.grace
	}
	index := s.indexKey(req.ThreemaID, req.Type)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(req.RequestID), encoded, ttl)
		pipe.SAdd(ctx, index, req.RequestID)
		pipe.Set(ctx, slot, req.RequestID, ttl)
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(req.ExpiresAt.Unix()), Member: req.RequestID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}
	return nil
}

// Find returns the requests for threemaID and t, optionally limited to one
// provider. Index entries whose record is gone are dropped.
func (s *PendingStore) Find(ctx context.Context, threemaID string, t tfa.PendingType, providerID string) ([]tfa.PendingRequest, error) {
	index := s.indexKey(threemaID, t)
	ids, err := s.redis.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}

	var out []tfa.PendingRequest
	var stale []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		req, err := tfa.DecodePendingRequest([]byte(raw))
		if err != nil {
			return nil, err
		}
		if providerID != "" && req.ProviderID != providerID {
			continue
		}
		out = append(out, req)
	}
	if len(stale) > 0 {
		_ = s.redis.SRem(ctx, index, stale...).Err()
	}
	return out, nil
}

// Claim deletes req and reports whether this call removed it.
func (s *PendingStore) Claim(ctx context.Context, req tfa.PendingRequest) (bool, error) {
	n, err := claimPending.Run(ctx, s.redis,
		[]string{
			s.key(req.RequestID),
			s.indexKey(req.ThreemaID, req.Type),
			s.slotKey(req.ThreemaID, req.ProviderID, req.Type),
			s.expiryKey(),
		},
		req.RequestID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}
	return n == 1, nil
}

// Unregister removes the current request of a slot.
func (s *PendingStore) Unregister(ctx context.Context, threemaID, providerID string, t tfa.PendingType) error {
	id, err := s.redis.Get(ctx, s.slotKey(threemaID, providerID, t)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}
	_, err = s.Claim(ctx, tfa.PendingRequest{RequestID: id, ThreemaID: threemaID, ProviderID: providerID, Type: t})
	return err
}

// PurgeExpired removes requests that expired before now.
func (s *PendingStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.redis.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPendingBackend, err)
	}
	count := 0
	for _, id := range ids {
		raw, err := s.redis.Get(ctx, s.key(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			_ = s.redis.ZRem(ctx, s.expiryKey(), id).Err()
			continue
		}
		if err != nil {
			return count, fmt.Errorf("%w: %v", ErrPendingBackend, err)
		}
		req, err := tfa.DecodePendingRequest(raw)
		if err != nil {
			return count, err
		}
		ok, err := s.Claim(ctx, req)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}
