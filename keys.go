package threemaGW

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/threemaGW/gateway"
	"github.com/MrEthical07/threemaGW/internal/stores"
)

// cachedKeyResolver serves public keys from the keystore and asks the
// gateway API only on a miss. Keys are never replaced once stored.
type cachedKeyResolver struct {
	store    *stores.Keystore
	upstream gateway.PublicKeyResolver
	logger   logrus.FieldLogger
}

func (r *cachedKeyResolver) PublicKey(ctx context.Context, threemaID string) ([gateway.KeySize]byte, error) {
	key, ok, err := r.store.Lookup(ctx, threemaID)
	if err != nil {
		return key, err
	}
	if ok {
		return key, nil
	}

	key, err = r.upstream.PublicKey(ctx, threemaID)
	if err != nil {
		return key, err
	}
	inserted, err := r.store.Store(ctx, threemaID, key)
	if err != nil {
		// the key is still usable for this request
		r.logger.WithFields(logrus.Fields{
			"function":   "cachedKeyResolver.PublicKey",
			"threema_id": threemaID,
			"error":      err.Error(),
		}).Warn("Failed to cache public key")
		return key, nil
	}
	if !inserted {
		// a concurrent lookup stored first; prefer the stored key
		if stored, ok, err := r.store.Lookup(ctx, threemaID); err == nil && ok {
			return stored, nil
		}
	}
	return key, nil
}
