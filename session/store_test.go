package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/threemaGW/tfa"
)

func newSessionStoreTest(t *testing.T, sliding bool) (*Store, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, "tgw", time.Minute, sliding)
	return store, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestStoreSaveLoadUpdate(t *testing.T) {
	store, _, done := newSessionStoreTest(t, false)
	defer done()
	ctx := context.Background()

	if _, err := store.Load(ctx, "s1", tfa.ProviderFast); !errors.Is(err, tfa.ErrNoProviderData) {
		t.Fatalf("expected ErrNoProviderData, got %v", err)
	}
	if err := store.Save(ctx, "s1", tfa.ProviderFast, &tfa.ProviderData{ThreemaID: "ABCD1234"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Update(ctx, "s1", tfa.ProviderFast, func(d *tfa.ProviderData) error {
		d.ReceivedCode = "123456"
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.ReceivedCode != "123456" {
		t.Fatalf("update result not returned: %+v", got)
	}
	loaded, err := store.Load(ctx, "s1", tfa.ProviderFast)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ThreemaID != "ABCD1234" || loaded.ReceivedCode != "123456" {
		t.Fatalf("unexpected entry: %+v", loaded)
	}
}

func TestStoreUpdatePropagatesCallbackError(t *testing.T) {
	store, _, done := newSessionStoreTest(t, false)
	defer done()
	ctx := context.Background()
	if err := store.Save(ctx, "s1", tfa.ProviderFast, &tfa.ProviderData{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	want := errors.New("nope")
	if _, err := store.Update(ctx, "s1", tfa.ProviderFast, func(*tfa.ProviderData) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if _, err := store.Update(ctx, "missing", tfa.ProviderFast, func(*tfa.ProviderData) error { return nil }); !errors.Is(err, tfa.ErrNoProviderData) {
		t.Fatalf("expected ErrNoProviderData, got %v", err)
	}
}

func TestStoreEntriesExpire(t *testing.T) {
	store, mr, done := newSessionStoreTest(t, true)
	defer done()
	ctx := context.Background()

	if err := store.Save(ctx, "s1", tfa.ProviderReversed, &tfa.ProviderData{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(40 * time.Second)
	if _, err := store.Load(ctx, "s1", tfa.ProviderReversed); err != nil {
		t.Fatalf("load: %v", err)
	}
	// the read slid the expiry forward
	mr.FastForward(40 * time.Second)
	if _, err := store.Load(ctx, "s1", tfa.ProviderReversed); err != nil {
		t.Fatalf("load after slide: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := store.Load(ctx, "s1", tfa.ProviderReversed); !errors.Is(err, tfa.ErrNoProviderData) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestDeleteSessionRemovesAllProviders(t *testing.T) {
	store, _, done := newSessionStoreTest(t, false)
	defer done()
	ctx := context.Background()

	for _, id := range []string{tfa.ProviderFast, tfa.ProviderReversed} {
		if err := store.Save(ctx, "s1", id, &tfa.ProviderData{}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	n, err := store.DeleteSession(ctx, "s1")
	if err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 entries removed, got %d", n)
	}
	if n, err := store.DeleteSession(ctx, "s1"); err != nil || n != 0 {
		t.Fatalf("second delete: n=%d err=%v", n, err)
	}
	if err := store.Delete(ctx, "s1", tfa.ProviderFast); err != nil {
		t.Fatalf("idempotent delete: %v", err)
	}
}
