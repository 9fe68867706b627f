package stores

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrEthical07/threemaGW/tfa"
)

func TestAccountDataStoreUpdate(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewAccountDataStore(rdb, "t")
	ctx := context.Background()

	if _, err := store.Load(ctx, "u1", tfa.ProviderConventional); !errors.Is(err, tfa.ErrNoProviderData) {
		t.Fatalf("expected ErrNoProviderData, got %v", err)
	}
	if _, err := store.Update(ctx, "u1", tfa.ProviderConventional, func(*tfa.ProviderData) error { return nil }); !errors.Is(err, tfa.ErrNoProviderData) {
		t.Fatalf("expected ErrNoProviderData from update, got %v", err)
	}
	if err := store.Save(ctx, "u1", tfa.ProviderConventional, &tfa.ProviderData{ThreemaID: "ABCD1234", Enabled: true}); err != nil {
		t.Fatalf("save: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "u1", tfa.ProviderConventional, func(d *tfa.ProviderData) error {
				if d.Extra == nil {
					d.Extra = map[string]string{}
				}
				d.Extra["n"] += "x"
				return nil
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := store.Load(ctx, "u1", tfa.ProviderConventional)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Extra["n"] != "xxxx" {
		t.Fatalf("lost update: %q", got.Extra["n"])
	}

	if err := store.Delete(ctx, "u1", tfa.ProviderConventional); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, "u1", tfa.ProviderConventional); !errors.Is(err, tfa.ErrNoProviderData) {
		t.Fatalf("expected deleted, got %v", err)
	}
}
