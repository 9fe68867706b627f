package stores

import (
	"context"
	"testing"
)

func TestKeystoreInsertIfAbsent(t *testing.T) {
	_, rdb := newTestRedis(t)
	ks := NewKeystore(rdb, "t")
	ctx := context.Background()

	if _, ok, err := ks.Lookup(ctx, "ECHOECHO"); err != nil || ok {
		t.Fatalf("unexpected hit: ok=%v err=%v", ok, err)
	}
	first := [32]byte{1, 2, 3}
	if ok, err := ks.Store(ctx, "ECHOECHO", first); err != nil || !ok {
		t.Fatalf("store: ok=%v err=%v", ok, err)
	}
	if ok, err := ks.Store(ctx, "ECHOECHO", [32]byte{9}); err != nil || ok {
		t.Fatalf("overwrite must be refused: ok=%v err=%v", ok, err)
	}
	got, ok, err := ks.Lookup(ctx, "ECHOECHO")
	if err != nil || !ok || got != first {
		t.Fatalf("lookup: %x ok=%v err=%v", got, ok, err)
	}
}
