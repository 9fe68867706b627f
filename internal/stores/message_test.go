package stores

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestMessageStoreRecordIsInsertOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewMessageStore(rdb, "t")
	ctx := context.Background()
	now := time.Date(2026, 5, 2, 15, 4, 5, 0, time.UTC)

	rec := &MessageRecord{MessageID: "0123456789abcdef", Type: 1, Sender: "ECHOECHO", SendDate: now, ReceivedDate: now, Text: "hi"}
	ok, err := store.RecordFull(ctx, rec)
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	ok, err = store.RecordFull(ctx, rec)
	if err != nil || ok {
		t.Fatalf("second insert must fail: ok=%v err=%v", ok, err)
	}
	ok, err = store.RecordID(ctx, rec.MessageID, now)
	if err != nil || ok {
		t.Fatalf("placeholder over full record must fail: ok=%v err=%v", ok, err)
	}
	seen, err := store.IsReceived(ctx, rec.MessageID)
	if err != nil || !seen {
		t.Fatalf("expected received: %v %v", seen, err)
	}
	got, err := store.Get(ctx, rec.MessageID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Text != "hi" || !got.ReceivedDate.Equal(now) {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestMessageStoreConcurrentInsertSingleWinner(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewMessageStore(rdb, "t")
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.RecordID(ctx, "aaaaaaaaaaaaaaaa", time.Now())
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestMessageStoreScrubKeepsID(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewMessageStore(rdb, "t")
	ctx := context.Background()
	received := time.Date(2026, 5, 2, 15, 4, 5, 0, time.UTC)

	rec := &MessageRecord{MessageID: "1111111111111111", Type: 1, Sender: "ECHOECHO", ReceivedDate: received, Text: "secret"}
	if _, err := store.RecordFull(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	ok, err := store.Scrub(ctx, rec.MessageID)
	if err != nil || !ok {
		t.Fatalf("scrub: ok=%v err=%v", ok, err)
	}
	got, err := store.Get(ctx, rec.MessageID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Placeholder || got.Text != "" || got.Sender != "" {
		t.Fatalf("content survived scrub: %+v", got)
	}
	if want := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC); !got.ReceivedDate.Equal(want) {
		t.Fatalf("expected day rounded date %v, got %v", want, got.ReceivedDate)
	}
	if ok, _ := store.Scrub(ctx, rec.MessageID); ok {
		t.Fatalf("second scrub must be a no-op")
	}
	if ok, _ := store.RecordFull(ctx, rec); ok {
		t.Fatalf("scrubbed id must still block inserts")
	}
	if _, err := store.Scrub(ctx, "ffffffffffffffff"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestMessageStoreRetentionSweeps(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewMessageStore(rdb, "t")
	ctx := context.Background()
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour)

	if _, err := store.RecordFull(ctx, &MessageRecord{MessageID: "a000000000000000", Text: "old", ReceivedDate: old}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.RecordFull(ctx, &MessageRecord{MessageID: "b000000000000000", Text: "new", ReceivedDate: now}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.RecordID(ctx, "c000000000000000", old); err != nil {
		t.Fatal(err)
	}

	scrubbed, err := store.ScrubOlderThan(ctx, now.Add(-7*24*time.Hour))
	if err != nil || scrubbed != 1 {
		t.Fatalf("scrub sweep: n=%d err=%v", scrubbed, err)
	}
	if rec, _ := store.Get(ctx, "b000000000000000"); rec.Placeholder {
		t.Fatalf("recent message must keep content")
	}

	purged, err := store.PurgeDates(ctx, now.Add(-14*24*time.Hour))
	if err != nil || purged != 2 {
		t.Fatalf("purge: n=%d err=%v", purged, err)
	}
	for _, id := range []string{"a000000000000000", "c000000000000000"} {
		rec, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if !rec.ReceivedDate.IsZero() {
			t.Fatalf("%s still dated: %v", id, rec.ReceivedDate)
		}
		if seen, _ := store.IsReceived(ctx, id); !seen {
			t.Fatalf("%s forgotten", id)
		}
	}

	// hardened mode clears every date
	if _, err := store.RecordID(ctx, "d000000000000000", now); err != nil {
		t.Fatal(err)
	}
	purged, err = store.PurgeDates(ctx, time.Time{})
	if err != nil || purged != 1 {
		t.Fatalf("hardened purge: n=%d err=%v", purged, err)
	}
}

func TestMessageStoreScrubRemovesSavedBlobs(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewMessageStore(rdb, "t")
	ctx := context.Background()
	dir := t.TempDir()

	blob := filepath.Join(dir, "blob.bin")
	thumb := filepath.Join(dir, "thumb.bin")
	for _, p := range []string{blob, thumb} {
		if err := os.WriteFile(p, []byte("decrypted"), 0o600); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	rec := &MessageRecord{
		MessageID:    "2222222222222222",
		Type:         0x17,
		ReceivedDate: time.Now(),
		Files: []FileEntry{
			{FileID: "f1", Path: blob, Kind: "file", Saved: true},
			{FileID: "f2", Path: thumb, Kind: "thumbnail"},
			{FileID: "f3", Path: filepath.Join(dir, "gone.bin"), Kind: "file", Saved: true},
		},
	}
	if _, err := store.RecordFull(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ok, err := store.Scrub(ctx, rec.MessageID)
	if err != nil || !ok {
		t.Fatalf("scrub: ok=%v err=%v", ok, err)
	}
	if _, err := os.Stat(blob); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("saved blob survived scrub: %v", err)
	}
	if _, err := os.Stat(thumb); err != nil {
		t.Fatalf("blob not marked saved must be left alone: %v", err)
	}
}

func TestRemoveSavedFilesReportsFailures(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	if err := os.MkdirAll(filepath.Join(nested, "child"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// a non-empty directory cannot be removed
	err := RemoveSavedFiles([]FileEntry{{Path: nested, Saved: true}})
	if err == nil {
		t.Fatal("expected an error for a path that cannot be removed")
	}
	if err := RemoveSavedFiles(nil); err != nil {
		t.Fatalf("empty list: %v", err)
	}
}
