package stores

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrMessageBackend  = errors.New("message store backend unavailable")
)

// FileEntry is a blob that belonged to a file or image message.
type FileEntry struct {
	FileID string `cbor:"1,keyasint"`
	Path   string `cbor:"2,keyasint"`
	Kind   string `cbor:"3,keyasint"`
	Saved  bool   `cbor:"4,keyasint,omitempty"`
}

// MessageRecord is the stored form of an inbound message. A placeholder
// carries only the id and a day-rounded receive date.
type MessageRecord struct {
	MessageID    string    `cbor:"1,keyasint"`
	Placeholder  bool      `cbor:"2,keyasint,omitempty"`
	Type         uint8     `cbor:"3,keyasint,omitempty"`
	Sender       string    `cbor:"4,keyasint,omitempty"`
	Nickname     string    `cbor:"5,keyasint,omitempty"`
	SendDate     time.Time `cbor:"6,keyasint"`
	ReceivedDate time.Time `cbor:"7,keyasint"`

	Text          string   `cbor:"8,keyasint,omitempty"`
	ReceiptStatus uint8    `cbor:"9,keyasint,omitempty"`
	AckedIDs      []string `cbor:"10,keyasint,omitempty"`

	MimeType    string      `cbor:"11,keyasint,omitempty"`
	Filename    string      `cbor:"12,keyasint,omitempty"`
	Size        int64       `cbor:"13,keyasint,omitempty"`
	Description string      `cbor:"14,keyasint,omitempty"`
	Files       []FileEntry `cbor:"15,keyasint,omitempty"`
}

// DayRound truncates t to the start of its UTC day.
func DayRound(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(24 * time.Hour)
}

// Placeholder returns the tombstone form of id.
func Placeholder(id string, receivedAt time.Time) *MessageRecord {
	return &MessageRecord{MessageID: id, Placeholder: true, ReceivedDate: DayRound(receivedAt)}
}

// insertMessage writes the record only if the id is unknown and indexes it
// for cleanup: content rows by receive time, placeholders by rounded date.
var insertMessage = redis.NewScript(`
if redis.call("SETNX", KEYS[1], ARGV[1]) == 0 then
	return 0
end
if ARGV[4] == "1" then
	redis.call("ZADD", KEYS[3], ARGV[2], ARGV[3])
else
	redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
end
return 1
`)

// MessageStore is the replay guard and message archive.
type MessageStore struct {
	redis  redis.UniversalClient
	prefix string
	logger logrus.FieldLogger
}

func NewMessageStore(redisClient redis.UniversalClient, prefix string) *MessageStore {
	if prefix == "" {
		prefix = "tgw"
	}
	return &MessageStore{redis: redisClient, prefix: prefix, logger: logrus.StandardLogger()}
}

// WithLogger sets where blob removal failures are reported.
func (s *MessageStore) WithLogger(logger logrus.FieldLogger) *MessageStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// RemoveSavedFiles deletes the blobs of entries that were written to disk.
// Files that are already gone are not an error.
func RemoveSavedFiles(files []FileEntry) error {
	var errs []error
	for _, f := range files {
		if !f.Saved || f.Path == "" {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *MessageStore) key(id string) string {
	return s.prefix + ":msg:" + id
}

// contentIndex holds ids of records that still carry content.
func (s *MessageStore) contentIndex() string {
	return s.prefix + ":msg:content"
}

// tombstoneIndex holds ids of placeholders that still carry a date.
func (s *MessageStore) tombstoneIndex() string {
	return s.prefix + ":msg:dated"
}

// IsReceived reports whether id was recorded in any form.
func (s *MessageStore) IsReceived(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMessageBackend, err)
	}
	return n > 0, nil
}

// RecordID stores a placeholder for id. It returns false if id was
// already recorded.
func (s *MessageStore) RecordID(ctx context.Context, id string, receivedAt time.Time) (bool, error) {
	return s.insert(ctx, Placeholder(id, receivedAt))
}

// RecordFull stores rec with content. It returns false if the id was
// already recorded.
func (s *MessageStore) RecordFull(ctx context.Context, rec *MessageRecord) (bool, error) {
	if rec.Placeholder {
		return false, errors.New("stores: RecordFull called with placeholder")
	}
	return s.insert(ctx, rec)
}

func (s *MessageStore) insert(ctx context.Context, rec *MessageRecord) (bool, error) {
	encoded, err := encodeMessageRecord(rec)
	if err != nil {
		return false, err
	}
	content := "0"
	if !rec.Placeholder {
		content = "1"
	}
	score := strconv.FormatInt(rec.ReceivedDate.Unix(), 10)
	n, err := insertMessage.Run(ctx, s.redis,
		[]string{s.key(rec.MessageID), s.tombstoneIndex(), s.contentIndex()},
		encoded, score, rec.MessageID, content,
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMessageBackend, err)
	}
	return n == 1, nil
}

// Get returns the stored record of id.
func (s *MessageStore) Get(ctx context.Context, id string) (*MessageRecord, error) {
	raw, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrMessageBackend, err)
	}
	return decodeMessageRecord(raw)
}

// Scrub replaces the content of id by a placeholder and deletes the blobs
// the record pointed to once the placeholder is committed. It reports
// whether content was removed; blob removal failures are only logged.
func (s *MessageStore) Scrub(ctx context.Context, id string) (bool, error) {
	scrubbed := false
	var files []FileEntry
	err := s.rewrite(ctx, id, func(rec *MessageRecord) (*MessageRecord, bool) {
		scrubbed, files = false, nil
		if rec.Placeholder {
			return nil, false
		}
		scrubbed = true
		files = rec.Files
		return Placeholder(rec.MessageID, rec.ReceivedDate), true
	}, func(pipe redis.Pipeliner, rec *MessageRecord) {
		pipe.ZRem(ctx, s.contentIndex(), id)
		if !rec.ReceivedDate.IsZero() {
			pipe.ZAdd(ctx, s.tombstoneIndex(), redis.Z{Score: float64(rec.ReceivedDate.Unix()), Member: id})
		}
	})
	if err != nil {
		return false, err
	}
	if scrubbed {
		if rmErr := RemoveSavedFiles(files); rmErr != nil {
			s.logger.WithError(rmErr).WithField("message_id", id).Warn("stores: message blobs not removed")
		}
	}
	return scrubbed, nil
}

// ScrubOlderThan scrubs every content record received before cutoff.
func (s *MessageStore) ScrubOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.redis.ZRangeByScore(ctx, s.contentIndex(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMessageBackend, err)
	}
	count := 0
	for _, id := range ids {
		ok, err := s.Scrub(ctx, id)
		if errors.Is(err, ErrMessageNotFound) {
			_ = s.redis.ZRem(ctx, s.contentIndex(), id).Err()
			continue
		}
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// PurgeDates clears the receive date of placeholders dated before cutoff.
// A zero cutoff clears every placeholder date.
func (s *MessageStore) PurgeDates(ctx context.Context, cutoff time.Time) (int, error) {
	max := "+inf"
	if !cutoff.IsZero() {
		max = "(" + strconv.FormatInt(cutoff.Unix(), 10)
	}
	ids, err := s.redis.ZRangeByScore(ctx, s.tombstoneIndex(), &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMessageBackend, err)
	}
	count := 0
	for _, id := range ids {
		err := s.rewrite(ctx, id, func(rec *MessageRecord) (*MessageRecord, bool) {
			if !rec.Placeholder || rec.ReceivedDate.IsZero() {
				return nil, false
			}
			count++
			return &MessageRecord{MessageID: rec.MessageID, Placeholder: true}, true
		}, nil)
		if err != nil && !errors.Is(err, ErrMessageNotFound) {
			return count, err
		}
		if err := s.redis.ZRem(ctx, s.tombstoneIndex(), id).Err(); err != nil {
			return count, fmt.Errorf("%w: %v", ErrMessageBackend, err)
		}
	}
	return count, nil
}

// rewrite replaces the record of id under WATCH. change returns false to
// leave it as is; after runs inside the same transaction.
func (s *MessageStore) rewrite(
	ctx context.Context,
	id string,
	change func(*MessageRecord) (*MessageRecord, bool),
	after func(redis.Pipeliner, *MessageRecord),
) error {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			rec, err := decodeMessageRecord(raw)
			if err != nil {
				return err
			}
			next, ok := change(rec)
			if !ok {
				return nil
			}
			encoded, err := encodeMessageRecord(next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				if after != nil {
					after(pipe, next)
				}
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrMessageNotFound
			}
			return fmt.Errorf("%w: %v", ErrMessageBackend, err)
		}
		return nil
	}
	return fmt.Errorf("%w: too much contention on %s", ErrMessageBackend, id)
}

func encodeMessageRecord(rec *MessageRecord) ([]byte, error) {
	return encMode.Marshal(rec)
}

func decodeMessageRecord(raw []byte) (*MessageRecord, error) {
	rec := &MessageRecord{}
	if err := cbor.Unmarshal(raw, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
