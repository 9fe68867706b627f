package flows

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrEthical07/threemaGW/gateway"
	"github.com/MrEthical07/threemaGW/inbound"
	"github.com/MrEthical07/threemaGW/internal/stores"
	"github.com/MrEthical07/threemaGW/tfa"
)

type ReceiveMetrics struct {
	Received         int
	Saved            int
	Suppressed       int
	Replay           int
	DecryptFailed    int
	HookFailed       int
	StorageFailed    int
	MalformedPayload int
}

type ReceiveErrors struct {
	DownloadDir error
	Malformed   error
	Replay      error
	Decrypt     error
	Hook        error
	Storage     error
}

type ReceiveDeps struct {
	Debug         bool
	DownloadDir   string
	DownloadFiles bool

	Now              func() time.Time
	NewFileID        func() string
	CheckDownloadDir func(string) error

	IsReceived func(context.Context, string) (bool, error)
	Decrypt    func(context.Context, string, gateway.MessageID, []byte, gateway.Nonce, string) (gateway.Message, error)
	RecordFull func(context.Context, *stores.MessageRecord) (bool, error)
	RecordID   func(context.Context, string, time.Time) (bool, error)
	// Stored returns the record currently held for an id. Blob paths are
	// derived from the id, so a concurrent delivery that stored the message
	// owns the same files.
	Stored func(context.Context, string) (*stores.MessageRecord, error)
	// DiscardFiles removes blobs written during decryption that no stored
	// record refers to.
	DiscardFiles func(context.Context, string, []stores.FileEntry)

	PreSave  []inbound.PreSaveHook
	PostSave []inbound.PostSaveHook

	MetricInc func(int)
	Metrics   ReceiveMetrics
	Errors    ReceiveErrors
}

// ReceiveResult is the outcome of RunReceive. Err is nil on success;
// Retryable tells the endpoint whether to ask the gateway for a retry.
type ReceiveResult struct {
	Log       inbound.Log
	Message   inbound.Message
	Saved     bool
	Err       error
	Retryable bool
}

func normalizeReceiveDeps(deps *ReceiveDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.CheckDownloadDir == nil {
		deps.CheckDownloadDir = func(string) error { return nil }
	}
	if deps.DiscardFiles == nil {
		deps.DiscardFiles = func(context.Context, string, []stores.FileEntry) {}
	}
	if deps.Stored == nil {
		deps.Stored = func(context.Context, string) (*stores.MessageRecord, error) {
			return nil, stores.ErrMessageNotFound
		}
	}
}

// RunReceive decrypts a validated callback, runs the hooks and persists the
// message or a placeholder. A message id is stored at most once; a second
// delivery fails with Errors.Replay.
func RunReceive(ctx context.Context, req CallbackRequest, deps ReceiveDeps) ReceiveResult {
	normalizeReceiveDeps(&deps)
	var res ReceiveResult

	fatal := func(err error, retryable bool, public string) ReceiveResult {
		res.Err = err
		res.Retryable = retryable
		res.Log.Add(inbound.LogEntry{Visibility: inbound.Public, Level: inbound.LevelError, Text: public})
		return res
	}

	dir := ""
	if deps.DownloadFiles {
		dir = deps.DownloadDir
		if err := deps.CheckDownloadDir(dir); err != nil {
			return fatal(fmt.Errorf("%w: %v", deps.Errors.DownloadDir, err), true, "Message could not be processed.")
		}
	}

	id, errID := gateway.ParseMessageID(req.MessageID)
	nonce, errNonce := gateway.ParseNonce(req.Nonce)
	box, errBox := hex.DecodeString(req.Box)
	sent, errDate := ParseCallbackDate(req.Date)
	if err := errors.Join(errID, errNonce, errBox, errDate); err != nil {
		deps.MetricInc(deps.Metrics.MalformedPayload)
		return fatal(fmt.Errorf("%w: %v", deps.Errors.Malformed, err), false, "Message is malformed.")
	}
	idHex := id.String()

	seen, err := deps.IsReceived(ctx, idHex)
	if err != nil {
		deps.MetricInc(deps.Metrics.StorageFailed)
		return fatal(fmt.Errorf("%w: %v", deps.Errors.Storage, err), true, "Message could not be processed.")
	}
	if seen {
		deps.MetricInc(deps.Metrics.Replay)
		return fatal(deps.Errors.Replay, false, "Message could not be processed.")
	}

	payload, err := deps.Decrypt(ctx, req.From, id, box, nonce, dir)
	if err != nil {
		deps.MetricInc(deps.Metrics.DecryptFailed)
		return fatal(fmt.Errorf("%w: %v", deps.Errors.Decrypt, err), true, "Message could not be decrypted.")
	}
	deps.MetricInc(deps.Metrics.Received)
	discard := func() {
		files := savedFiles(payload)
		if len(files) == 0 {
			return
		}
		rec, err := deps.Stored(ctx, idHex)
		switch {
		case errors.Is(err, stores.ErrMessageNotFound):
		case err != nil:
			// ownership unknown, leave the files for an operator
			return
		case rec != nil:
			files = unreferenced(files, rec.Files)
		}
		if len(files) > 0 {
			deps.DiscardFiles(ctx, idHex, files)
		}
	}

	msg := inbound.Message{
		ID:           id,
		Sender:       req.From,
		Recipient:    req.To,
		Nickname:     req.Nickname,
		SendDate:     sent,
		ReceivedDate: deps.Now(),
		Payload:      payload,
	}
	res.Message = msg
	res.Log.Public(fmt.Sprintf("Message %s received.", idHex))
	if deps.Debug {
		res.Log.Add(inbound.DetailEntry(describe(msg)))
	}

	save := true
	for i, hook := range deps.PreSave {
		out, err := hook(ctx, msg, deps.Debug)
		res.Log.Add(out.Entries...)
		if err != nil {
			discard()
			if errors.Is(err, tfa.ErrReplayDetected) {
				deps.MetricInc(deps.Metrics.Replay)
				return fatal(deps.Errors.Replay, false, "Message could not be processed.")
			}
			deps.MetricInc(deps.Metrics.HookFailed)
			return fatal(fmt.Errorf("%w: pre-save hook %d: %v", deps.Errors.Hook, i, err), true, "Message could not be processed.")
		}
		if out.SuppressSave {
			save = false
		}
	}

	var inserted bool
	if save {
		inserted, err = deps.RecordFull(ctx, toRecord(msg, deps.NewFileID))
	} else {
		inserted, err = deps.RecordID(ctx, idHex, msg.ReceivedDate)
	}
	if err != nil {
		discard()
		deps.MetricInc(deps.Metrics.StorageFailed)
		return fatal(fmt.Errorf("%w: %v", deps.Errors.Storage, err), true, "Message could not be processed.")
	}
	if !inserted {
		// a concurrent delivery of the same id won the insert
		discard()
		deps.MetricInc(deps.Metrics.Replay)
		return fatal(deps.Errors.Replay, false, "Message could not be processed.")
	}
	res.Saved = save
	if save {
		deps.MetricInc(deps.Metrics.Saved)
		res.Log.Public("Message stored.")
	} else {
		// the placeholder keeps no file paths
		discard()
		deps.MetricInc(deps.Metrics.Suppressed)
	}

	for _, hook := range deps.PostSave {
		res.Log.Add(hook(ctx, msg, save, deps.Debug)...)
	}
	return res
}

func describe(msg inbound.Message) string {
	switch p := msg.Payload.(type) {
	case gateway.TextMessage:
		return fmt.Sprintf("text from %s: %q", msg.Sender, p.Text)
	case gateway.DeliveryReceipt:
		return fmt.Sprintf("delivery receipt %s from %s for %d message(s)", p.Status, msg.Sender, len(p.MessageIDs))
	case gateway.FileMessage:
		return fmt.Sprintf("file %q (%s, %d bytes) from %s", p.Filename, p.MimeType, p.Size, msg.Sender)
	case gateway.ImageMessage:
		return fmt.Sprintf("image (%d bytes) from %s", p.Size, msg.Sender)
	default:
		return fmt.Sprintf("message of type %s from %s", msg.Type(), msg.Sender)
	}
}

func savedFiles(payload gateway.Message) []stores.FileEntry {
	var files []gateway.SavedFile
	switch p := payload.(type) {
	case gateway.FileMessage:
		files = p.Files
	case gateway.ImageMessage:
		files = p.Files
	}
	out := make([]stores.FileEntry, 0, len(files))
	for _, f := range files {
		if f.Saved {
			out = append(out, stores.FileEntry{Path: f.Path, Kind: f.Kind, Saved: true})
		}
	}
	return out
}

func unreferenced(files, kept []stores.FileEntry) []stores.FileEntry {
	out := files[:0]
	for _, f := range files {
		if !slices.ContainsFunc(kept, func(k stores.FileEntry) bool { return k.Path == f.Path }) {
			out = append(out, f)
		}
	}
	return out
}

func toRecord(msg inbound.Message, newFileID func() string) *stores.MessageRecord {
	rec := &stores.MessageRecord{
		MessageID:    msg.ID.String(),
		Type:         uint8(msg.Type()),
		Sender:       msg.Sender,
		Nickname:     msg.Nickname,
		SendDate:     msg.SendDate,
		ReceivedDate: msg.ReceivedDate,
	}
	files := func(saved []gateway.SavedFile) []stores.FileEntry {
		out := make([]stores.FileEntry, 0, len(saved))
		for _, f := range saved {
			entry := stores.FileEntry{Path: f.Path, Kind: f.Kind, Saved: f.Saved}
			if newFileID != nil {
				entry.FileID = newFileID()
			}
			out = append(out, entry)
		}
		return out
	}

	switch p := msg.Payload.(type) {
	case gateway.TextMessage:
		rec.Text = p.Text
	case gateway.DeliveryReceipt:
		rec.ReceiptStatus = uint8(p.Status)
		for _, id := range p.MessageIDs {
			rec.AckedIDs = append(rec.AckedIDs, id.String())
		}
	case gateway.FileMessage:
		rec.MimeType = p.MimeType
		rec.Filename = p.Filename
		rec.Size = p.Size
		rec.Description = p.Description
		rec.Files = files(p.Files)
	case gateway.ImageMessage:
		rec.Size = int64(p.Size)
		rec.Files = files(p.Files)
	}
	return rec
}
