package threemaGW

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/threemaGW/gateway"
	"github.com/MrEthical07/threemaGW/internal/stores"
)

// CleanupResult reports one retention sweep.
type CleanupResult struct {
	Scrubbed      int
	DatesPurged   int
	PendingPurged int
}

// Message returns the stored record of a message id.
func (e *Engine) Message(ctx context.Context, messageID string) (*StoredMessage, error) {
	if e == nil || e.messages == nil {
		return nil, ErrEngineNotReady
	}
	id, err := gateway.ParseMessageID(messageID)
	if err != nil {
		return nil, err
	}
	rec, err := e.messages.Get(ctx, id.String())
	if errors.Is(err, stores.ErrMessageNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return storedMessage(rec), nil
}

// DeleteMessage removes the content of a message and keeps its id so the
// message cannot be delivered again. Deleting a placeholder is a no-op.
func (e *Engine) DeleteMessage(ctx context.Context, messageID string) error {
	if e == nil || e.messages == nil {
		return ErrEngineNotReady
	}
	id, err := gateway.ParseMessageID(messageID)
	if err != nil {
		return err
	}
	scrubbed, err := e.messages.Scrub(ctx, id.String())
	if errors.Is(err, stores.ErrMessageNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if scrubbed {
		e.metricInc(MetricMessageDeleted)
		e.emitMessageDeleted(ctx, id.String())
	}
	return nil
}

// RunCleanup applies the retention policy once. Every step runs even if
// an earlier one failed; the returned error joins the failures.
func (e *Engine) RunCleanup(ctx context.Context) (CleanupResult, error) {
	if e == nil || !e.flow.Initialized() {
		return CleanupResult{}, ErrEngineNotReady
	}
	res := e.flow.Cleanup(ctx)
	e.metricInc(MetricCleanupRun)
	e.metricAdd(MetricMessageScrubbed, res.Scrubbed)
	e.metricAdd(MetricPendingPurged, res.PendingPurged)

	entry := e.logger.WithFields(logrus.Fields{
		"function":       "Engine.RunCleanup",
		"scrubbed":       res.Scrubbed,
		"dates_purged":   res.DatesPurged,
		"pending_purged": res.PendingPurged,
	})
	out := CleanupResult{
		Scrubbed:      res.Scrubbed,
		DatesPurged:   res.DatesPurged,
		PendingPurged: res.PendingPurged,
	}
	if res.Err != nil {
		e.metricInc(MetricCleanupFailed)
		entry.WithField("error", res.Err.Error()).Error("Retention sweep failed")
		return out, fmt.Errorf("%w: %v", ErrStorageUnavailable, res.Err)
	}
	entry.Debug("Retention sweep finished")
	return out, nil
}

func storedMessage(rec *stores.MessageRecord) *StoredMessage {
	out := &StoredMessage{
		MessageID:     rec.MessageID,
		Placeholder:   rec.Placeholder,
		Type:          rec.Type,
		Sender:        rec.Sender,
		Nickname:      rec.Nickname,
		SendDate:      rec.SendDate,
		ReceivedDate:  rec.ReceivedDate,
		Text:          rec.Text,
		ReceiptStatus: rec.ReceiptStatus,
		AckedIDs:      append([]string(nil), rec.AckedIDs...),
		MimeType:      rec.MimeType,
		Filename:      rec.Filename,
		Size:          rec.Size,
		Description:   rec.Description,
	}
	for _, f := range rec.Files {
		out.Files = append(out.Files, StoredFile{FileID: f.FileID, Path: f.Path, Kind: f.Kind, Saved: f.Saved})
	}
	return out
}
