package threemaGW

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// AuditEvent is a security relevant occurrence: a rejected callback, a
// replay, a TFA decision or a decline side effect.
type AuditEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"event_type"`
	UserID     string            `json:"user_id,omitempty"`
	ThreemaID  string            `json:"threema_id,omitempty"`
	ProviderID string            `json:"provider_id,omitempty"`
	MessageID  string            `json:"message_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events from the dispatcher goroutine.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink hands events to a consumer through a buffered channel.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// LogrusSink writes each event as one structured log line. Failures are
// logged at Warn, everything else at Info.
type LogrusSink struct {
	logger logrus.FieldLogger
}

func NewLogrusSink(logger logrus.FieldLogger) *LogrusSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusSink{logger: logger}
}

func (s *LogrusSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil {
		return
	}
	fields := logrus.Fields{
		"audit":   event.EventType,
		"success": event.Success,
		"at":      event.Timestamp.Format(time.RFC3339Nano),
	}
	if event.UserID != "" {
		fields["user_id"] = event.UserID
	}
	if event.ThreemaID != "" {
		fields["threema_id"] = event.ThreemaID
	}
	if event.ProviderID != "" {
		fields["provider_id"] = event.ProviderID
	}
	if event.MessageID != "" {
		fields["message_id"] = event.MessageID
	}
	if event.IP != "" {
		fields["ip"] = event.IP
	}
	if event.Error != "" {
		fields["error"] = event.Error
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := s.logger.WithFields(fields)
	if event.Success {
		entry.Info("audit event")
		return
	}
	entry.Warn("audit event")
}
