package threemaGW

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/threemaGW/gateway"
	"github.com/MrEthical07/threemaGW/tfa"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func withAudit(c *Config) {
	c.Audit.Enabled = true
	c.Audit.BufferSize = 32
	c.Audit.DropIfFull = false
}

func nextEvent(t *testing.T, sink *ChannelSink, eventType string) AuditEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("expected audit event %q", eventType)
		}
	}
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	env := newTestEnv(t, nil, func(b *Builder) { b.WithAuditSink(sink) })

	req := env.callback(gateway.TextMessage{Text: "x"}, env.clock.Now())
	req.MAC = "00"
	env.engine.HandleCallback(context.Background(), req)
	env.engine.Close()

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditCallbackRejected(t *testing.T) {
	sink := NewChannelSink(32)
	env := newTestEnv(t, withAudit, func(b *Builder) { b.WithAuditSink(sink) })

	req := env.callback(gateway.TextMessage{Text: "x"}, env.clock.Now())
	req.AccessToken = "leaked-guess"
	env.engine.HandleCallback(context.Background(), req)

	ev := nextEvent(t, sink, auditEventCallbackRejected)
	if ev.IP != testRemoteAddr || ev.ThreemaID != testThreemaID {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Metadata["stage"] != "request" || ev.Metadata["retryable"] != "true" {
		t.Fatalf("unexpected metadata %v", ev.Metadata)
	}
	if strings.Contains(ev.Error, "leaked-guess") {
		t.Fatal("access token leaked into audit event")
	}
	if !ev.Timestamp.Equal(env.clock.Now()) {
		t.Fatalf("expected engine clock timestamp, got %v", ev.Timestamp)
	}
}

func TestAuditReplay(t *testing.T) {
	sink := NewChannelSink(32)
	env := newTestEnv(t, withAudit, func(b *Builder) { b.WithAuditSink(sink) })

	req, _ := env.send(gateway.TextMessage{Text: "once"})
	env.engine.HandleCallback(context.Background(), req)

	ev := nextEvent(t, sink, auditEventReplayDetected)
	if ev.MessageID != req.MessageID {
		t.Fatalf("unexpected message id %q", ev.MessageID)
	}
}

func TestAuditTFAEventsCarryNoSecrets(t *testing.T) {
	sink := NewChannelSink(64)
	env := newTestEnv(t, withAudit, func(b *Builder) { b.WithAuditSink(sink) })
	env.enable(tfa.ProviderConventional)
	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.33"), "test-agent")
	ch := tfa.Challenge{UserID: testUserID}

	if _, err := env.engine.TriggerTFA(ctx, tfa.ProviderConventional, ch); err != nil {
		t.Fatalf("TriggerTFA: %v", err)
	}
	code := env.providerData(tfa.ProviderConventional).Secret
	if _, err := env.engine.VerifyTFA(ctx, tfa.ProviderConventional, ch, code); err != nil {
		t.Fatalf("VerifyTFA: %v", err)
	}

	triggered := nextEvent(t, sink, auditEventTFATriggered)
	if triggered.IP != "198.51.100.33" || triggered.Metadata["user_agent"] != "test-agent" {
		t.Fatalf("unexpected trigger event %+v", triggered)
	}
	verified := nextEvent(t, sink, auditEventTFAVerified)
	if !verified.Success || verified.ProviderID != tfa.ProviderConventional {
		t.Fatalf("unexpected verify event %+v", verified)
	}
	for _, ev := range []AuditEvent{triggered, verified} {
		if strings.Contains(ev.Error, code) {
			t.Fatal("code leaked into audit error")
		}
		for _, v := range ev.Metadata {
			if strings.Contains(v, code) {
				t.Fatal("code leaked into audit metadata")
			}
		}
	}
}

func TestAuditBufferFullDropIfFullTrueDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	start := time.Now()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if dispatcher.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestAuditBufferFullDropIfFullFalseBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: false,
	}, sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestAuditDispatcherCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	sink := &countingSink{}
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 4,
		DropIfFull: true,
	}, sink)

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Close()
	dispatcher.Close()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	if sink.Count() != 1 {
		t.Fatalf("expected the queued event to be drained on close, got %d", sink.Count())
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLogrusSinkWritesStructuredFields(t *testing.T) {
	var out syncBuffer
	logger := logrus.New()
	logger.SetOutput(&out)
	logger.SetFormatter(&logrus.JSONFormatter{})

	NewLogrusSink(logger).Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: auditEventTFAVerifyFailed,
		UserID:    "u1",
		IP:        "127.0.0.1",
		Error:     "invalid",
		Metadata:  map[string]string{"setup": "true"},
	})

	line := out.String()
	for _, want := range []string{`"audit":"tfa_verify_failed"`, `"user_id":"u1"`, `"meta_setup":"true"`, `"level":"warning"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %s in %s", want, line)
		}
	}
}
