package threemaGW

import (
	"context"
	"strconv"

	"github.com/MrEthical07/threemaGW/internal/flows"
	"github.com/MrEthical07/threemaGW/tfa"
)

const (
	auditEventCallbackRejected  = "callback_rejected"
	auditEventReplayDetected    = "message_replay_detected"
	auditEventProcessingFailed  = "message_processing_failed"
	auditEventMessageDeleted    = "message_deleted"
	auditEventTFATriggered      = "tfa_triggered"
	auditEventTFATriggerBlocked = "tfa_trigger_blocked"
	auditEventTFAVerified       = "tfa_verified"
	auditEventTFAVerifyFailed   = "tfa_verify_failed"
	auditEventTFADeclined       = "tfa_declined"
	auditEventTFAConfirmation   = "tfa_confirmation_matched"
	auditEventTFADisabled       = "tfa_disabled"
)

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e == nil || e.audit == nil {
		return
	}
	event.Timestamp = e.now()
	e.audit.Emit(ctx, event)
}

func (e *Engine) emitCallbackRejected(ctx context.Context, req CallbackRequest, v flows.Verdict) {
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventCallbackRejected,
		ThreemaID: req.From,
		MessageID: req.MessageID,
		IP:        req.RemoteAddr,
		Error:     v.Reason,
		Metadata: map[string]string{
			"stage":     v.Stage.String(),
			"retryable": strconv.FormatBool(v.Retryable),
		},
	})
}

func (e *Engine) emitReplay(ctx context.Context, req CallbackRequest) {
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventReplayDetected,
		ThreemaID: req.From,
		MessageID: req.MessageID,
		IP:        req.RemoteAddr,
		Error:     ErrReplayDetected.Error(),
	})
}

func (e *Engine) emitProcessingFailed(ctx context.Context, req CallbackRequest, err error) {
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventProcessingFailed,
		ThreemaID: req.From,
		MessageID: req.MessageID,
		IP:        req.RemoteAddr,
		Error:     err.Error(),
	})
}

func (e *Engine) emitMessageDeleted(ctx context.Context, messageID string) {
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventMessageDeleted,
		MessageID: messageID,
		Success:   true,
	})
}

func (e *Engine) emitTFA(ctx context.Context, eventType, providerID string, ch tfa.Challenge, success bool, reason string) {
	event := AuditEvent{
		EventType:  eventType,
		UserID:     ch.UserID,
		ThreemaID:  ch.ThreemaID,
		ProviderID: providerID,
		IP:         ch.ClientIP,
		Success:    success,
		Error:      reason,
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	meta := map[string]string{}
	if ch.Setup {
		meta["setup"] = "true"
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		meta["user_agent"] = ua
	}
	if len(meta) > 0 {
		event.Metadata = meta
	}
	e.emitAudit(ctx, event)
}
