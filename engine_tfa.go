package threemaGW

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/threemaGW/tfa"
)

// Providers returns the enabled TFA provider ids in registration order.
func (e *Engine) Providers() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.order...)
}

func (e *Engine) provider(id string) (tfa.Provider, error) {
	if e == nil || e.providers == nil {
		return nil, ErrEngineNotReady
	}
	p, ok := e.providers[id]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}

func (e *Engine) challenge(ctx context.Context, ch tfa.Challenge) (tfa.Challenge, error) {
	if ch.ClientIP == "" {
		ch.ClientIP = clientIPFromContext(ctx)
	}
	if ch.Setup && ch.SessionID == "" {
		return ch, ErrSessionRequired
	}
	return ch, nil
}

// TriggerTFA starts a verification cycle and returns what the login form
// has to show. For setup challenges ch.ThreemaID names the id to verify.
func (e *Engine) TriggerTFA(ctx context.Context, providerID string, ch tfa.Challenge) (tfa.View, error) {
	p, err := e.provider(providerID)
	if err != nil {
		return tfa.View{}, err
	}
	if ch, err = e.challenge(ctx, ch); err != nil {
		return tfa.View{}, err
	}

	data, err := p.Trigger(ctx, ch)
	if err != nil {
		if errors.Is(err, tfa.ErrTriggerBlocked) {
			e.metricInc(MetricTFATriggerBlocked)
			e.emitTFA(ctx, auditEventTFATriggerBlocked, providerID, ch, false, err.Error())
			return tfa.View{}, err
		}
		if !errors.Is(err, tfa.ErrNotConfigured) && !errors.Is(err, tfa.ErrInvalidThreemaID) {
			e.logger.WithFields(logrus.Fields{
				"function": "Engine.TriggerTFA",
				"provider": providerID,
				"user_id":  ch.UserID,
				"error":    err.Error(),
			}).Error("TFA trigger failed")
		}
		return tfa.View{}, err
	}
	return p.Render(ch, data), nil
}

// RenderTFA describes the current cycle without changing it. A challenge
// that was never triggered renders an empty view.
func (e *Engine) RenderTFA(ctx context.Context, providerID string, ch tfa.Challenge) (tfa.View, error) {
	p, err := e.provider(providerID)
	if err != nil {
		return tfa.View{}, err
	}
	data, err := tfa.LoadProviderData(ctx, e.data, providerID, ch)
	if err != nil && !errors.Is(err, tfa.ErrNoProviderData) {
		return tfa.View{}, err
	}
	return p.Render(ch, data), nil
}

// VerifyTFA checks input against the current cycle. Wrong, stale or
// missing input is reported in the result; err means a backend failure.
func (e *Engine) VerifyTFA(ctx context.Context, providerID string, ch tfa.Challenge, input string) (tfa.VerifyResult, error) {
	p, err := e.provider(providerID)
	if err != nil {
		return tfa.VerifyResult{}, err
	}
	if ch, err = e.challenge(ctx, ch); err != nil {
		return tfa.VerifyResult{}, err
	}
	res, err := p.Verify(ctx, ch, input)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"function": "Engine.VerifyTFA",
			"provider": providerID,
			"user_id":  ch.UserID,
			"error":    err.Error(),
		}).Error("TFA verify failed")
	}
	return res, err
}

// ProviderData returns the stored state of a challenge.
func (e *Engine) ProviderData(ctx context.Context, providerID string, ch tfa.Challenge) (*tfa.ProviderData, error) {
	if _, err := e.provider(providerID); err != nil {
		return nil, err
	}
	return tfa.LoadProviderData(ctx, e.data, providerID, ch)
}

// DisableTFA removes a configured provider from the account and drops any
// pending confirmation for it.
func (e *Engine) DisableTFA(ctx context.Context, userID, providerID string) error {
	if _, err := e.provider(providerID); err != nil {
		return err
	}
	data, err := e.data.Load(ctx, tfa.ScopeAccount, userID, providerID)
	if errors.Is(err, tfa.ErrNoProviderData) {
		return nil
	}
	if err != nil {
		return err
	}
	if data.ThreemaID != "" {
		for _, t := range []tfa.PendingType{tfa.PendingCode, tfa.PendingDeliveryReceipt} {
			if err := e.pending.Unregister(ctx, data.ThreemaID, providerID, t); err != nil {
				return err
			}
		}
	}
	if err := e.data.Delete(ctx, tfa.ScopeAccount, userID, providerID); err != nil {
		return err
	}
	e.emitTFA(ctx, auditEventTFADisabled, providerID, tfa.Challenge{UserID: userID, ThreemaID: data.ThreemaID}, true, "")
	return nil
}

// EndSession drops every setup state kept for sessionID.
func (e *Engine) EndSession(ctx context.Context, sessionID string) error {
	if e == nil || e.data.sessions == nil {
		return ErrEngineNotReady
	}
	_, err := e.data.sessions.DeleteSession(ctx, sessionID)
	return err
}

// observeTFA turns provider events into metrics and audit events.
func (e *Engine) observeTFA(ctx context.Context, ev tfa.Event) {
	ch := tfa.Challenge{UserID: ev.UserID, Setup: ev.Setup}
	switch ev.Kind {
	case tfa.EventTriggered:
		e.metricInc(MetricTFATriggered)
		e.emitTFA(ctx, auditEventTFATriggered, ev.ProviderID, ch, true, "")
	case tfa.EventVerified:
		e.metricInc(MetricTFAVerified)
		e.emitTFA(ctx, auditEventTFAVerified, ev.ProviderID, ch, true, "")
	case tfa.EventVerifyFailed:
		switch ev.Reason {
		case tfa.ReasonRateLimited:
			e.metricInc(MetricTFARateLimited)
		case tfa.ReasonReplay:
			e.metricInc(MetricTFAReplay)
		}
		e.metricInc(MetricTFAVerifyFailed)
		e.emitTFA(ctx, auditEventTFAVerifyFailed, ev.ProviderID, ch, false, ev.Reason.String())
	case tfa.EventDeclined:
		e.metricInc(MetricTFADeclined)
		e.emitTFA(ctx, auditEventTFADeclined, ev.ProviderID, ch, false, "declined")
	case tfa.EventConfirmationMatched:
		e.metricInc(MetricTFAConfirmationMatched)
		e.emitTFA(ctx, auditEventTFAConfirmation, ev.ProviderID, ch, true, "")
	}
}
