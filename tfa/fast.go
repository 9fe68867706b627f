package tfa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/threemaGW/gateway"
	"github.com/MrEthical07/threemaGW/inbound"
)

// DefaultFastMessage is sent when Settings.Message is empty.
const DefaultFastMessage = "Please confirm your login by acknowledging this message. Decline it if you did not try to log in."

// DeclinePolicy configures what a declined fast-mode message does. Every
// action additionally needs DeclineActions.Permitted for the user.
type DeclinePolicy struct {
	BlockTFA      bool
	BlockDuration time.Duration
	BanUser       bool
	BanIP         bool
	NotifyUser    bool
	NotifyMessage string
}

// Fast sends a message and waits for the user to acknowledge it in the app.
type Fast struct {
	deps     Deps
	settings Settings
	decline  DeclinePolicy
}

// NewFast builds the fast provider.
func NewFast(deps Deps, settings Settings, decline DeclinePolicy) *Fast {
	normalizeDeps(&deps)
	if settings.Message == "" {
		settings.Message = DefaultFastMessage
	}
	if decline.NotifyMessage == "" {
		decline.NotifyMessage = "A login confirmation was declined from your Threema app."
	}
	return &Fast{deps: deps, settings: settings, decline: decline}
}

func (p *Fast) ID() string { return ProviderFast }

func (p *Fast) Trigger(ctx context.Context, ch Challenge) (*ProviderData, error) {
	if p.deps.Sender == nil {
		return nil, errors.New("tfa: fast provider has no message sender")
	}
	data, err := beginTrigger(ctx, p.deps, p.ID(), ch)
	if err != nil {
		return nil, err
	}
	now := p.deps.Now()
	if data.Blocked {
		if now.Before(data.BlockedUntil) {
			return nil, ErrTriggerBlocked
		}
		clearBlock(data)
	}
	p.ResetEphemeralState(data)

	sent, err := p.deps.Sender.SendText(ctx, data.ThreemaID, p.settings.Message)
	if err != nil {
		return nil, err
	}
	data.Secret = sent.String()
	data.SecretGenerated = now
	data.ValidationTime = p.settings.ValidationTime
	data.ClientIP = ch.ClientIP
	if err := p.deps.save(ctx, p.ID(), ch, data); err != nil {
		return nil, err
	}

	req := PendingRequest{
		RequestID:  p.deps.NewID(),
		ThreemaID:  data.ThreemaID,
		ProviderID: p.ID(),
		Type:       PendingDeliveryReceipt,
		UserID:     ch.UserID,
		SessionID:  ch.SessionID,
		ExtraData:  sent.String(),
		ExpiresAt:  now.Add(p.settings.pendingTTL()),
	}
	if err := p.deps.Pending.Register(ctx, req); err != nil {
		return nil, err
	}
	p.deps.Observe(ctx, Event{Kind: EventTriggered, ProviderID: p.ID(), UserID: ch.UserID, Setup: ch.Setup})
	return data, nil
}

func (p *Fast) Render(_ Challenge, data *ProviderData) View {
	v := renderBase(p.ID(), data)
	if data != nil {
		v.Received = data.ReceivedDeliveryReceipt != 0
	}
	return v
}

// MatchSpec returns how delivery receipts feed this provider. Receipt
// requests are not consumed: later receipts for the same message still
// update the recorded state until Verify ends the cycle.
func (p *Fast) MatchSpec() MatchSpec {
	return MatchSpec{
		Type:       PendingDeliveryReceipt,
		ProviderID: p.ID(),
		Merge:      p.mergeReceipt,
		AfterSave:  p.afterReceipt,
	}
}

func (p *Fast) mergeReceipt(ctx context.Context, data *ProviderData, req PendingRequest, obs Observation) error {
	data.ReceivedSecret = obs.AckedID
	data.ReceivedDeliveryReceipt = obs.Receipt
	if obs.Receipt > data.ReceivedDeliveryReceiptLargest {
		data.ReceivedDeliveryReceiptLargest = obs.Receipt
	}
	if obs.Receipt == gateway.ReceiptDeclined {
		return p.markDecline(ctx, req.UserID, data)
	}
	// a later non-decline receipt for the message that caused the block lifts it
	if data.Blocked && data.BlockedBy != "" && ConstantTimeEqual(data.BlockedBy, data.Secret) {
		clearBlock(data)
	}
	return nil
}

func (p *Fast) afterReceipt(ctx context.Context, req PendingRequest, data *ProviderData) []inbound.LogEntry {
	if !data.declineFired {
		return nil
	}
	return p.fireDeclineActions(ctx, req.UserID, data)
}

// markDecline applies the state part of decline handling once per cycle.
func (p *Fast) markDecline(ctx context.Context, userID string, data *ProviderData) error {
	if data.DeclineHandled {
		return nil
	}
	data.DeclineHandled = true
	data.declineFired = true
	if !p.decline.BlockTFA {
		return nil
	}
	ok, err := p.permitted(ctx, userID, DeclineBlockTFA)
	if err != nil {
		return err
	}
	if ok {
		data.Blocked = true
		data.BlockedUntil = p.deps.Now().Add(p.decline.BlockDuration)
		data.BlockedBy = data.Secret
	}
	return nil
}

// fireDeclineActions runs the external side effects of a decline. Failures
// are logged and do not undo the block.
func (p *Fast) fireDeclineActions(ctx context.Context, userID string, data *ProviderData) []inbound.LogEntry {
	log := p.deps.Logger.WithFields(logrus.Fields{"provider": p.ID(), "user_id": userID})
	var entries []inbound.LogEntry
	warn := func(action DeclineAction, err error) {
		log.WithError(err).WithField("action", action.String()).Warn("tfa: decline action failed")
		entries = append(entries, inbound.LogEntry{
			Visibility: inbound.Detailed,
			Level:      inbound.LevelWarn,
			Text:       fmt.Sprintf("decline action %s failed: %v", action, err),
		})
	}

	reason := "declined login confirmation"
	if p.decline.BanUser && p.deps.Decline != nil {
		if ok, err := p.permitted(ctx, userID, DeclineBanUser); err != nil {
			warn(DeclineBanUser, err)
		} else if ok {
			if err := p.deps.Decline.BanUser(ctx, userID, reason); err != nil {
				warn(DeclineBanUser, err)
			}
		}
	}
	if p.decline.BanIP && p.deps.Decline != nil && data.ClientIP != "" {
		if ok, err := p.permitted(ctx, userID, DeclineBanIP); err != nil {
			warn(DeclineBanIP, err)
		} else if ok {
			if err := p.deps.Decline.BanIP(ctx, userID, data.ClientIP, reason); err != nil {
				warn(DeclineBanIP, err)
			}
		}
	}
	if p.decline.NotifyUser && p.deps.Decline != nil {
		if ok, err := p.permitted(ctx, userID, DeclineNotify); err != nil {
			warn(DeclineNotify, err)
		} else if ok {
			if err := p.deps.Decline.NotifyUser(ctx, userID, p.decline.NotifyMessage); err != nil {
				warn(DeclineNotify, err)
			}
		}
	}

	log.WithField("blocked", data.Blocked).Warn("tfa: login confirmation declined")
	p.deps.Observe(ctx, Event{Kind: EventDeclined, ProviderID: p.ID(), UserID: userID, Reason: ReasonDeclined})
	return append(entries, inbound.PublicEntry("TFA confirmation declined."))
}

// permitted asks the host. Without one only the internal block is allowed.
func (p *Fast) permitted(ctx context.Context, userID string, action DeclineAction) (bool, error) {
	if p.deps.Decline == nil {
		return action == DeclineBlockTFA, nil
	}
	return p.deps.Decline.Permitted(ctx, userID, action)
}

// Verify checks the receipt recorded for the sent message. The form input
// is ignored.
func (p *Fast) Verify(ctx context.Context, ch Challenge, _ string) (VerifyResult, error) {
	res, data, err := runVerify(ctx, p.deps, p.ID(), PendingDeliveryReceipt, ch, func(data *ProviderData, now time.Time) VerifyResult {
		if data.Blocked {
			if now.Before(data.BlockedUntil) {
				return failed(ReasonBlocked)
			}
			clearBlock(data)
		}
		if data.Secret == "" {
			return failed(ReasonNotTriggered)
		}
		if secretExpired(data, now) {
			p.ResetEphemeralState(data)
			return failed(ReasonExpired)
		}
		if data.ReceivedSecret == "" || data.ReceivedDeliveryReceipt == 0 {
			return failed(ReasonPending)
		}
		if data.ReceivedDeliveryReceipt == gateway.ReceiptDeclined {
			// the receipt listener normally got here first; this covers a missed one
			if err := p.markDecline(ctx, ch.UserID, data); err != nil {
				p.deps.Logger.WithError(err).Warn("tfa: decline permission lookup failed")
			}
			p.ResetEphemeralState(data)
			data.DeclineHandled = true
			return failed(ReasonDeclined)
		}
		if isReplay(data, data.ReceivedSecret, now) {
			p.ResetEphemeralState(data)
			return failed(ReasonReplay)
		}
		if !ConstantTimeEqual(data.ReceivedSecret, data.Secret) {
			p.ResetEphemeralState(data)
			return failed(ReasonInvalid)
		}
		if data.ReceivedDeliveryReceipt != gateway.ReceiptAcknowledged &&
			data.ReceivedDeliveryReceiptLargest != gateway.ReceiptAcknowledged {
			return failed(ReasonPending)
		}
		ratchet(data, now)
		p.ResetEphemeralState(data)
		return VerifyResult{OK: true}
	})
	if err != nil {
		return res, err
	}
	if data != nil && data.declineFired {
		p.fireDeclineActions(ctx, ch.UserID, data)
	}
	return res, nil
}

func (p *Fast) ResetEphemeralState(data *ProviderData) { resetEphemeral(data) }
