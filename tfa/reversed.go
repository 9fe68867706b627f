package tfa

import (
	"context"
	"time"
)

// Reversed shows a code that the user sends to the gateway from the app.
// The matcher stores the code it received; Verify compares that.
type Reversed struct {
	deps     Deps
	settings Settings
}

// NewReversed builds the reversed provider.
func NewReversed(deps Deps, settings Settings) *Reversed {
	normalizeDeps(&deps)
	return &Reversed{deps: deps, settings: settings}
}

func (p *Reversed) ID() string { return ProviderReversed }

func (p *Reversed) Trigger(ctx context.Context, ch Challenge) (*ProviderData, error) {
	data, err := beginTrigger(ctx, p.deps, p.ID(), ch)
	if err != nil {
		return nil, err
	}
	p.ResetEphemeralState(data)

	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}
	now := p.deps.Now()
	data.Secret = code
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
		Type:       PendingCode,
		UserID:     ch.UserID,
		SessionID:  ch.SessionID,
		ExpiresAt:  now.Add(p.settings.pendingTTL()),
	}
	if err := p.deps.Pending.Register(ctx, req); err != nil {
		return nil, err
	}
	p.deps.Observe(ctx, Event{Kind: EventTriggered, ProviderID: p.ID(), UserID: ch.UserID, Setup: ch.Setup})
	return data, nil
}

func (p *Reversed) Render(_ Challenge, data *ProviderData) View {
	v := renderBase(p.ID(), data)
	v.Recipient = p.deps.GatewayID
	if data != nil {
		v.Code = data.Secret
		v.Received = data.ReceivedCode != ""
	}
	return v
}

// MatchSpec returns how inbound text messages feed this provider.
func (p *Reversed) MatchSpec() MatchSpec {
	return MatchSpec{
		Type:       PendingCode,
		ProviderID: p.ID(),
		Filters: []Filter{
			ReplaceFilter(" ", ""),
			RegexFilter(`^\d{6}$`),
		},
		Consume: true,
		Merge: func(_ context.Context, data *ProviderData, _ PendingRequest, obs Observation) error {
			data.ReceivedCode = obs.Code
			return nil
		},
	}
}

// Verify compares the code received from the app with the displayed one.
// The form input is ignored.
func (p *Reversed) Verify(ctx context.Context, ch Challenge, _ string) (VerifyResult, error) {
	res, _, err := runVerify(ctx, p.deps, p.ID(), PendingCode, ch, func(data *ProviderData, now time.Time) VerifyResult {
		if data.Secret == "" {
			return failed(ReasonNotTriggered)
		}
		if secretExpired(data, now) {
			p.ResetEphemeralState(data)
			return failed(ReasonExpired)
		}
		if data.ReceivedCode == "" {
			return failed(ReasonPending)
		}
		if isReplay(data, data.ReceivedCode, now) {
			p.ResetEphemeralState(data)
			return failed(ReasonReplay)
		}
		if !ConstantTimeEqual(data.ReceivedCode, data.Secret) {
			// the pending request was consumed by the wrong code
			p.ResetEphemeralState(data)
			return failed(ReasonInvalid)
		}
		ratchet(data, now)
		p.ResetEphemeralState(data)
		return VerifyResult{OK: true}
	})
	return res, err
}

func (p *Reversed) ResetEphemeralState(data *ProviderData) { resetEphemeral(data) }
