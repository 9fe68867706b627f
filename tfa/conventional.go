package tfa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultConventionalMessage is sent when Settings.Message is empty.
const DefaultConventionalMessage = "Your login code is %s"

// Conventional sends a code to the user's Threema ID and expects it back
// through the login form.
type Conventional struct {
	deps     Deps
	settings Settings
}

// NewConventional builds the conventional provider.
func NewConventional(deps Deps, settings Settings) *Conventional {
	normalizeDeps(&deps)
	if settings.Message == "" {
		settings.Message = DefaultConventionalMessage
	}
	return &Conventional{deps: deps, settings: settings}
}

func (p *Conventional) ID() string { return ProviderConventional }

func (p *Conventional) Trigger(ctx context.Context, ch Challenge) (*ProviderData, error) {
	if p.deps.Sender == nil {
		return nil, errors.New("tfa: conventional provider has no message sender")
	}
	data, err := beginTrigger(ctx, p.deps, p.ID(), ch)
	if err != nil {
		return nil, err
	}
	p.ResetEphemeralState(data)

	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}
	data.Secret = code
	data.SecretGenerated = p.deps.Now()
	data.ValidationTime = p.settings.ValidationTime
	data.ClientIP = ch.ClientIP
	if err := p.deps.save(ctx, p.ID(), ch, data); err != nil {
		return nil, err
	}

	if _, err := p.deps.Sender.SendText(ctx, data.ThreemaID, fmt.Sprintf(p.settings.Message, code)); err != nil {
		return nil, err
	}
	p.deps.Observe(ctx, Event{Kind: EventTriggered, ProviderID: p.ID(), UserID: ch.UserID, Setup: ch.Setup})
	return data, nil
}

func (p *Conventional) Render(_ Challenge, data *ProviderData) View {
	return renderBase(p.ID(), data)
}

// Verify checks input against the code sent by Trigger. Expiry is checked
// before the comparison so a late correct code reports Expired.
func (p *Conventional) Verify(ctx context.Context, ch Challenge, input string) (VerifyResult, error) {
	input = strings.TrimSpace(input)
	res, _, err := runVerify(ctx, p.deps, p.ID(), 0, ch, func(data *ProviderData, now time.Time) VerifyResult {
		if !validCode(input) {
			return failed(ReasonInvalid)
		}
		if isReplay(data, input, now) {
			return failed(ReasonReplay)
		}
		if data.Secret == "" {
			return failed(ReasonNotTriggered)
		}
		if secretExpired(data, now) {
			p.ResetEphemeralState(data)
			return failed(ReasonExpired)
		}
		if !ConstantTimeEqual(input, data.Secret) {
			return failed(ReasonInvalid)
		}
		ratchet(data, now)
		p.ResetEphemeralState(data)
		return VerifyResult{OK: true}
	})
	return res, err
}

func (p *Conventional) ResetEphemeralState(data *ProviderData) { resetEphemeral(data) }
