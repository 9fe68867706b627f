package tfa

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/threemaGW/gateway"
)

// Provider is one TFA mode.
type Provider interface {
	ID() string
	// Trigger starts a new verification cycle and returns the saved state.
	Trigger(ctx context.Context, ch Challenge) (*ProviderData, error)
	// Render describes what the login form has to show for data.
	Render(ch Challenge, data *ProviderData) View
	// Verify evaluates the current cycle. Wrong, missing or stale input is
	// reported through the result; err is reserved for storage failures.
	Verify(ctx context.Context, ch Challenge, input string) (VerifyResult, error)
	// ResetEphemeralState clears one-shot fields of data.
	ResetEphemeralState(data *ProviderData)
}

// Challenge identifies whose verification a call is about. Setup challenges
// keep their state in the session until verified.
type Challenge struct {
	UserID    string
	SessionID string
	ThreemaID string
	Setup     bool
	ClientIP  string
}

func (c Challenge) scope() (Scope, string) {
	if c.Setup {
		return ScopeSession, c.SessionID
	}
	return ScopeAccount, c.UserID
}

// View is the render model for the login or setup form.
type View struct {
	ProviderID   string
	ThreemaID    string
	Recipient    string
	Code         string
	Triggered    bool
	Received     bool
	ExpiresAt    time.Time
	Blocked      bool
	BlockedUntil time.Time
}

// Reason classifies a verify outcome.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonNotTriggered
	ReasonPending
	ReasonExpired
	ReasonInvalid
	ReasonReplay
	ReasonBlocked
	ReasonDeclined
	ReasonRateLimited
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "ok"
	case ReasonNotTriggered:
		return "not_triggered"
	case ReasonPending:
		return "pending"
	case ReasonExpired:
		return "expired"
	case ReasonInvalid:
		return "invalid"
	case ReasonReplay:
		return "replay"
	case ReasonBlocked:
		return "blocked"
	case ReasonDeclined:
		return "declined"
	case ReasonRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// VerifyResult is the outcome of Provider.Verify.
type VerifyResult struct {
	OK     bool
	Reason Reason
}

func failed(r Reason) VerifyResult { return VerifyResult{Reason: r} }

// terminal reports whether the result ends the current cycle.
func (r VerifyResult) terminal() bool {
	switch {
	case r.OK:
		return true
	case r.Reason == ReasonExpired, r.Reason == ReasonDeclined, r.Reason == ReasonReplay:
		return true
	}
	return false
}

// EventKind tags an Event.
type EventKind uint8

const (
	EventTriggered EventKind = iota + 1
	EventVerified
	EventVerifyFailed
	EventDeclined
	EventConfirmationMatched
)

// Event is reported to Deps.Observe for metrics and audit.
type Event struct {
	Kind       EventKind
	ProviderID string
	UserID     string
	Reason     Reason
	Setup      bool
}

// Deps are the collaborators shared by all providers.
type Deps struct {
	Data    ProviderDataStore
	Pending PendingStore
	Sender  MessageSender
	Limiter AttemptLimiter
	Decline DeclineActions

	// GatewayID is shown to users who have to message the gateway.
	GatewayID string

	Now     func() time.Time
	NewID   func() string
	Logger  logrus.FieldLogger
	Observe func(context.Context, Event)
}

func normalizeDeps(d *Deps) {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	if d.Observe == nil {
		d.Observe = func(context.Context, Event) {}
	}
	if d.Limiter == nil {
		d.Limiter = noLimit{}
	}
}

type noLimit struct{}

func (noLimit) Allow(context.Context, string, string) (bool, error)  { return true, nil }
func (noLimit) RecordFailure(context.Context, string, string) error { return nil }
func (noLimit) Reset(context.Context, string, string) error         { return nil }

// Settings are the per-provider knobs.
type Settings struct {
	// ValidationTime bounds how long a secret stays valid.
	ValidationTime time.Duration
	// PendingTTL bounds how long a pending confirmation waits. Zero means ValidationTime.
	PendingTTL time.Duration
	// Message is the outbound text. Conventional formats the code into it with %s.
	Message string
}

func (s Settings) pendingTTL() time.Duration {
	if s.PendingTTL > 0 {
		return s.PendingTTL
	}
	return s.ValidationTime
}

// LoadProviderData reads the state ch refers to.
func LoadProviderData(ctx context.Context, store ProviderDataStore, providerID string, ch Challenge) (*ProviderData, error) {
	scope, owner := ch.scope()
	return store.Load(ctx, scope, owner, providerID)
}

// beginTrigger loads or creates the state a new cycle starts from.
func beginTrigger(ctx context.Context, d Deps, providerID string, ch Challenge) (*ProviderData, error) {
	scope, owner := ch.scope()
	if owner == "" {
		return nil, ErrNotConfigured
	}
	if ch.Setup {
		if !gateway.ValidThreemaID(ch.ThreemaID) {
			return nil, ErrInvalidThreemaID
		}
		data, err := d.Data.Load(ctx, scope, owner, providerID)
		if errors.Is(err, ErrNoProviderData) {
			data = &ProviderData{}
		} else if err != nil {
			return nil, err
		}
		data.ThreemaID = ch.ThreemaID
		return data, nil
	}

	data, err := d.Data.Load(ctx, scope, owner, providerID)
	if errors.Is(err, ErrNoProviderData) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}
	if !data.Enabled || data.ThreemaID == "" {
		return nil, ErrNotConfigured
	}
	return data, nil
}

// runVerify applies evaluate to the stored state of ch and settles the
// limiter, pending request and setup promotion around it.
func runVerify(ctx context.Context, d Deps, providerID string, pendingType PendingType, ch Challenge, evaluate func(*ProviderData, time.Time) VerifyResult) (VerifyResult, *ProviderData, error) {
	allowed, err := d.Limiter.Allow(ctx, providerID, ch.UserID)
	if err != nil {
		return VerifyResult{}, nil, err
	}
	if !allowed {
		d.Observe(ctx, Event{Kind: EventVerifyFailed, ProviderID: providerID, UserID: ch.UserID, Reason: ReasonRateLimited, Setup: ch.Setup})
		return failed(ReasonRateLimited), nil, nil
	}

	scope, owner := ch.scope()
	now := d.Now()
	var result VerifyResult
	data, err := d.Data.Update(ctx, scope, owner, providerID, func(data *ProviderData) error {
		result = evaluate(data, now)
		return nil
	})
	if errors.Is(err, ErrNoProviderData) {
		return failed(ReasonNotTriggered), nil, nil
	}
	if err != nil {
		return VerifyResult{}, nil, err
	}

	if result.terminal() && pendingType != 0 && d.Pending != nil {
		if err := d.Pending.Unregister(ctx, data.ThreemaID, providerID, pendingType); err != nil {
			d.Logger.WithError(err).WithField("provider", providerID).Warn("tfa: failed to unregister pending confirmation")
		}
	}

	switch {
	case result.OK:
		if err := d.Limiter.Reset(ctx, providerID, ch.UserID); err != nil {
			return VerifyResult{}, nil, err
		}
		if ch.Setup {
			if err := promoteSetup(ctx, d, providerID, ch, data); err != nil {
				return VerifyResult{}, nil, err
			}
		}
		d.Observe(ctx, Event{Kind: EventVerified, ProviderID: providerID, UserID: ch.UserID, Setup: ch.Setup})
	case result.Reason == ReasonInvalid, result.Reason == ReasonReplay, result.Reason == ReasonDeclined:
		if err := d.Limiter.RecordFailure(ctx, providerID, ch.UserID); err != nil {
			return VerifyResult{}, nil, err
		}
		d.Observe(ctx, Event{Kind: EventVerifyFailed, ProviderID: providerID, UserID: ch.UserID, Reason: result.Reason, Setup: ch.Setup})
	default:
		d.Observe(ctx, Event{Kind: EventVerifyFailed, ProviderID: providerID, UserID: ch.UserID, Reason: result.Reason, Setup: ch.Setup})
	}
	return result, data, nil
}

// promoteSetup enables the provider on the account and drops the session copy.
func promoteSetup(ctx context.Context, d Deps, providerID string, ch Challenge, data *ProviderData) error {
	data.Enabled = true
	if err := d.Data.Save(ctx, ScopeAccount, ch.UserID, providerID, data); err != nil {
		return err
	}
	return d.Data.Delete(ctx, ScopeSession, ch.SessionID, providerID)
}

func (d Deps) save(ctx context.Context, providerID string, ch Challenge, data *ProviderData) error {
	scope, owner := ch.scope()
	return d.Data.Save(ctx, scope, owner, providerID, data)
}

func renderBase(providerID string, data *ProviderData) View {
	v := View{ProviderID: providerID}
	if data == nil {
		return v
	}
	v.ThreemaID = data.ThreemaID
	v.Triggered = data.Secret != ""
	if v.Triggered {
		v.ExpiresAt = data.SecretGenerated.Add(data.ValidationTime)
	}
	v.Blocked = data.Blocked
	v.BlockedUntil = data.BlockedUntil
	return v
}
