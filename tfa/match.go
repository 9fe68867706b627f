package tfa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/threemaGW/gateway"
	"github.com/MrEthical07/threemaGW/inbound"
)

// MatchOutcome is the result class of Matcher.Match.
type MatchOutcome uint8

const (
	// NotApplicable means the message is not a reply to any pending request.
	NotApplicable MatchOutcome = iota
	// Matched means at least one pending request was processed.
	Matched
	// Expired means every otherwise eligible request had expired.
	Expired
)

func (o MatchOutcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Expired:
		return "expired"
	default:
		return "not_applicable"
	}
}

// Observation is what a message contributed to one pending request.
type Observation struct {
	Message inbound.Message
	// Code is the filtered text of a text message.
	Code string
	// AckedID is the acknowledged message id that equals the request's ExtraData.
	AckedID string
	Receipt gateway.ReceiptType
}

// MergeFunc folds an observation into data. It may run more than once for
// the same message and must only mutate data.
type MergeFunc func(ctx context.Context, data *ProviderData, req PendingRequest, obs Observation) error

// AfterSaveFunc runs once the merged data has been committed.
type AfterSaveFunc func(ctx context.Context, req PendingRequest, data *ProviderData) []inbound.LogEntry

// MatchSpec describes which pending requests a listener serves and how a
// match updates provider data.
type MatchSpec struct {
	Type       PendingType
	ProviderID string
	Filters    []Filter
	// Consume deletes the pending request before merging so each request
	// is processed at most once.
	Consume   bool
	Merge     MergeFunc
	AfterSave AfterSaveFunc
}

// MatchResult summarises one Match call.
type MatchResult struct {
	Outcome   MatchOutcome
	Processed int
	Expired   int
	Entries   []inbound.LogEntry
}

var errThreemaIDChanged = errors.New("provider data belongs to another threema id")

// Matcher correlates inbound messages with pending requests.
type Matcher struct {
	pending PendingStore
	data    ProviderDataStore
	logger  logrus.FieldLogger
	onMatch func(context.Context, Event)
}

// NewMatcher builds a Matcher.
func NewMatcher(pending PendingStore, data ProviderDataStore, logger logrus.FieldLogger) *Matcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Matcher{pending: pending, data: data, logger: logger, onMatch: func(context.Context, Event) {}}
}

// OnMatch sets a callback for every confirmation merged into provider data.
func (m *Matcher) OnMatch(fn func(context.Context, Event)) *Matcher {
	if fn != nil {
		m.onMatch = fn
	}
	return m
}

// Match runs spec against msg.
func (m *Matcher) Match(ctx context.Context, msg inbound.Message, spec MatchSpec) (MatchResult, error) {
	var res MatchResult
	if spec.Merge == nil {
		return res, fmt.Errorf("tfa: match spec for %q has no merge func", spec.ProviderID)
	}

	filtered, ok, err := applyFilters(msg, spec.Filters)
	if err != nil {
		return res, err
	}
	if !ok {
		return res, nil
	}

	candidates, err := m.pending.Find(ctx, msg.Sender, spec.Type, spec.ProviderID)
	if err != nil {
		return res, err
	}
	if len(candidates) == 0 {
		return res, nil
	}

	for _, req := range candidates {
		if msg.SendDate.After(req.ExpiresAt) {
			res.Expired++
			continue
		}
		obs, ok := observe(filtered, req, spec.Type)
		if !ok {
			continue
		}
		if spec.Consume {
			claimed, err := m.pending.Claim(ctx, req)
			if err != nil {
				return res, err
			}
			if !claimed {
				continue
			}
		}

		data, scope, err := m.merge(ctx, req, obs, spec.Merge)
		if errors.Is(err, ErrNoProviderData) || errors.Is(err, errThreemaIDChanged) {
			m.logger.WithFields(logrus.Fields{
				"provider":   req.ProviderID,
				"request_id": req.RequestID,
			}).WithError(err).Info("tfa: pending confirmation without usable provider data")
			continue
		}
		if err != nil {
			return res, err
		}
		res.Processed++
		m.onMatch(ctx, Event{Kind: EventConfirmationMatched, ProviderID: req.ProviderID, UserID: req.UserID, Setup: scope == ScopeSession})
		if spec.AfterSave != nil {
			res.Entries = append(res.Entries, spec.AfterSave(ctx, req, data)...)
		}
	}

	switch {
	case res.Processed > 0:
		res.Outcome = Matched
	case res.Expired > 0:
		res.Outcome = Expired
	}
	return res, nil
}

// merge updates the session copy when the request came from a session that
// is mid-setup, otherwise the account record. It returns the scope written.
func (m *Matcher) merge(ctx context.Context, req PendingRequest, obs Observation, merge MergeFunc) (*ProviderData, Scope, error) {
	fn := func(data *ProviderData) error {
		if !ConstantTimeEqual(data.ThreemaID, req.ThreemaID) {
			return errThreemaIDChanged
		}
		return merge(ctx, data, req, obs)
	}
	if req.SessionID != "" {
		data, err := m.data.Update(ctx, ScopeSession, req.SessionID, req.ProviderID, fn)
		if !errors.Is(err, ErrNoProviderData) {
			return data, ScopeSession, err
		}
	}
	if req.UserID == "" {
		return nil, ScopeAccount, ErrNoProviderData
	}
	data, err := m.data.Update(ctx, ScopeAccount, req.UserID, req.ProviderID, fn)
	return data, ScopeAccount, err
}

// observe extracts what msg says about req. Receipts only count once one of
// the acknowledged ids equals the id recorded when the request was made.
func observe(msg inbound.Message, req PendingRequest, t PendingType) (Observation, bool) {
	obs := Observation{Message: msg}
	switch t {
	case PendingCode:
		text, ok := msg.Payload.(gateway.TextMessage)
		if !ok {
			return obs, false
		}
		obs.Code = strings.TrimSpace(text.Text)
		return obs, obs.Code != ""
	case PendingDeliveryReceipt:
		receipt, ok := msg.Payload.(gateway.DeliveryReceipt)
		if !ok || req.ExtraData == "" {
			return obs, false
		}
		for _, id := range receipt.MessageIDs {
			if ConstantTimeEqual(req.ExtraData, id.String()) {
				obs.AckedID = id.String()
				obs.Receipt = receipt.Status
				return obs, true
			}
		}
	}
	return obs, false
}

// ReplayCheck reports whether a message id has already been recorded.
type ReplayCheck func(ctx context.Context, id gateway.MessageID) (bool, error)

// CodeListener adapts spec to a pre-save hook for text replies.
func CodeListener(m *Matcher, spec MatchSpec, received ReplayCheck) inbound.PreSaveHook {
	spec.Type = PendingCode
	return listener(m, spec, gateway.TypeText, received)
}

// ReceiptListener adapts spec to a pre-save hook for delivery receipts.
func ReceiptListener(m *Matcher, spec MatchSpec, received ReplayCheck) inbound.PreSaveHook {
	spec.Type = PendingDeliveryReceipt
	return listener(m, spec, gateway.TypeDeliveryReceipt, received)
}

func listener(m *Matcher, spec MatchSpec, want gateway.MessageType, received ReplayCheck) inbound.PreSaveHook {
	return func(ctx context.Context, msg inbound.Message, debug bool) (inbound.HookResult, error) {
		if msg.Type() != want {
			return inbound.HookResult{}, nil
		}
		if received != nil {
			seen, err := received(ctx, msg.ID)
			if err != nil {
				return inbound.HookResult{}, err
			}
			if seen {
				return inbound.HookResult{}, ErrReplayDetected
			}
		}

		started := time.Now()
		res, err := m.Match(ctx, msg, spec)
		if err != nil {
			return inbound.HookResult{}, err
		}

		out := inbound.HookResult{Entries: res.Entries}
		switch res.Outcome {
		case Matched:
			out.SuppressSave = true
			out.Entries = append(out.Entries, inbound.PublicEntry("TFA confirmation processed."))
			if debug {
				out.Entries = append(out.Entries, inbound.DetailEntry(fmt.Sprintf(
					"%s: %d pending %s request(s) processed in %s",
					spec.ProviderID, res.Processed, spec.Type, time.Since(started))))
			}
		case Expired:
			out.Entries = append(out.Entries, inbound.LogEntry{
				Visibility: inbound.Public,
				Level:      inbound.LevelWarn,
				Text:       "TFA confirmation request expired.",
			})
		}
		return out, nil
	}
}
