package flows

import (
	"context"
	"strconv"
	"time"

	"github.com/MrEthical07/threemaGW/gateway"
)

// CallbackRequest carries the raw fields of a gateway callback.
type CallbackRequest struct {
	Method     string
	RemoteAddr string

	AccessToken string
	From        string
	To          string
	MessageID   string
	Date        string
	Nonce       string
	Box         string
	MAC         string
	Nickname    string
}

// Fields returns the MAC-covered fields.
func (r CallbackRequest) Fields() gateway.CallbackFields {
	return gateway.CallbackFields{
		From:      r.From,
		To:        r.To,
		MessageID: r.MessageID,
		Date:      r.Date,
		Nonce:     r.Nonce,
		Box:       r.Box,
	}
}

// CallbackStage names the validator stage that produced a verdict.
type CallbackStage int

const (
	StageNone CallbackStage = iota
	StagePreConditions
	StageRequest
	StageFormalities
)

func (s CallbackStage) String() string {
	switch s {
	case StagePreConditions:
		return "pre_conditions"
	case StageRequest:
		return "request"
	case StageFormalities:
		return "formalities"
	default:
		return "none"
	}
}

// Verdict is the outcome of callback validation. Reason is safe to return
// to the caller.
type Verdict struct {
	Stage     CallbackStage
	Retryable bool
	Reason    string
}

// OK reports whether every stage passed.
func (v Verdict) OK() bool { return v.Stage == StageNone }

// Status maps the verdict to the HTTP status the gateway expects: 500 asks
// it to retry later, 200 tells it to drop the message.
func (v Verdict) Status() int {
	if v.Retryable {
		return 500
	}
	return 200
}

type CallbackMetrics struct {
	PreConditionsFailed int
	RequestFailed       int
	FormalitiesFailed   int
	AuthThrottled       int
}

type CallbackDeps struct {
	Debug    bool
	AllowGET bool

	AccessToken   string
	GatewayID     string
	Secret        string
	MaxMessageAge time.Duration
	MaxFutureSkew time.Duration

	Now           func() time.Time
	E2EConfigured func() bool
	VerifyMAC     func(gateway.CallbackFields, string, string) bool
	Equal         func(string, string) bool

	AuthBlocked       func(context.Context, string) (bool, error)
	RecordAuthFailure func(context.Context, string) (bool, error)

	MetricInc func(int)
	Metrics   CallbackMetrics
}

func normalizeCallbackDeps(deps *CallbackDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.VerifyMAC == nil {
		deps.VerifyMAC = gateway.VerifyCallbackMAC
	}
	if deps.Equal == nil {
		deps.Equal = gateway.ConstantTimeEqual
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.MaxMessageAge <= 0 {
		deps.MaxMessageAge = 14 * 24 * time.Hour
	}
	if deps.MaxFutureSkew <= 0 {
		deps.MaxFutureSkew = 5 * time.Second
	}
}

// RunValidateCallback runs the three stages in order and stops at the first
// failure.
func RunValidateCallback(ctx context.Context, req CallbackRequest, deps CallbackDeps) Verdict {
	normalizeCallbackDeps(&deps)

	if v := ValidatePreConditions(req, deps); !v.OK() {
		deps.MetricInc(deps.Metrics.PreConditionsFailed)
		return v
	}
	if v := ValidateRequest(ctx, req, deps); !v.OK() {
		deps.MetricInc(deps.Metrics.RequestFailed)
		return v
	}
	if v := ValidateFormalities(req, deps); !v.OK() {
		deps.MetricInc(deps.Metrics.FormalitiesFailed)
		return v
	}
	return Verdict{}
}

// ValidatePreConditions checks method, field presence and E2E mode.
// Failures are not retryable.
func ValidatePreConditions(req CallbackRequest, deps CallbackDeps) Verdict {
	fail := func(reason string) Verdict {
		return Verdict{Stage: StagePreConditions, Reason: reason}
	}

	switch req.Method {
	case "POST":
	case "GET":
		if !deps.Debug || !deps.AllowGET {
			return fail("Invalid request method.")
		}
	default:
		return fail("Invalid request method.")
	}

	required := []struct {
		name  string
		value string
	}{
		{"accesstoken", req.AccessToken},
		{"from", req.From},
		{"to", req.To},
		{"messageId", req.MessageID},
		{"date", req.Date},
		{"nonce", req.Nonce},
		{"box", req.Box},
		{"mac", req.MAC},
	}
	for _, f := range required {
		if f.value == "" {
			return fail("Missing required field " + f.name + ".")
		}
	}

	if deps.E2EConfigured == nil || !deps.E2EConfigured() {
		return fail("End-to-end mode is not configured.")
	}
	return Verdict{}
}

// ValidateRequest checks the access token and the MAC. Failures are
// retryable since the shared secrets may be rotating.
func ValidateRequest(ctx context.Context, req CallbackRequest, deps CallbackDeps) Verdict {
	fail := func(reason string) Verdict {
		if deps.RecordAuthFailure != nil {
			_, _ = deps.RecordAuthFailure(ctx, req.RemoteAddr)
		}
		return Verdict{Stage: StageRequest, Retryable: true, Reason: reason}
	}

	if deps.AuthBlocked != nil {
		blocked, err := deps.AuthBlocked(ctx, req.RemoteAddr)
		if err == nil && blocked {
			deps.MetricInc(deps.Metrics.AuthThrottled)
			return Verdict{Stage: StageRequest, Retryable: true, Reason: "Too many failed requests."}
		}
	}

	if deps.AccessToken == "" || !deps.Equal(deps.AccessToken, req.AccessToken) {
		return fail("Invalid access token.")
	}
	if !deps.VerifyMAC(req.Fields(), req.MAC, deps.Secret) {
		return fail("Invalid MAC.")
	}
	return Verdict{}
}

// ValidateFormalities checks the recipient, the id format and the message
// date window. Failures are not retryable.
func ValidateFormalities(req CallbackRequest, deps CallbackDeps) Verdict {
	fail := func(reason string) Verdict {
		return Verdict{Stage: StageFormalities, Reason: reason}
	}

	if !deps.Equal(deps.GatewayID, req.To) {
		return fail("Message is not addressed to this gateway.")
	}
	if !gateway.ValidThreemaID(req.From) {
		return fail("Invalid sender.")
	}
	if _, err := gateway.ParseMessageID(req.MessageID); err != nil {
		return fail("Invalid message id.")
	}

	sent, err := ParseCallbackDate(req.Date)
	if err != nil {
		return fail("Invalid message date.")
	}
	now := deps.Now()
	if sent.Before(now.Add(-deps.MaxMessageAge)) {
		return fail("Message is too old.")
	}
	if sent.After(now.Add(deps.MaxFutureSkew)) {
		return fail("Message date is in the future.")
	}
	return Verdict{}
}

// ParseCallbackDate parses the unix timestamp of a callback.
func ParseCallbackDate(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0), nil
}
