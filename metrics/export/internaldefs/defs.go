package internaldefs

import (
	threemaGW "github.com/MrEthical07/threemaGW"
)

// Label is an optional constant label that splits one metric family into
// several series.
type Label struct {
	Key   string
	Value string
}

// CounterDef maps an engine counter to an exported series. Counters that
// share Name form one family and differ by Label.
type CounterDef struct {
	ID    threemaGW.MetricID
	Name  string
	Label Label
	Help  string
}

type HistogramDef struct {
	ID   threemaGW.MetricID
	Name string
	Help string
}

const (
	callbackRejected = "threemagw_callback_rejected_total"
	messagesFailed   = "threemagw_messages_failed_total"
	tfaVerifyRefused = "threemagw_tfa_verify_refused_total"
)

// CounterDefs lists every exported counter in render order. Members of a
// family must be adjacent.
var CounterDefs = []CounterDef{
	{ID: threemaGW.MetricCallbackRequest, Name: "threemagw_callback_requests_total", Help: "Gateway callbacks handled."},
	{ID: threemaGW.MetricCallbackPreConditionsFailed, Name: callbackRejected, Label: Label{"stage", "pre_conditions"}, Help: "Gateway callbacks rejected by validation."},
	{ID: threemaGW.MetricCallbackRequestFailed, Name: callbackRejected, Label: Label{"stage", "request"}, Help: "Gateway callbacks rejected by validation."},
	{ID: threemaGW.MetricCallbackFormalitiesFailed, Name: callbackRejected, Label: Label{"stage", "formalities"}, Help: "Gateway callbacks rejected by validation."},
	{ID: threemaGW.MetricCallbackAuthThrottled, Name: "threemagw_callback_auth_throttled_total", Help: "Callbacks refused after repeated authentication failures."},

	{ID: threemaGW.MetricMessageReceived, Name: "threemagw_messages_received_total", Help: "Messages decrypted."},
	{ID: threemaGW.MetricMessageSaved, Name: "threemagw_messages_saved_total", Help: "Messages stored with content."},
	{ID: threemaGW.MetricMessageSuppressed, Name: "threemagw_messages_suppressed_total", Help: "Messages stored as placeholder only."},
	{ID: threemaGW.MetricReplayDetected, Name: "threemagw_replay_detected_total", Help: "Deliveries of an already received message id."},
	{ID: threemaGW.MetricDecryptFailed, Name: messagesFailed, Label: Label{"reason", "decrypt"}, Help: "Messages that failed processing."},
	{ID: threemaGW.MetricHookFailed, Name: messagesFailed, Label: Label{"reason", "hook"}, Help: "Messages that failed processing."},
	{ID: threemaGW.MetricStorageFailed, Name: messagesFailed, Label: Label{"reason", "storage"}, Help: "Messages that failed processing."},
	{ID: threemaGW.MetricMalformedPayload, Name: messagesFailed, Label: Label{"reason", "malformed"}, Help: "Messages that failed processing."},

	{ID: threemaGW.MetricTFATriggered, Name: "threemagw_tfa_triggered_total", Help: "Verification cycles started."},
	{ID: threemaGW.MetricTFATriggerBlocked, Name: "threemagw_tfa_trigger_blocked_total", Help: "Triggers refused while fast mode is blocked."},
	{ID: threemaGW.MetricTFAVerified, Name: "threemagw_tfa_verified_total", Help: "Successful verifications."},
	{ID: threemaGW.MetricTFAVerifyFailed, Name: "threemagw_tfa_verify_failed_total", Help: "Failed verifications of any reason."},
	{ID: threemaGW.MetricTFARateLimited, Name: tfaVerifyRefused, Label: Label{"reason", "rate_limited"}, Help: "Failed verifications by security relevant reason."},
	{ID: threemaGW.MetricTFAReplay, Name: tfaVerifyRefused, Label: Label{"reason", "replay"}, Help: "Failed verifications by security relevant reason."},
	{ID: threemaGW.MetricTFADeclined, Name: "threemagw_tfa_declined_total", Help: "Fast-mode confirmations declined in the app."},
	{ID: threemaGW.MetricTFAConfirmationMatched, Name: "threemagw_tfa_confirmations_matched_total", Help: "Inbound messages matched to a pending confirmation."},

	{ID: threemaGW.MetricCleanupRun, Name: "threemagw_cleanup_runs_total", Help: "Retention sweeps."},
	{ID: threemaGW.MetricCleanupFailed, Name: "threemagw_cleanup_failures_total", Help: "Retention sweeps with at least one failed step."},
	{ID: threemaGW.MetricMessageScrubbed, Name: "threemagw_messages_scrubbed_total", Help: "Message contents removed by retention."},
	{ID: threemaGW.MetricMessageDeleted, Name: "threemagw_messages_deleted_total", Help: "Message contents removed on request."},
	{ID: threemaGW.MetricPendingPurged, Name: "threemagw_pending_purged_total", Help: "Expired pending confirmations removed."},
}

var HistogramDefs = []HistogramDef{
	{ID: threemaGW.MetricCallbackLatency, Name: "threemagw_callback_latency_seconds", Help: "Callback handling latency."},
}

// HistogramBounds are the upper bounds of the engine's latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form usable inside
// instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
