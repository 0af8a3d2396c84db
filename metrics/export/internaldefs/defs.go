package internaldefs

import (
	goGate "github.com/MrEthical07/goGate"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goGate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   goGate.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goGate.MetricLoginSuccess, Name: "gogate_login_success_total", Help: "Successful logins."},
	{ID: goGate.MetricLoginFailure, Name: "gogate_login_failure_total", Help: "Failed logins."},
	{ID: goGate.MetricLoginRateLimited, Name: "gogate_login_rate_limited_total", Help: "Logins refused by the failed-login throttle."},
	{ID: goGate.MetricReissueSuccess, Name: "gogate_reissue_success_total", Help: "Successful token reissues."},
	{ID: goGate.MetricReissueFailure, Name: "gogate_reissue_failure_total", Help: "Rejected token reissues."},
	{ID: goGate.MetricReissueReplayRejected, Name: "gogate_reissue_replay_rejected_total", Help: "Reissues of refresh tokens without a live session."},
	{ID: goGate.MetricLogout, Name: "gogate_logout_total", Help: "Single-session logouts."},
	{ID: goGate.MetricLogoutFailure, Name: "gogate_logout_failure_total", Help: "Rejected logouts."},
	{ID: goGate.MetricLogoutAll, Name: "gogate_logout_all_total", Help: "Logout-all operations."},
	{ID: goGate.MetricSessionCreated, Name: "gogate_session_created_total", Help: "Created refresh sessions."},
	{ID: goGate.MetricSessionEvicted, Name: "gogate_session_evicted_total", Help: "Sessions evicted by the per-subject cap."},
	{ID: goGate.MetricTokenRevoked, Name: "gogate_token_revoked_total", Help: "Token ids added to the revocation list."},
	{ID: goGate.MetricValidateSuccess, Name: "gogate_validate_success_total", Help: "Accepted access tokens."},
	{ID: goGate.MetricValidateFailure, Name: "gogate_validate_failure_total", Help: "Rejected access tokens."},
	{ID: goGate.MetricValidateRevoked, Name: "gogate_validate_revoked_total", Help: "Access tokens rejected as revoked."},
	{ID: goGate.MetricSignatureInvalid, Name: "gogate_signature_invalid_total", Help: "Tokens with a signature that did not verify."},
	{ID: goGate.MetricStoreUnavailable, Name: "gogate_store_unavailable_total", Help: "Store calls that failed or timed out."},
}

var HistogramDefs = []HistogramDef{
	{ID: goGate.MetricValidateLatency, Name: "gogate_validate_latency_seconds", Help: "Access token validation latency."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "gogate_audit_dropped_total"

const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// HistogramBounds are the upper bounds, in seconds, of the latency buckets.
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

// HistogramBoundsSeconds matches HistogramBounds without the +Inf bucket.
var HistogramBoundsSeconds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets copies raw into a fixed eight-bucket array, padding with
// zeros.
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
