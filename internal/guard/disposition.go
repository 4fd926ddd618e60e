package guard

import "net/http"

// Verdict is the engine's per-request decision.
type Verdict int

// Verdict values.
const (
	VerdictAllow Verdict = iota
	VerdictThrottled
	VerdictBlocked
	VerdictRejected
)

// String returns the verdict name.
func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictThrottled:
		return "throttled"
	case VerdictBlocked:
		return "blocked"
	case VerdictRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Disposition describes how a request must be handled.
type Disposition struct {
	Verdict Verdict
	Type    HazardType // Deflect type; empty for Allow.
	Hazard  string     // Responsible hazard, when any.
	Reason  string     // Rejection reason, for Rejected.
}

// Allow is the disposition for an unhindered request.
func Allow() Disposition {
	return Disposition{Verdict: VerdictAllow}
}

// Throttled deflects a throttled request without a persistent blockage.
func Throttled(hazard string) Disposition {
	return Disposition{Verdict: VerdictThrottled, Type: HazardThrottle, Hazard: hazard}
}

// Blocked deflects a request from a client with an active blockage.
func Blocked(hazard string, t HazardType) Disposition {
	return Disposition{Verdict: VerdictBlocked, Type: t, Hazard: hazard}
}

// Rejected deflects a single request.
func Rejected(hazard string, t HazardType, reason string) Disposition {
	return Disposition{Verdict: VerdictRejected, Type: t, Hazard: hazard, Reason: reason}
}

// MethodNotAllowed rejects a request whose method is not accepted.
func MethodNotAllowed(method string) Disposition {
	return Rejected("", HazardMethodNotAllowed, "method "+method+" not allowed")
}

// deflect builds the disposition for a terminal deflect of the given hazard.
// A throttle without a blockage is Throttled, everything else Rejected.
func deflect(h Hazard, blocked bool) Disposition {
	if blocked {
		return Blocked(h.Name, h.Type)
	}
	if h.Type == HazardThrottle {
		return Throttled(h.Name)
	}
	return Rejected(h.Name, h.Type, string(h.Type))
}

// Deflected reports whether the request must not proceed.
func (d Disposition) Deflected() bool {
	return d.Verdict != VerdictAllow && d.Type != HazardWhitelist
}

// StatusCode maps the deflect type to an HTTP status.
func (d Disposition) StatusCode() int {
	if !d.Deflected() {
		return http.StatusOK
	}
	switch d.Type {
	case HazardThrottle:
		return http.StatusTooManyRequests
	case HazardAttack:
		return http.StatusBadRequest
	case HazardBlacklist, HazardMethodNotAllowed:
		return http.StatusForbidden
	default:
		return http.StatusForbidden
	}
}

// Message returns the client-facing explanation for a deflect.
func (d Disposition) Message() string {
	if !d.Deflected() {
		return ""
	}
	switch d.Type {
	case HazardThrottle:
		return "You seem to be doing a lot of requests. You're now cooling down."
	case HazardAttack:
		return "You seem to be doing malicious requests to our server. You're now cooling down."
	case HazardMethodNotAllowed:
		return "This request method is not allowed."
	default:
		return "Your IP seems to be blacklisted. If you believe this is done by mistake, please contact us."
	}
}
