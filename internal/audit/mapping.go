package audit

import (
	"strings"

	"nexabank-auth/backend/internal/telemetry"
)

// ActionResource holds action and resource derived from a security event type.
type ActionResource struct {
	Action   string
	Resource string
}

// Login outcomes are recorded against the principal so a handle's failures and successes list together.
var overrides = map[telemetry.EventType]ActionResource{
	telemetry.EventLoginSucceeded: {Action: "login_success", Resource: "principal"},
	telemetry.EventLoginFailed:    {Action: "login_failure", Resource: "principal"},
}

// ParseEventType returns action and resource for an event type of the form auth.<resource>.<action>
// (e.g. auth.session.logout_all → logout_all on session).
func ParseEventType(t telemetry.EventType) ActionResource {
	if ar, ok := overrides[t]; ok {
		return ar
	}
	s := strings.TrimPrefix(string(t), "auth.")
	dot := strings.LastIndex(s, ".")
	if dot <= 0 || dot == len(s)-1 {
		if s == "" {
			s = "unknown"
		}
		return ActionResource{Action: s, Resource: "unknown"}
	}
	return ActionResource{Action: s[dot+1:], Resource: s[:dot]}
}
