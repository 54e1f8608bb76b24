package methods

import (
	"context"
	"encoding/json"

	"github.com/vela-systems/gatewire/internal/gateway"
)

// HandleHealth returns the same payload as the HTTP /healthz probe,
// callable over an established connection without the admin scope
// "health" is exempt from.
func HandleHealth(ctx context.Context, state *gateway.State, _ *gateway.Session, _ json.RawMessage) (interface{}, error) {
	return state.HealthPayload(ctx)
}

// HandleStatus reports process-level facts plus the caller's own session
// identity, so an operator UI can confirm which scopes it was granted.
func HandleStatus(_ context.Context, state *gateway.State, session *gateway.Session, _ json.RawMessage) (interface{}, error) {
	return map[string]any{
		"ok":          true,
		"runtime":     "go",
		"authMode":    state.AuthModeLabel(),
		"uptimeMs":    state.UptimeMs(),
		"connections": state.ConnectionCount(),
		"session": map[string]any{
			"connId":     session.ConnID,
			"role":       session.Role,
			"scopes":     session.Scopes,
			"clientId":   session.ClientID,
			"clientMode": session.ClientMode,
		},
	}, nil
}
