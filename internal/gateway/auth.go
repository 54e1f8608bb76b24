package gateway

import (
	"crypto/subtle"
	"strings"

	"github.com/vela-systems/gatewire/pkg/protocol"
)

// AuthModeKind selects how connect credentials are verified.
type AuthModeKind int

const (
	AuthModeNone AuthModeKind = iota
	AuthModeToken
	AuthModePassword
)

// AuthMode pairs a verification kind with its expected secret (empty for
// AuthModeNone).
type AuthMode struct {
	Kind   AuthModeKind
	Secret string
}

// Label is the human-readable name surfaced in health/status payloads.
func (m AuthMode) Label() string {
	switch m.Kind {
	case AuthModeToken:
		return "token"
	case AuthModePassword:
		return "password"
	default:
		return "none"
	}
}

// ConnectAuth is the credentials block of a connect request's params.
type ConnectAuth struct {
	Token       *string `json:"token,omitempty"`
	DeviceToken *string `json:"deviceToken,omitempty"`
	Password    *string `json:"password,omitempty"`
}

// AuthFailureReason distinguishes a missing credential from a wrong one;
// both map to the same wire code, with different messages.
type AuthFailureReason int

const (
	AuthFailureMissingCredentials AuthFailureReason = iota
	AuthFailureInvalidCredentials
)

// Authorize checks auth against mode. It returns true on success; on
// failure it returns false and the reason.
func Authorize(mode AuthMode, auth *ConnectAuth) (bool, AuthFailureReason) {
	switch mode.Kind {
	case AuthModeNone:
		return true, 0
	case AuthModeToken:
		var provided *string
		if auth != nil {
			provided = auth.Token
		}
		return verifySecret(provided, mode.Secret)
	case AuthModePassword:
		var provided *string
		if auth != nil {
			provided = auth.Password
		}
		return verifySecret(provided, mode.Secret)
	default:
		return true, 0
	}
}

func verifySecret(provided *string, expected string) (bool, AuthFailureReason) {
	if provided == nil {
		return false, AuthFailureMissingCredentials
	}
	trimmed := strings.TrimSpace(*provided)
	if trimmed == "" {
		return false, AuthFailureMissingCredentials
	}
	if subtle.ConstantTimeCompare([]byte(trimmed), []byte(expected)) == 1 {
		return true, 0
	}
	return false, AuthFailureInvalidCredentials
}

// AuthFailureError builds the wire error for a failed Authorize call.
func AuthFailureError(reason AuthFailureReason) *protocol.ErrorShape {
	switch reason {
	case AuthFailureMissingCredentials:
		return protocol.NewErrorShape(protocol.ErrUnavailable, "unauthorized: missing credentials")
	default:
		return protocol.NewErrorShape(protocol.ErrUnavailable, "unauthorized: invalid credentials")
	}
}

// AuthKey combines remote IP and client ID into the rate-limiter key so
// lockouts are scoped per (origin, client) pair, not globally.
func AuthKey(remoteIP *string, clientID string) string {
	ip := "unknown"
	if remoteIP != nil && *remoteIP != "" {
		ip = *remoteIP
	}
	return ip + "|" + clientID
}
