package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/vela-systems/gatewire/internal/store"
	"github.com/vela-systems/gatewire/pkg/protocol"
)

// Session is the authenticated identity attached to one connection: its
// role and scopes gate which methods it may call.
type Session struct {
	ConnID     string
	Role       string // "operator" | "node"
	Scopes     []string
	ClientID   string
	ClientMode string
}

// MethodHandler processes one RPC method's params and returns the payload
// to wrap in a success response, or an error (ideally a *store.Error, so
// MapDomainError can translate it to the right wire code).
type MethodHandler func(ctx context.Context, state *State, session *Session, params json.RawMessage) (interface{}, error)

// Router dispatches request frames to registered method handlers,
// enforcing the scope policy ahead of every call.
type Router struct {
	handlers map[string]MethodHandler
}

// NewRouter builds an empty Router; callers Register each method.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]MethodHandler)}
}

// Register binds a method name to its handler.
func (r *Router) Register(method string, handler MethodHandler) {
	r.handlers[method] = handler
}

// Dispatch authorizes and executes req, always returning a response frame
// (never propagating a Go error to the caller).
func (r *Router) Dispatch(ctx context.Context, state *State, session *Session, req *protocol.RequestFrame) *protocol.ResponseFrame {
	if req.Method == "connect" {
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"connect can only be used as the first handshake request")
	}

	if authErr := AuthorizeSession(session, req.Method); authErr != nil {
		return &protocol.ResponseFrame{Type: protocol.FrameTypeResponse, ID: req.ID, OK: false, Error: authErr}
	}

	handler, ok := r.handlers[req.Method]
	if !ok {
		if isKnownMethod(req.Method) {
			return &protocol.ResponseFrame{
				Type: protocol.FrameTypeResponse, ID: req.ID, OK: false,
				Error: &protocol.ErrorShape{
					Code:    protocol.ErrUnavailable,
					Message: "method \"" + req.Method + "\" is recognized but not implemented yet",
					Details: map[string]interface{}{
						"method":      req.Method,
						"implemented": implementedMethodNames(),
					},
					Retryable:    true,
					RetryAfterMs: 1000,
				},
			}
		}
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "unknown method: "+req.Method)
	}

	slog.Debug("dispatching method", "method", req.Method, "conn", session.ConnID)
	payload, err := handler(ctx, state, session, req.Params)
	if err != nil {
		return &protocol.ResponseFrame{Type: protocol.FrameTypeResponse, ID: req.ID, OK: false, Error: MapDomainError(err)}
	}
	return protocol.NewOKResponse(req.ID, payload)
}

func isKnownMethod(method string) bool {
	for _, m := range protocol.BaseMethods {
		if m == method {
			return true
		}
	}
	return false
}

func implementedMethodNames() []string {
	names := make([]string, 0, len(protocol.ImplementedMethods))
	for _, m := range protocol.BaseMethods {
		if protocol.ImplementedMethods[m] {
			names = append(names, m)
		}
	}
	return names
}

// AuthorizeSession applies the scope policy to method for session, or nil
// if the call may proceed. "health" is always allowed.
func AuthorizeSession(session *Session, method string) *protocol.ErrorShape {
	if method == "health" {
		return nil
	}

	if session.Role != "operator" && session.Role != "node" {
		return protocol.NewErrorShape(protocol.ErrInvalidRequest, "unauthorized role: "+session.Role)
	}

	if protocol.NodeRoleMethods[method] {
		if session.Role != "node" {
			return protocol.NewErrorShape(protocol.ErrInvalidRequest, "unauthorized role: "+session.Role)
		}
		return nil
	}

	if session.Role != "operator" {
		return protocol.NewErrorShape(protocol.ErrInvalidRequest, "unauthorized role: "+session.Role)
	}

	if hasScope(session.Scopes, protocol.ScopeAdmin) {
		return nil
	}

	required := protocol.RequiredScope(method)
	if required == "" {
		required = protocol.ScopeAdmin
	}

	if required == protocol.ScopeRead {
		if hasScope(session.Scopes, protocol.ScopeRead) || hasScope(session.Scopes, protocol.ScopeWrite) {
			return nil
		}
		return protocol.NewErrorShape(protocol.ErrInvalidRequest, "missing scope: "+protocol.ScopeRead)
	}

	if hasScope(session.Scopes, required) {
		return nil
	}
	return protocol.NewErrorShape(protocol.ErrInvalidRequest, "missing scope: "+required)
}

func hasScope(scopes []string, target string) bool {
	for _, s := range scopes {
		if s == target {
			return true
		}
	}
	return false
}

// MapDomainError translates a domain-layer error into a wire ErrorShape.
// Non-domain errors (programmer/unexpected) map to UNAVAILABLE.
func MapDomainError(err error) *protocol.ErrorShape {
	de, ok := err.(*store.Error)
	if !ok {
		return protocol.NewErrorShape(protocol.ErrUnavailable, err.Error())
	}
	switch de.Kind {
	case store.KindInvalidRequest, store.KindNotFound:
		return protocol.NewErrorShape(protocol.ErrInvalidRequest, de.Msg)
	case store.KindNotPaired:
		return protocol.NewErrorShape(protocol.ErrNotPaired, de.Msg)
	case store.KindUnauthorized, store.KindUnavailable, store.KindStorage:
		return protocol.NewErrorShape(protocol.ErrUnavailable, de.Msg)
	default:
		return protocol.NewErrorShape(protocol.ErrUnavailable, de.Msg)
	}
}
