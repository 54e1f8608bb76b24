package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vela-systems/gatewire/pkg/protocol"
)

// ConnectClientInfo is the "client" block of a connect request's params.
type ConnectClientInfo struct {
	ID              string  `json:"id"`
	DisplayName     *string `json:"displayName,omitempty"`
	Version         string  `json:"version"`
	Platform        string  `json:"platform"`
	DeviceFamily    *string `json:"deviceFamily,omitempty"`
	ModelIdentifier *string `json:"modelIdentifier,omitempty"`
	Mode            string  `json:"mode"`
	InstanceID      *string `json:"instanceId,omitempty"`
}

// ConnectParams is the full params object of a connect request.
type ConnectParams struct {
	MinProtocol int                `json:"minProtocol"`
	MaxProtocol int                `json:"maxProtocol"`
	Role        *string            `json:"role,omitempty"`
	Scopes      []string           `json:"scopes,omitempty"`
	Auth        *ConnectAuth       `json:"auth,omitempty"`
	Client      ConnectClientInfo  `json:"client"`
}

// HelloOk is the success payload of the first connect response.
type HelloOk struct {
	FrameType string        `json:"type"`
	Protocol  int           `json:"protocol"`
	Server    HelloServer   `json:"server"`
	Features  HelloFeatures `json:"features"`
	Snapshot  protocol.Snapshot `json:"snapshot"`
	Policy    GatewayPolicy `json:"policy"`
}

type HelloServer struct {
	Version string `json:"version"`
	ConnID  string `json:"connId"`
}

type HelloFeatures struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// GatewayPolicy advertises the connection-level limits so clients can
// self-throttle rather than discover them by hitting errors.
type GatewayPolicy struct {
	MaxPayload       int   `json:"maxPayload"`
	MaxBufferedBytes int   `json:"maxBufferedBytes"`
	TickIntervalMs   int64 `json:"tickIntervalMs"`
}

// HandshakeResult is what a successful handshake produces: the session to
// attach to the connection and the hello-ok payload to send back.
type HandshakeResult struct {
	Session *Session
	Hello   *HelloOk
}

// PerformHandshake validates the first request frame (which must be
// "connect"), authenticates it against mode, applies the auth rate
// limiter, registers the client, and builds the hello-ok payload.
// On failure it returns the error response to send and a nil result.
func PerformHandshake(
	ctx context.Context,
	state *State,
	mode AuthMode,
	policy GatewayPolicy,
	remoteIP *string,
	req *protocol.RequestFrame,
	sender EventSender,
) (*HandshakeResult, *protocol.ResponseFrame) {
	if req.Method != "connect" {
		return nil, protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"invalid handshake: first request must be connect")
	}

	var params ConnectParams
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
				"invalid connect params: "+err.Error())
		}
	}

	if params.MaxProtocol < protocol.ProtocolVersion || params.MinProtocol > protocol.ProtocolVersion {
		resp := protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "protocol mismatch")
		resp.Error.Details = map[string]interface{}{"expectedProtocol": protocol.ProtocolVersion}
		return nil, resp
	}

	role := "operator"
	if params.Role != nil && *params.Role != "" {
		role = *params.Role
	}
	if role != "operator" && role != "node" {
		return nil, protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid role")
	}

	authKey := AuthKey(remoteIP, params.Client.ID)
	limiter := state.AuthRateLimiter()
	decision := limiter.Check(authKey)
	if !decision.Allowed {
		resp := protocol.NewRetryableErrorResponse(req.ID, protocol.ErrUnavailable,
			"unauthorized: too many failed attempts", int(decision.RetryAfterMs))
		return nil, resp
	}

	if ok, reason := Authorize(mode, params.Auth); !ok {
		record := limiter.RecordFailure(authKey)
		shape := AuthFailureError(reason)
		if !record.Allowed || record.RetryAfterMs > 0 {
			shape.Retryable = true
			shape.RetryAfterMs = int(record.RetryAfterMs)
		}
		return nil, &protocol.ResponseFrame{Type: protocol.FrameTypeResponse, ID: req.ID, OK: false, Error: shape}
	}
	limiter.Reset(authKey)

	connID := uuid.NewString()
	scopes := SanitizeScopes(params.Scopes)
	if role == "operator" && len(scopes) == 0 {
		scopes = protocol.DefaultOperatorScopes()
	}

	client := &ClientInfo{
		ConnID: connID, ClientID: params.Client.ID, DisplayName: params.Client.DisplayName,
		ClientVersion: params.Client.Version, Platform: params.Client.Platform,
		DeviceFamily: params.Client.DeviceFamily, ModelIdentifier: params.Client.ModelIdentifier,
		Mode: params.Client.Mode, Role: role, Scopes: scopes, InstanceID: params.Client.InstanceID,
		RemoteIP: remoteIP, ConnectedAt: time.Now(), ConnectedAtMs: uint64(time.Now().UnixMilli()),
		Sender: sender,
	}
	if err := state.RegisterClient(ctx, client); err != nil {
		return nil, protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, "failed to register connection: "+err.Error())
	}

	snapshot, err := state.Snapshot(ctx)
	if err != nil {
		_ = state.UnregisterClient(ctx, connID)
		return nil, protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, "failed to build snapshot: "+err.Error())
	}

	hello := &HelloOk{
		FrameType: "hello-ok",
		Protocol:  protocol.ProtocolVersion,
		Server:    HelloServer{Version: state.runtimeVer, ConnID: connID},
		Features:  HelloFeatures{Methods: state.Methods(), Events: state.Events()},
		Snapshot:  *snapshot,
		Policy:    policy,
	}

	session := &Session{ConnID: connID, Role: role, Scopes: scopes, ClientID: params.Client.ID, ClientMode: params.Client.Mode}
	return &HandshakeResult{Session: session, Hello: hello}, nil
}
