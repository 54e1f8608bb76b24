package methods

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vela-systems/gatewire/internal/gateway"
	"github.com/vela-systems/gatewire/internal/pairing"
	"github.com/vela-systems/gatewire/internal/store"
)

type devicePairRequestParams struct {
	ClientID  string  `json:"clientId"`
	Platform  *string `json:"platform"`
	AccountID *string `json:"accountId"`
}

type devicePairApproveParams struct {
	Code string `json:"code"`
}

type devicePairRejectParams struct {
	Code string `json:"code"`
}

type devicePairRemoveParams struct {
	DeviceID string `json:"deviceId"`
}

type deviceTokenParams struct {
	DeviceID string `json:"deviceId"`
}

// HandleDevicePairRequest implements device.pair.request: an
// already-connected session asks for a pairing code for a client.
func HandleDevicePairRequest(ctx context.Context, state *gateway.State, session *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params devicePairRequestParams
	if err := parseRequired("device.pair.request", raw, &params); err != nil {
		return nil, err
	}
	clientID, ok := trimNonEmpty(params.ClientID)
	if !ok {
		clientID = session.ClientID
	}
	if clientID == "" {
		return nil, store.InvalidRequest("invalid device.pair.request params: clientId is required")
	}
	platform := derefStr(params.Platform)
	accountID := derefStr(params.AccountID)

	req, err := pairing.NewService(state.Store()).RequestPairing(ctx, clientID, platform, accountID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"code": req.Code, "clientId": req.ClientID,
		"createdAtMs": req.CreatedAt, "expiresAtMs": req.ExpiresAt,
	}, nil
}

// HandleDevicePairList implements device.pair.list.
func HandleDevicePairList(ctx context.Context, state *gateway.State, _ *gateway.Session, _ json.RawMessage) (interface{}, error) {
	svc := pairing.NewService(state.Store())
	pending, err := svc.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	paired, err := svc.ListPaired(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pending": pending, "paired": paired}, nil
}

// HandleDevicePairApprove implements device.pair.approve: mints a device
// token for the requesting client and removes the pending code.
func HandleDevicePairApprove(ctx context.Context, state *gateway.State, session *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params devicePairApproveParams
	if err := parseRequired("device.pair.approve", raw, &params); err != nil {
		return nil, err
	}
	code, ok := trimNonEmpty(params.Code)
	if !ok {
		return nil, store.InvalidRequest("invalid device.pair.approve params: code is required")
	}
	paired, err := pairing.NewService(state.Store()).ApprovePairing(ctx, code, session.ClientID)
	if err != nil {
		return nil, err
	}
	notifyPaired(ctx, state, paired)
	return paired, nil
}

// notifyPaired announces a successful pairing on the device's own
// platform, if a notifier is configured for it. Best-effort: a delivery
// failure is logged, never surfaced to the approving operator, since the
// device is paired either way.
func notifyPaired(ctx context.Context, state *gateway.State, paired *pairing.Paired) {
	notifier := state.Notifier()
	if notifier == nil || paired.Platform == "" {
		return
	}
	text := fmt.Sprintf("Device %s paired successfully.", paired.ClientID)
	if err := notifier.Send(ctx, paired.Platform, paired.ClientID, text); err != nil {
		slog.Warn("device pairing notification failed", "deviceId", paired.DeviceID, "platform", paired.Platform, "error", err)
	}
}

// HandleDevicePairReject implements device.pair.reject.
func HandleDevicePairReject(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params devicePairRejectParams
	if err := parseRequired("device.pair.reject", raw, &params); err != nil {
		return nil, err
	}
	code, ok := trimNonEmpty(params.Code)
	if !ok {
		return nil, store.InvalidRequest("invalid device.pair.reject params: code is required")
	}
	if err := pairing.NewService(state.Store()).RejectPairing(ctx, code); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

// HandleDevicePairRemove implements device.pair.remove.
func HandleDevicePairRemove(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params devicePairRemoveParams
	if err := parseRequired("device.pair.remove", raw, &params); err != nil {
		return nil, err
	}
	deviceID, ok := trimNonEmpty(params.DeviceID)
	if !ok {
		return nil, store.InvalidRequest("invalid device.pair.remove params: deviceId is required")
	}
	if err := pairing.NewService(state.Store()).RemovePaired(ctx, deviceID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

// HandleDeviceTokenRotate implements device.token.rotate.
func HandleDeviceTokenRotate(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params deviceTokenParams
	if err := parseRequired("device.token.rotate", raw, &params); err != nil {
		return nil, err
	}
	deviceID, ok := trimNonEmpty(params.DeviceID)
	if !ok {
		return nil, store.InvalidRequest("invalid device.token.rotate params: deviceId is required")
	}
	paired, err := pairing.NewService(state.Store()).RotateToken(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return paired, nil
}

// HandleDeviceTokenRevoke implements device.token.revoke.
func HandleDeviceTokenRevoke(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params deviceTokenParams
	if err := parseRequired("device.token.revoke", raw, &params); err != nil {
		return nil, err
	}
	deviceID, ok := trimNonEmpty(params.DeviceID)
	if !ok {
		return nil, store.InvalidRequest("invalid device.token.revoke params: deviceId is required")
	}
	paired, err := pairing.NewService(state.Store()).RevokeToken(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return paired, nil
}
