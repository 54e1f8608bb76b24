// Package methods implements the node, config, sessions, cron, and
// exec-approval RPC methods — the operator-facing control plane that sits
// on top of internal/store.
package methods

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/vela-systems/gatewire/internal/gateway"
	"github.com/vela-systems/gatewire/internal/store"
)

type nodePairRequestParams struct {
	NodeID       string   `json:"nodeId"`
	DisplayName  *string  `json:"displayName"`
	Platform     *string  `json:"platform"`
	DeviceFamily *string  `json:"deviceFamily"`
	Commands     []string `json:"commands"`
	PublicKey    *string  `json:"publicKey"`
}

type nodePairResolveParams struct {
	RequestID string  `json:"requestId"`
	Reason    *string `json:"reason"`
}

type nodeVerifyParams struct {
	NodeID string  `json:"nodeId"`
	Token  *string `json:"token"`
}

type nodeRenameParams struct {
	NodeID      *string `json:"nodeId"`
	ID          *string `json:"id"`
	DisplayName string  `json:"displayName"`
}

type nodeIDParams struct {
	NodeID *string `json:"nodeId"`
	ID     *string `json:"id"`
}

type nodeInvokeParams struct {
	NodeID  string          `json:"nodeId"`
	Command string          `json:"command"`
	Args    []string        `json:"args"`
	Input   json.RawMessage `json:"input"`
}

type nodeInvokeResultParams struct {
	RequestID string          `json:"requestId"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	Error     *string         `json:"error"`
}

type nodeEventParams struct {
	NodeID  *string         `json:"nodeId"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// HandleNodePairRequest implements node.pair.request.
func HandleNodePairRequest(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params nodePairRequestParams
	if err := parseRequired("node.pair.request", raw, &params); err != nil {
		return nil, err
	}
	nodeID, ok := trimNonEmpty(params.NodeID)
	if !ok {
		return nil, store.InvalidRequest("invalid node.pair.request params: nodeId is required")
	}
	displayName := nodeID
	if params.DisplayName != nil {
		if v, ok := trimNonEmpty(*params.DisplayName); ok {
			displayName = v
		}
	}
	platform := "unknown"
	if params.Platform != nil {
		if v, ok := trimNonEmpty(*params.Platform); ok {
			platform = v
		}
	}

	req := &store.NodePairRequest{
		NodeID: nodeID, DisplayName: displayName, Platform: platform,
		DeviceFamily: optionalTrimmed(params.DeviceFamily),
		Commands:     sanitizeItems(params.Commands),
		PublicKey:    optionalTrimmed(params.PublicKey),
	}
	if err := state.Store().AddNodePairRequest(ctx, req); err != nil {
		return nil, err
	}
	return map[string]any{"status": "pending", "created": true, "request": req}, nil
}

// HandleNodePairList implements node.pair.list.
func HandleNodePairList(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	if err := parseOptional("node.pair.list", raw, &struct{}{}); err != nil {
		return nil, err
	}
	requests, err := state.Store().ListNodePairRequests(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ts": nowMs(), "requests": requests}, nil
}

// HandleNodePairApprove implements node.pair.approve.
func HandleNodePairApprove(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	return handlePairResolution(ctx, state, raw, true, "node.pair.approve")
}

// HandleNodePairReject implements node.pair.reject.
func HandleNodePairReject(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	return handlePairResolution(ctx, state, raw, false, "node.pair.reject")
}

func handlePairResolution(ctx context.Context, state *gateway.State, raw json.RawMessage, approved bool, method string) (interface{}, error) {
	var params nodePairResolveParams
	if err := parseRequired(method, raw, &params); err != nil {
		return nil, err
	}
	requestID, ok := trimNonEmpty(params.RequestID)
	if !ok {
		return nil, store.InvalidRequest("invalid %s params: requestId is required", method)
	}
	resolved, err := state.Store().ResolveNodePairRequest(ctx, requestID, approved, optionalTrimmed(params.Reason))
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// HandleNodePairVerify implements node.pair.verify. Real device-key
// verification is out of scope; a node is "verified" once it is paired
// and the caller supplies a non-empty token.
func HandleNodePairVerify(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params nodeVerifyParams
	if err := parseRequired("node.pair.verify", raw, &params); err != nil {
		return nil, err
	}
	nodeID, ok := trimNonEmpty(params.NodeID)
	if !ok {
		return nil, store.InvalidRequest("invalid node.pair.verify params: nodeId is required")
	}
	node, err := state.Store().GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return map[string]any{"ok": true, "nodeId": nodeID, "paired": false, "verified": false}, nil
	}
	hasToken := false
	if params.Token != nil {
		if v, ok := trimNonEmpty(*params.Token); ok && v != "" {
			hasToken = true
		}
	}
	return map[string]any{
		"ok": true, "nodeId": nodeID, "paired": node.Paired, "verified": node.Paired && hasToken,
	}, nil
}

// HandleNodeRename implements node.rename.
func HandleNodeRename(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params nodeRenameParams
	if err := parseRequired("node.rename", raw, &params); err != nil {
		return nil, err
	}
	nodeID, err := resolveNodeID(params.NodeID, params.ID, "node.rename")
	if err != nil {
		return nil, err
	}
	displayName, ok := trimNonEmpty(params.DisplayName)
	if !ok {
		return nil, store.InvalidRequest("invalid node.rename params: displayName is required")
	}
	node, err := state.Store().RenameNode(ctx, nodeID, displayName)
	if err != nil {
		return nil, err
	}
	return map[string]any{"nodeId": node.ID, "displayName": node.DisplayName}, nil
}

// HandleNodeList implements node.list.
func HandleNodeList(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	if err := parseOptional("node.list", raw, &struct{}{}); err != nil {
		return nil, err
	}
	nodes, err := state.Store().ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ts": nowMs(), "nodes": nodes}, nil
}

// HandleNodeDescribe implements node.describe.
func HandleNodeDescribe(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params nodeIDParams
	if err := parseRequired("node.describe", raw, &params); err != nil {
		return nil, err
	}
	nodeID, err := resolveNodeID(params.NodeID, params.ID, "node.describe")
	if err != nil {
		return nil, err
	}
	node, err := state.Store().GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, store.InvalidRequest("unknown nodeId")
	}
	recentEvents, err := state.Store().ListNodeEvents(ctx, nodeID, 20)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"ts": nowMs(), "nodeId": node.ID, "displayName": node.DisplayName, "platform": node.Platform,
		"deviceFamily": node.DeviceFamily, "commands": node.Commands, "paired": node.Paired,
		"status": node.Status, "lastSeenMs": node.LastSeenMs, "metadata": node.Metadata,
		"recentEvents": recentEvents,
	}, nil
}

// HandleNodeInvoke implements node.invoke.
func HandleNodeInvoke(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params nodeInvokeParams
	if err := parseRequired("node.invoke", raw, &params); err != nil {
		return nil, err
	}
	nodeID, ok := trimNonEmpty(params.NodeID)
	if !ok {
		return nil, store.InvalidRequest("invalid node.invoke params: nodeId is required")
	}
	command, ok := trimNonEmpty(params.Command)
	if !ok {
		return nil, store.InvalidRequest("invalid node.invoke params: command is required")
	}
	invoke, err := state.Store().CreateNodeInvoke(ctx, nodeID, command, sanitizeItems(params.Args), params.Input)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"ok": true, "nodeId": nodeID, "command": command,
		"requestId": invoke.RequestID, "status": invoke.Status, "payload": invoke.Result,
	}, nil
}

// HandleNodeInvokeResult implements node.invoke.result.
func HandleNodeInvokeResult(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params nodeInvokeResultParams
	if err := parseRequired("node.invoke.result", raw, &params); err != nil {
		return nil, err
	}
	requestID, ok := trimNonEmpty(params.RequestID)
	if !ok {
		return nil, store.InvalidRequest("invalid node.invoke.result params: requestId is required")
	}
	status, ok := trimNonEmpty(params.Status)
	if !ok {
		return nil, store.InvalidRequest("invalid node.invoke.result params: status is required")
	}
	updated, err := state.Store().UpdateNodeInvokeResult(ctx, requestID, status, params.Payload, params.Error)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// HandleNodeEvent implements node.event: nodeId defaults to the caller's
// own client ID when the session role is "node" (a node reporting about
// itself need not repeat its identity).
func HandleNodeEvent(ctx context.Context, state *gateway.State, session *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params nodeEventParams
	if err := parseRequired("node.event", raw, &params); err != nil {
		return nil, err
	}
	nodeID := ""
	if params.NodeID != nil {
		nodeID, _ = trimNonEmpty(*params.NodeID)
	}
	if nodeID == "" && session.Role == "node" {
		nodeID = session.ClientID
	}
	if nodeID == "" {
		return nil, store.InvalidRequest("invalid node.event params: nodeId is required")
	}
	event, ok := trimNonEmpty(params.Event)
	if !ok {
		return nil, store.InvalidRequest("invalid node.event params: event is required")
	}
	record, err := state.Store().AddNodeEvent(ctx, nodeID, event, params.Payload)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "event": record}, nil
}

func resolveNodeID(nodeID, id *string, method string) (string, error) {
	if nodeID != nil {
		if v, ok := trimNonEmpty(*nodeID); ok {
			return v, nil
		}
	}
	if id != nil {
		if v, ok := trimNonEmpty(*id); ok {
			return v, nil
		}
	}
	return "", store.InvalidRequest("invalid %s params: nodeId is required", method)
}

func sanitizeItems(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func optionalTrimmed(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed, ok := trimNonEmpty(*v)
	if !ok {
		return nil
	}
	return &trimmed
}

func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}
