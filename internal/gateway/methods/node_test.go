package methods

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/vela-systems/gatewire/internal/cron"
	"github.com/vela-systems/gatewire/internal/gateway"
	"github.com/vela-systems/gatewire/internal/store"
)

func newTestState(t *testing.T) *gateway.State {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "gatewire.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	engine := cron.NewEngine(st, time.Second, 200, true, nil)
	return gateway.NewState(st, engine, nil, nil, "test", "none", st.Path(), 200, 5, time.Minute)
}

func rawParams(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return data
}

func TestNodePairRequestApproveThenDescribe(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()
	session := &gateway.Session{ConnID: "c1", Role: "operator", Scopes: []string{"operator.admin"}}

	reqResult, err := HandleNodePairRequest(ctx, state, session, rawParams(t, map[string]any{
		"nodeId": "node-1", "displayName": "Node One", "platform": "linux",
	}))
	if err != nil {
		t.Fatalf("HandleNodePairRequest: %v", err)
	}
	reqMap := reqResult.(map[string]any)
	pairReq := reqMap["request"].(*store.NodePairRequest)
	if pairReq.Status != "pending" {
		t.Fatalf("expected pending status, got %s", pairReq.Status)
	}

	approveResult, err := HandleNodePairApprove(ctx, state, session, rawParams(t, map[string]any{"requestId": pairReq.RequestID}))
	if err != nil {
		t.Fatalf("HandleNodePairApprove: %v", err)
	}
	approved := approveResult.(*store.NodePairRequest)
	if approved.Status != "approved" {
		t.Fatalf("expected approved status, got %s", approved.Status)
	}

	describeResult, err := HandleNodeDescribe(ctx, state, session, rawParams(t, map[string]any{"nodeId": "node-1"}))
	if err != nil {
		t.Fatalf("HandleNodeDescribe: %v", err)
	}
	desc := describeResult.(map[string]any)
	if desc["paired"] != true {
		t.Fatalf("expected node to be paired after approval, got %+v", desc)
	}
}

func TestNodePairVerifyRequiresTokenAndPairing(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()
	session := &gateway.Session{ConnID: "c1", Role: "operator", Scopes: []string{"operator.admin"}}

	result, err := HandleNodePairVerify(ctx, state, session, rawParams(t, map[string]any{"nodeId": "missing-node"}))
	if err != nil {
		t.Fatalf("HandleNodePairVerify: %v", err)
	}
	resp := result.(map[string]any)
	if resp["verified"] != false || resp["paired"] != false {
		t.Fatalf("expected unpaired+unverified for unknown node, got %+v", resp)
	}
}

func TestNodeInvokeRequiresPairedNode(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()
	session := &gateway.Session{ConnID: "c1", Role: "operator", Scopes: []string{"operator.admin"}}

	_, err := HandleNodeInvoke(ctx, state, session, rawParams(t, map[string]any{"nodeId": "unknown", "command": "ping"}))
	if err == nil {
		t.Fatal("expected error invoking an unknown node")
	}
}

func TestNodeEventDefaultsNodeIDFromNodeSession(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()
	session := &gateway.Session{ConnID: "c1", Role: "node", ClientID: "node-self"}

	result, err := HandleNodeEvent(ctx, state, session, rawParams(t, map[string]any{"event": "heartbeat"}))
	if err != nil {
		t.Fatalf("HandleNodeEvent: %v", err)
	}
	record := result.(map[string]any)["event"].(*store.NodeEvent)
	if record.NodeID != "node-self" {
		t.Fatalf("expected nodeId defaulted to session client id, got %s", record.NodeID)
	}
}
