package methods

import (
	"context"
	"testing"

	"github.com/vela-systems/gatewire/internal/gateway"
)

func TestExecApprovalsSetRequiresBaseHashOnSecondWrite(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	first, err := HandleExecApprovalsSet(ctx, state, nil, rawParams(t, map[string]any{
		"file": map[string]any{"rules": []string{"ls"}},
	}))
	if err != nil {
		t.Fatalf("HandleExecApprovalsSet (first write): %v", err)
	}
	hash := first.(map[string]any)["hash"].(string)

	_, err = HandleExecApprovalsSet(ctx, state, nil, rawParams(t, map[string]any{
		"file": map[string]any{"rules": []string{"ls", "pwd"}},
	}))
	if err == nil {
		t.Fatal("expected error writing without base hash once a value exists")
	}

	_, err = HandleExecApprovalsSet(ctx, state, nil, rawParams(t, map[string]any{
		"file": map[string]any{"rules": []string{"ls", "pwd"}}, "baseHash": hash,
	}))
	if err != nil {
		t.Fatalf("HandleExecApprovalsSet (matching base hash): %v", err)
	}
}

func TestExecApprovalRequestThenResolveThenWait(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()
	session := &gateway.Session{ConnID: "c1", Role: "operator", ClientID: "operator-1"}

	reqResult, err := HandleExecApprovalRequest(ctx, state, session, rawParams(t, map[string]any{
		"id": "approval-1", "command": "rm -rf /tmp/x",
	}))
	if err != nil {
		t.Fatalf("HandleExecApprovalRequest: %v", err)
	}
	resp := reqResult.(map[string]any)
	if resp["status"] != "pending" {
		t.Fatalf("expected pending status, got %+v", resp)
	}

	_, err = HandleExecApprovalResolve(ctx, state, session, rawParams(t, map[string]any{
		"id": "approval-1", "decision": "allow-once",
	}))
	if err != nil {
		t.Fatalf("HandleExecApprovalResolve: %v", err)
	}

	waitResult, err := HandleExecApprovalWaitDecision(ctx, state, session, rawParams(t, map[string]any{
		"id": "approval-1", "timeoutMs": 1000,
	}))
	if err != nil {
		t.Fatalf("HandleExecApprovalWaitDecision: %v", err)
	}
	waitResp := waitResult.(map[string]any)
	if waitResp["decision"] != "allow-once" {
		t.Fatalf("expected decision allow-once, got %+v", waitResp)
	}
}

func TestExecApprovalRequestRejectsDuplicateID(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()
	session := &gateway.Session{ConnID: "c1", Role: "operator", ClientID: "operator-1"}

	_, err := HandleExecApprovalRequest(ctx, state, session, rawParams(t, map[string]any{
		"id": "dup-1", "command": "ls",
	}))
	if err != nil {
		t.Fatalf("HandleExecApprovalRequest: %v", err)
	}
	_, err = HandleExecApprovalRequest(ctx, state, session, rawParams(t, map[string]any{
		"id": "dup-1", "command": "ls",
	}))
	if err == nil {
		t.Fatal("expected error reusing an approval id")
	}
}
