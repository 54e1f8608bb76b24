package runrpc

import (
	"context"
	"testing"

	"github.com/vela-systems/gatewire/internal/store"
)

func TestHandleAgentRunsSynchronously(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	result, err := HandleAgent(ctx, state, testSession(), rawParams(t, map[string]any{"input": "ping"}))
	if err != nil {
		t.Fatalf("HandleAgent: %v", err)
	}
	resp := result.(map[string]any)
	res := resp["result"].(map[string]any)
	if res["output"] != "Echo: ping" {
		t.Fatalf("unexpected output: %v", res["output"])
	}
}

func TestHandleAgentDeferredThenWaitExecutesRun(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	started, err := HandleAgent(ctx, state, testSession(), rawParams(t, map[string]any{
		"input": "deferred task", "runId": "run-def-1", "deferred": true,
	}))
	if err != nil {
		t.Fatalf("HandleAgent deferred: %v", err)
	}
	if started.(map[string]any)["summary"] != store.RunStatusQueued {
		t.Fatalf("expected queued summary, got %v", started)
	}

	waited, err := HandleAgentWait(ctx, state, testSession(), rawParams(t, map[string]any{"runId": "run-def-1"}))
	if err != nil {
		t.Fatalf("HandleAgentWait: %v", err)
	}
	resp := waited.(map[string]any)
	if resp["status"] != store.RunStatusCompleted {
		t.Fatalf("expected completed status after wait, got %v", resp["status"])
	}
}

func TestHandleAgentRejectsRunIDReuseWithDifferentAgentID(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	if _, err := HandleAgent(ctx, state, testSession(), rawParams(t, map[string]any{
		"input": "hi", "runId": "run-shared", "agentId": "main",
	})); err != nil {
		t.Fatalf("first agent call: %v", err)
	}

	_, err := HandleAgent(ctx, state, testSession(), rawParams(t, map[string]any{
		"input": "hi", "runId": "run-shared", "agentId": "other",
	}))
	if err == nil {
		t.Fatal("expected error reusing runId with a different agentId")
	}
}

func TestHandleAgentIdentityDefaultsToMain(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	result, err := HandleAgentIdentity(ctx, state, testSession(), nil)
	if err != nil {
		t.Fatalf("HandleAgentIdentity: %v", err)
	}
	if result.(map[string]any)["agentId"] != "main" {
		t.Fatalf("expected default agentId main, got %v", result)
	}
}

func TestHandleAgentIdentityParsesSessionKey(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	result, err := HandleAgentIdentity(ctx, state, testSession(), rawParams(t, map[string]any{"sessionKey": "agent:research:main"}))
	if err != nil {
		t.Fatalf("HandleAgentIdentity: %v", err)
	}
	if result.(map[string]any)["agentId"] != "research" {
		t.Fatalf("expected agentId research, got %v", result)
	}
}
