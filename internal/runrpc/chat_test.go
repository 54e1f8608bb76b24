package runrpc

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

func testSession() *gateway.Session {
	return &gateway.Session{ConnID: "conn-1", Role: "operator", Scopes: []string{"operator.admin"}, ClientID: "client-1"}
}

func rawParams(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return data
}

func TestHandleSendEchoesSynchronously(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	params := rawParams(t, map[string]any{"sessionKey": "agent:main:main", "message": "hello there"})
	result, err := HandleSend(ctx, state, testSession(), params)
	if err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	resp := result.(map[string]any)
	if resp["status"] != store.RunStatusCompleted {
		t.Fatalf("expected completed status, got %v", resp["status"])
	}
	if resp["message"] != "Echo: hello there" {
		t.Fatalf("unexpected reply: %v", resp["message"])
	}

	history, err := HandleHistory(ctx, state, testSession(), rawParams(t, map[string]any{"sessionKey": "agent:main:main"}))
	if err != nil {
		t.Fatalf("HandleHistory: %v", err)
	}
	messages := history.(map[string]any)["messages"].([]store.ChatMessage)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages (user+assistant), got %d", len(messages))
	}
}

func TestHandleSendIsIdempotentOnRunID(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	params := rawParams(t, map[string]any{"sessionKey": "agent:main:main", "message": "hi", "idempotencyKey": "fixed-1"})
	first, err := HandleSend(ctx, state, testSession(), params)
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	second, err := HandleSend(ctx, state, testSession(), params)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if first.(map[string]any)["runId"] != second.(map[string]any)["runId"] {
		t.Fatal("expected same runId on repeated idempotency key")
	}

	history, err := HandleHistory(ctx, state, testSession(), rawParams(t, map[string]any{"sessionKey": "agent:main:main"}))
	if err != nil {
		t.Fatalf("HandleHistory: %v", err)
	}
	messages := history.(map[string]any)["messages"].([]store.ChatMessage)
	if len(messages) != 2 {
		t.Fatalf("expected the idempotent replay to not duplicate messages, got %d", len(messages))
	}
}

func TestHandleSendRejectsEmptyMessage(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()
	_, err := HandleSend(ctx, state, testSession(), rawParams(t, map[string]any{"sessionKey": "s", "message": "   "}))
	if err == nil {
		t.Fatal("expected error for blank message")
	}
}

func TestHandleAbortAbortsNonTerminalRuns(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()
	st := state.Store()

	sessionKey := "agent:main:main"
	now := uint64(time.Now().UnixMilli())
	run := &store.AgentRun{ID: "run-x", AgentID: "main", Input: "hi", Status: store.RunStatusRunning,
		SessionKey: &sessionKey, Metadata: json.RawMessage(`{}`), CreatedAtMs: now, UpdatedAtMs: now}
	if err := st.UpsertAgentRun(ctx, run); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	result, err := HandleAbort(ctx, state, testSession(), rawParams(t, map[string]any{"sessionKey": sessionKey}))
	if err != nil {
		t.Fatalf("HandleAbort: %v", err)
	}
	resp := result.(map[string]any)
	if resp["aborted"] != true {
		t.Fatalf("expected aborted=true, got %v", resp)
	}

	reloaded, err := st.GetAgentRun(ctx, "run-x")
	if err != nil || reloaded == nil {
		t.Fatalf("reload run: %v err=%v", reloaded, err)
	}
	if reloaded.Status != store.RunStatusAborted {
		t.Fatalf("expected aborted status, got %s", reloaded.Status)
	}
}

func TestHandleAbortIsNoOpForTerminalRun(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()
	st := state.Store()

	sessionKey := "agent:main:main"
	now := uint64(time.Now().UnixMilli())
	run := &store.AgentRun{ID: "run-done", AgentID: "main", Input: "hi", Output: "Echo: hi", Status: store.RunStatusCompleted,
		SessionKey: &sessionKey, Metadata: json.RawMessage(`{}`), CreatedAtMs: now, UpdatedAtMs: now, CompletedAtMs: &now}
	if err := st.UpsertAgentRun(ctx, run); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	result, err := HandleAbort(ctx, state, testSession(), rawParams(t, map[string]any{"sessionKey": sessionKey, "runId": "run-done"}))
	if err != nil {
		t.Fatalf("HandleAbort: %v", err)
	}
	if result.(map[string]any)["aborted"] != false {
		t.Fatalf("expected aborted=false for a completed run, got %v", result)
	}
}
