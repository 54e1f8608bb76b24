package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "gatewire.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestTransitionStatusClaimsOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run := &AgentRun{
		ID: "run-1", AgentID: "agent-a", Input: "hi", Output: "",
		Status: RunStatusQueued, Metadata: json.RawMessage("{}"),
		CreatedAtMs: 1, UpdatedAtMs: 1,
	}
	if err := st.UpsertAgentRun(ctx, run); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ok1, err := st.TransitionStatus(ctx, run.ID, RunStatusQueued, RunStatusRunning, 2)
	if err != nil {
		t.Fatalf("transition 1: %v", err)
	}
	if !ok1 {
		t.Fatalf("expected first transition to claim the run")
	}

	ok2, err := st.TransitionStatus(ctx, run.ID, RunStatusQueued, RunStatusRunning, 3)
	if err != nil {
		t.Fatalf("transition 2: %v", err)
	}
	if ok2 {
		t.Fatalf("expected second transition to fail, run already left queued")
	}

	got, err := st.GetAgentRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != RunStatusRunning {
		t.Fatalf("status = %q, want running", got.Status)
	}
}

func TestFinalizeIfStatusRespectsExpected(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run := &AgentRun{
		ID: "run-2", AgentID: "agent-a", Input: "hi", Output: "",
		Status: RunStatusRunning, Metadata: json.RawMessage("{}"),
		CreatedAtMs: 1, UpdatedAtMs: 1,
	}
	if err := st.UpsertAgentRun(ctx, run); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Simulate a late completion racing an abort: abort lands first.
	aborted, err := st.TransitionStatus(ctx, run.ID, RunStatusRunning, RunStatusAborted, 5)
	if err != nil || !aborted {
		t.Fatalf("expected abort to claim the run: ok=%v err=%v", aborted, err)
	}

	finalize := &AgentRun{
		ID: run.ID, AgentID: run.AgentID, Input: run.Input, Output: "done",
		Status: RunStatusCompleted, Metadata: json.RawMessage("{}"), UpdatedAtMs: 10,
	}
	applied, err := st.FinalizeIfStatus(ctx, finalize, RunStatusRunning)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if applied {
		t.Fatalf("expected finalize to be rejected because status is no longer running")
	}

	got, err := st.GetAgentRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != RunStatusAborted {
		t.Fatalf("status = %q, want aborted (abort must win the race)", got.Status)
	}
}

func TestSessionCRUDRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sess := &Session{ID: "sess-1", Title: "hello", Tags: []string{"a", "b"}, Metadata: json.RawMessage(`{"x":1}`), CreatedAtMs: 1, UpdatedAtMs: 1}
	if err := st.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("upsert session: %v", err)
	}

	got, err := st.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got == nil || got.Title != "hello" || len(got.Tags) != 2 {
		t.Fatalf("unexpected session: %+v", got)
	}

	sess.Title = "renamed"
	sess.UpdatedAtMs = 2
	if err := st.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("re-upsert session: %v", err)
	}
	got, err = st.GetSession(ctx, "sess-1")
	if err != nil || got.Title != "renamed" {
		t.Fatalf("expected rename to persist: %+v err=%v", got, err)
	}

	removed, err := st.RemoveSession(ctx, "sess-1")
	if err != nil || !removed {
		t.Fatalf("expected removal: removed=%v err=%v", removed, err)
	}
	got, err = st.GetSession(ctx, "sess-1")
	if err != nil || got != nil {
		t.Fatalf("expected nil after removal: %+v err=%v", got, err)
	}
}

func TestChatMessagesOrderedOldestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	msgs := []ChatMessage{
		{ID: "m1", Role: "user", Text: "first", Status: "complete", TS: 10, Metadata: json.RawMessage("{}")},
		{ID: "m2", Role: "agent", Text: "second", Status: "complete", TS: 20, Metadata: json.RawMessage("{}")},
		{ID: "m3", Role: "user", Text: "third", Status: "complete", TS: 30, Metadata: json.RawMessage("{}")},
	}
	if err := st.AppendChatMessages(ctx, "agent:a:chan:chat:c1", msgs); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := st.ListChatMessages(ctx, "agent:a:chan:chat:c1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 || got[0].ID != "m1" || got[2].ID != "m3" {
		t.Fatalf("expected oldest-first ordering, got %+v", got)
	}
}

func TestNodeInvokeRequiresPairedNode(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreateNodeInvoke(ctx, "missing-node", "ping", nil, nil)
	if err == nil {
		t.Fatalf("expected error for unknown node")
	}

	node := &Node{ID: "node-1", DisplayName: "Laptop", Platform: "linux", Paired: false, Status: "offline", Metadata: json.RawMessage("{}")}
	if err := st.UpsertNode(ctx, node); err != nil {
		t.Fatalf("upsert node: %v", err)
	}
	_, err = st.CreateNodeInvoke(ctx, node.ID, "ping", nil, nil)
	de, ok := err.(*Error)
	if !ok || de.Kind != KindNotPaired {
		t.Fatalf("expected NotPaired error, got %v", err)
	}

	node.Paired = true
	if err := st.UpsertNode(ctx, node); err != nil {
		t.Fatalf("re-upsert node: %v", err)
	}
	inv, err := st.CreateNodeInvoke(ctx, node.ID, "ping", []string{"-c", "1"}, nil)
	if err != nil {
		t.Fatalf("create invoke: %v", err)
	}
	if inv.Status != "completed" {
		t.Fatalf("expected simulated invoke to complete immediately, got status %q", inv.Status)
	}
}

func TestResolveNodePairRequestMirrorsOntoNode(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	req := &NodePairRequest{NodeID: "node-2", DisplayName: "Phone", Platform: "android", Commands: []string{"notify"}}
	if err := st.AddNodePairRequest(ctx, req); err != nil {
		t.Fatalf("add pair request: %v", err)
	}

	resolved, err := st.ResolveNodePairRequest(ctx, req.RequestID, true, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != "approved" {
		t.Fatalf("status = %q, want approved", resolved.Status)
	}

	node, err := st.GetNode(ctx, "node-2")
	if err != nil || node == nil {
		t.Fatalf("expected node to exist: %v err=%v", node, err)
	}
	if !node.Paired || node.DisplayName != "Phone" {
		t.Fatalf("expected node to be paired and mirrored: %+v", node)
	}
}

func TestCronJobPatchPreservesUntouchedFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := &CronJob{
		ID: "job-1", Name: "daily", Enabled: true,
		Schedule: CronSchedule{Kind: ScheduleKindEvery, EveryMs: uint64Ptr(60000)},
		Payload:  CronPayload{Kind: "text", Text: strPtr("ping")},
		Metadata: json.RawMessage("{}"), CreatedAtMs: 1, UpdatedAtMs: 1,
	}
	if err := st.InsertCronJob(ctx, job); err != nil {
		t.Fatalf("insert: %v", err)
	}

	newName := "daily-renamed"
	updated, err := st.UpdateCronJob(ctx, job.ID, CronJobPatch{Name: &newName})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "daily-renamed" || !updated.Enabled {
		t.Fatalf("expected only name to change: %+v", updated)
	}
	if updated.Schedule.Kind != ScheduleKindEvery {
		t.Fatalf("expected schedule untouched: %+v", updated.Schedule)
	}
}

func strPtr(s string) *string    { return &s }
func uint64Ptr(v uint64) *uint64 { return &v }
