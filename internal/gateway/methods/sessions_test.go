package methods

import (
	"context"
	"testing"

	"github.com/vela-systems/gatewire/internal/store"
)

func TestSessionsPatchCreatesThenPreservesFields(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	result, err := HandleSessionsPatch(ctx, state, nil, rawParams(t, map[string]any{
		"key": "sess-1", "title": "First", "tags": []string{"a", "b"},
	}))
	if err != nil {
		t.Fatalf("HandleSessionsPatch: %v", err)
	}
	resp := result.(map[string]any)
	if resp["key"] != "sess-1" {
		t.Fatalf("expected key sess-1, got %+v", resp)
	}

	result, err = HandleSessionsPatch(ctx, state, nil, rawParams(t, map[string]any{"id": "sess-1"}))
	if err != nil {
		t.Fatalf("HandleSessionsPatch (no-op update): %v", err)
	}
	entry := result.(map[string]any)["entry"].(*store.Session)
	if entry.Title != "First" {
		t.Fatalf("expected title preserved, got %q", entry.Title)
	}
	if len(entry.Tags) != 2 {
		t.Fatalf("expected tags preserved, got %+v", entry.Tags)
	}
}

func TestSessionsListRespectsLimit(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if _, err := HandleSessionsPatch(ctx, state, nil, rawParams(t, map[string]any{"key": key})); err != nil {
			t.Fatalf("HandleSessionsPatch(%s): %v", key, err)
		}
	}

	limit := 2
	result, err := HandleSessionsList(ctx, state, nil, rawParams(t, map[string]any{"limit": limit}))
	if err != nil {
		t.Fatalf("HandleSessionsList: %v", err)
	}
	sessions := result.(map[string]any)["sessions"].([]store.Session)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions after limit, got %d", len(sessions))
	}
}

func TestSessionsPreviewReportsMissingAndEmptyStatus(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	if _, err := HandleSessionsPatch(ctx, state, nil, rawParams(t, map[string]any{"key": "empty-session"})); err != nil {
		t.Fatalf("HandleSessionsPatch: %v", err)
	}

	result, err := HandleSessionsPreview(ctx, state, nil, rawParams(t, map[string]any{
		"keys": []string{"empty-session", "does-not-exist"},
	}))
	if err != nil {
		t.Fatalf("HandleSessionsPreview: %v", err)
	}
	previews := result.(map[string]any)["previews"].([]map[string]any)
	if len(previews) != 2 {
		t.Fatalf("expected 2 previews, got %d", len(previews))
	}
	if previews[0]["status"] != "empty" {
		t.Fatalf("expected empty status for session with no messages, got %+v", previews[0])
	}
	if previews[1]["status"] != "missing" {
		t.Fatalf("expected missing status for unknown session, got %+v", previews[1])
	}
}

func TestSessionsDeleteAndReset(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	if _, err := HandleSessionsPatch(ctx, state, nil, rawParams(t, map[string]any{"key": "sess-x"})); err != nil {
		t.Fatalf("HandleSessionsPatch: %v", err)
	}

	delResult, err := HandleSessionsDelete(ctx, state, nil, rawParams(t, map[string]any{"key": "sess-x"}))
	if err != nil {
		t.Fatalf("HandleSessionsDelete: %v", err)
	}
	if delResult.(map[string]any)["deleted"] != true {
		t.Fatalf("expected deleted=true, got %+v", delResult)
	}

	if _, err := HandleSessionsPatch(ctx, state, nil, rawParams(t, map[string]any{"key": "sess-y"})); err != nil {
		t.Fatalf("HandleSessionsPatch: %v", err)
	}
	resetResult, err := HandleSessionsReset(ctx, state, nil, nil)
	if err != nil {
		t.Fatalf("HandleSessionsReset: %v", err)
	}
	if resetResult.(map[string]any)["removed"] != int64(1) {
		t.Fatalf("expected removed=1, got %+v", resetResult)
	}
}
