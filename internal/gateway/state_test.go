package gateway

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vela-systems/gatewire/internal/cron"
	"github.com/vela-systems/gatewire/internal/store"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "gatewire.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	engine := cron.NewEngine(st, time.Second, 200, true, nil)
	return NewState(st, engine, []string{"health.get"}, []string{"presence.update"},
		"test", "token", st.Path(), 200, 5, time.Minute)
}

func TestSanitizeScopesDeduplicatesValues(t *testing.T) {
	scopes := SanitizeScopes([]string{"operator.admin", " operator.admin ", "", "operator.config.write"})
	if len(scopes) != 2 {
		t.Fatalf("expected 2 unique scopes, got %v", scopes)
	}
	seen := map[string]bool{}
	for _, s := range scopes {
		seen[s] = true
	}
	if !seen["operator.admin"] || !seen["operator.config.write"] {
		t.Fatalf("unexpected sanitized scopes: %v", scopes)
	}
}

func TestRegisterNodeClientUpsertsOnlineNode(t *testing.T) {
	s := newTestState(t)
	ctx := context.Background()

	instanceID := "device-1"
	client := &ClientInfo{
		ConnID: "conn-1", ClientID: "client-1", InstanceID: &instanceID,
		Platform: "linux", Mode: "headless", Role: "node",
		ConnectedAt: time.Now(), ConnectedAtMs: uint64(time.Now().UnixMilli()),
	}
	if err := s.RegisterClient(ctx, client); err != nil {
		t.Fatalf("register client: %v", err)
	}

	node, err := s.Store().GetNode(ctx, instanceID)
	if err != nil || node == nil {
		t.Fatalf("expected node to be upserted: %v err=%v", node, err)
	}
	if node.Status != "online" || !node.Paired {
		t.Fatalf("expected online+paired node, got %+v", node)
	}
	if s.ConnectionCount() != 1 {
		t.Fatalf("expected 1 connection, got %d", s.ConnectionCount())
	}

	if err := s.UnregisterClient(ctx, "conn-1"); err != nil {
		t.Fatalf("unregister client: %v", err)
	}
	node, err = s.Store().GetNode(ctx, instanceID)
	if err != nil || node == nil {
		t.Fatalf("expected node to remain: %v err=%v", node, err)
	}
	if node.Status != "offline" {
		t.Fatalf("expected node marked offline, got %+v", node)
	}
	if s.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections after unregister, got %d", s.ConnectionCount())
	}
}

func TestHealthPayloadReflectsConnectionCount(t *testing.T) {
	s := newTestState(t)
	ctx := context.Background()

	client := &ClientInfo{
		ConnID: "conn-2", ClientID: "client-2", Platform: "linux", Mode: "operator",
		Role: "operator", ConnectedAt: time.Now(), ConnectedAtMs: uint64(time.Now().UnixMilli()),
	}
	if err := s.RegisterClient(ctx, client); err != nil {
		t.Fatalf("register client: %v", err)
	}

	payload, err := s.HealthPayload(ctx)
	if err != nil {
		t.Fatalf("health payload: %v", err)
	}
	if payload["connectedClients"] != 1 {
		t.Fatalf("expected connectedClients=1, got %v", payload["connectedClients"])
	}
	if payload["ok"] != true {
		t.Fatalf("expected ok=true in payload: %v", payload)
	}
}
