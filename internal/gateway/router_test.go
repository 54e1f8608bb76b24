package gateway

import (
	"testing"

	"github.com/vela-systems/gatewire/pkg/protocol"
)

func TestOperatorDefaultsCanCallAdminMethod(t *testing.T) {
	session := &Session{ConnID: "c1", Role: "operator", Scopes: protocol.DefaultOperatorScopes(), ClientID: "cli", ClientMode: "cli"}
	if err := AuthorizeSession(session, "wizard.start"); err != nil {
		t.Fatalf("expected admin-scoped operator to call wizard.start, got %v", err)
	}
}

func TestNodeRoleIsRestrictedFromOperatorMethods(t *testing.T) {
	session := &Session{ConnID: "c1", Role: "node", Scopes: nil, ClientID: "node-a", ClientMode: "node"}
	if err := AuthorizeSession(session, "chat.send"); err == nil {
		t.Fatalf("expected node role to be rejected for chat.send")
	}
	if err := AuthorizeSession(session, "node.event"); err != nil {
		t.Fatalf("expected node role to call node.event, got %v", err)
	}
}

func TestReadScopeIsSatisfiedByWriteScope(t *testing.T) {
	session := &Session{ConnID: "c1", Role: "operator", Scopes: []string{protocol.ScopeWrite}}
	if err := AuthorizeSession(session, "sessions.list"); err != nil {
		t.Fatalf("expected write scope to satisfy read requirement, got %v", err)
	}
}

func TestMissingScopeIsRejected(t *testing.T) {
	session := &Session{ConnID: "c1", Role: "operator", Scopes: []string{protocol.ScopeRead}}
	if err := AuthorizeSession(session, "chat.send"); err == nil {
		t.Fatalf("expected read-only operator to be rejected for chat.send")
	}
}
