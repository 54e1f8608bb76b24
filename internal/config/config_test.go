package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != Default().Port {
		t.Fatalf("expected default port, got %d", cfg.Port)
	}
	if cfg.AuthMode != AuthNone {
		t.Fatalf("expected auth none, got %s", cfg.AuthMode)
	}
}

func TestLoadParsesJSON5Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatewire.json5")
	contents := `{
  // comments are valid JSON5
  host: "127.0.0.1",
  port: 9090,
  authMode: "token",
  gatewayToken: "s3cret",
}`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 9090 {
		t.Fatalf("unexpected host/port: %+v", cfg)
	}
	if cfg.AuthMode != AuthToken || cfg.GatewayToken != "s3cret" {
		t.Fatalf("unexpected auth fields: %+v", cfg)
	}
}

func TestValidateRejectsBothTokenAndPassword(t *testing.T) {
	cfg := Default()
	cfg.GatewayToken = "a"
	cfg.GatewayPass = "b"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when both token and password are set")
	}
}

func TestValidateRejectsZeroPort(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero port")
	}
}

func TestMaskedCopyRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.GatewayToken = "s3cret"

	masked := cfg.MaskedCopy()
	if masked.GatewayToken != "***" {
		t.Fatalf("expected token to be masked, got %q", masked.GatewayToken)
	}
	if cfg.GatewayToken != "s3cret" {
		t.Fatal("masking must not mutate the original config")
	}
}

func TestHashChangesWithContent(t *testing.T) {
	a := Default()
	b := Default()
	b.Port = 9999

	hashA, err := a.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	hashB, err := b.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hashA == hashB {
		t.Fatal("expected different hashes for different configs")
	}
}

func TestNormalizeAgentIDLowercasesAndStripsInvalidChars(t *testing.T) {
	if got := NormalizeAgentID(" My Agent! "); got != "my-agent" {
		t.Fatalf("unexpected normalized id: %q", got)
	}
	if got := NormalizeAgentID(""); got != DefaultAgentID {
		t.Fatalf("expected default agent id, got %q", got)
	}
	if got := NormalizeAgentID("---"); got != DefaultAgentID {
		t.Fatalf("expected default agent id for all-dash input, got %q", got)
	}
}
