// Package runrpc implements the chat.* and agent.* RPC methods: sending a
// message through the (echo) agent runtime, reading session history, and
// aborting in-flight runs.
package runrpc

import (
	"encoding/json"
	"strings"

	"github.com/vela-systems/gatewire/internal/store"
)

// parseRequiredParams unmarshals raw into dst and rejects an empty params
// object — most methods need at least one field.
func parseRequiredParams(method string, raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return store.InvalidRequest("invalid %s params: params are required", method)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return store.InvalidRequest("invalid %s params: %v", method, err)
	}
	return nil
}

// parseOptionalParams unmarshals raw into dst if present; a missing params
// object leaves dst at its zero value.
func parseOptionalParams(method string, raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return store.InvalidRequest("invalid %s params: %v", method, err)
	}
	return nil
}

func trimNonEmpty(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}
