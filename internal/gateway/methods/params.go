package methods

import (
	"encoding/json"
	"strings"

	"github.com/vela-systems/gatewire/internal/store"
)

func parseRequired(method string, raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return store.InvalidRequest("invalid %s params: params are required", method)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return store.InvalidRequest("invalid %s params: %v", method, err)
	}
	return nil
}

func parseOptional(method string, raw json.RawMessage, dst interface{}) error {
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
