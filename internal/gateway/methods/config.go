package methods

import (
	"context"
	"encoding/json"

	"github.com/vela-systems/gatewire/internal/gateway"
	"github.com/vela-systems/gatewire/internal/store"
)

type configWriteParams struct {
	Config json.RawMessage `json:"config"`
	Raw    json.RawMessage `json:"raw"`
}

type configPatchParams struct {
	Patch json.RawMessage `json:"patch"`
	Raw   json.RawMessage `json:"raw"`
}

// HandleConfigGet implements config.get: the full persisted config
// document (defaults to {}).
func HandleConfigGet(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	if err := parseOptional("config.get", raw, &struct{}{}); err != nil {
		return nil, err
	}
	doc, err := state.Store().LoadConfigDoc(ctx)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// HandleConfigSet implements config.set: replace the config document
// wholesale.
func HandleConfigSet(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	return writeConfigDoc(ctx, state, raw, "config.set")
}

// HandleConfigApply implements config.apply, an alias of config.set kept
// for clients that distinguish "apply" (operator-initiated) from "set"
// (programmatic) even though the underlying effect is identical.
func HandleConfigApply(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	return writeConfigDoc(ctx, state, raw, "config.apply")
}

func writeConfigDoc(ctx context.Context, state *gateway.State, raw json.RawMessage, method string) (interface{}, error) {
	var params configWriteParams
	if err := parseRequired(method, raw, &params); err != nil {
		return nil, err
	}
	doc, err := resolveConfigValue(params.Config, params.Raw, method)
	if err != nil {
		return nil, err
	}
	if err := state.Store().SaveConfigDoc(ctx, doc); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "path": state.Store().Path(), "config": doc}, nil
}

// HandleConfigPatch implements config.patch: a recursive JSON-merge-patch
// (RFC 7386 semantics) applied over the current document; a null value
// at a key deletes it.
func HandleConfigPatch(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params configPatchParams
	if err := parseRequired("config.patch", raw, &params); err != nil {
		return nil, err
	}
	patchDoc, err := resolvePatchValue(params.Patch, params.Raw)
	if err != nil {
		return nil, err
	}

	currentDoc, err := state.Store().LoadConfigDoc(ctx)
	if err != nil {
		return nil, err
	}

	var current any
	_ = json.Unmarshal(currentDoc, &current)
	var patch any
	_ = json.Unmarshal(patchDoc, &patch)

	merged := mergePatch(current, patch)
	mergedMap, ok := merged.(map[string]any)
	if !ok {
		mergedMap = map[string]any{}
	}
	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return nil, err
	}
	if err := state.Store().SaveConfigDoc(ctx, mergedJSON); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "path": state.Store().Path(), "config": mergedMap}, nil
}

// HandleConfigSchema implements config.schema: a permissive JSON Schema
// describing the config document shape (the document itself is an open
// bag of settings, not a fixed struct).
func HandleConfigSchema(_ context.Context, _ *gateway.State, _ *gateway.Session, _ json.RawMessage) (interface{}, error) {
	return map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"title":                "Gatewire Config",
		"type":                 "object",
		"additionalProperties": true,
		"description":          "Runtime configuration document persisted in SQLite.",
	}, nil
}

func resolveConfigValue(config, rawFallback json.RawMessage, method string) (json.RawMessage, error) {
	doc := config
	if len(doc) == 0 {
		doc = rawFallback
	}
	if len(doc) == 0 {
		return nil, store.InvalidRequest("invalid %s params: config object required", method)
	}
	var probe any
	if err := json.Unmarshal(doc, &probe); err != nil {
		return nil, store.InvalidRequest("invalid %s params: config must be valid JSON", method)
	}
	if _, ok := probe.(map[string]any); !ok {
		return nil, store.InvalidRequest("invalid %s params: config must be an object", method)
	}
	return doc, nil
}

func resolvePatchValue(patch, rawFallback json.RawMessage) (json.RawMessage, error) {
	doc := patch
	if len(doc) == 0 {
		doc = rawFallback
	}
	if len(doc) == 0 {
		return nil, store.InvalidRequest("invalid config.patch params: patch object required")
	}
	var probe any
	if err := json.Unmarshal(doc, &probe); err != nil {
		return nil, store.InvalidRequest("invalid config.patch params: patch must be valid JSON")
	}
	if _, ok := probe.(map[string]any); !ok {
		return nil, store.InvalidRequest("invalid config.patch params: patch must be an object")
	}
	return doc, nil
}

// mergePatch applies patch onto target per RFC 7386: a null leaf deletes
// the key, an object leaf merges recursively, anything else replaces.
func mergePatch(target, patch any) any {
	patchMap, ok := patch.(map[string]any)
	if !ok {
		return patch
	}
	targetMap, ok := target.(map[string]any)
	if !ok {
		targetMap = map[string]any{}
	}
	for key, patchValue := range patchMap {
		if patchValue == nil {
			delete(targetMap, key)
			continue
		}
		if _, isObject := patchValue.(map[string]any); isObject {
			targetMap[key] = mergePatch(targetMap[key], patchValue)
			continue
		}
		targetMap[key] = patchValue
	}
	return targetMap
}
