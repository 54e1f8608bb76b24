package methods

import (
	"context"
	"encoding/json"
	"testing"
)

func TestConfigGetDefaultsToEmptyObject(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	result, err := HandleConfigGet(ctx, state, nil, nil)
	if err != nil {
		t.Fatalf("HandleConfigGet: %v", err)
	}
	raw := result.(json.RawMessage)
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal config doc: %v", err)
	}
	if len(doc) != 0 {
		t.Fatalf("expected empty default config, got %+v", doc)
	}
}

func TestConfigSetThenGetRoundTrips(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	_, err := HandleConfigSet(ctx, state, nil, rawParams(t, map[string]any{
		"config": map[string]any{"gateway": map[string]any{"port": float64(8080)}},
	}))
	if err != nil {
		t.Fatalf("HandleConfigSet: %v", err)
	}

	result, err := HandleConfigGet(ctx, state, nil, nil)
	if err != nil {
		t.Fatalf("HandleConfigGet: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(result.(json.RawMessage), &doc); err != nil {
		t.Fatalf("unmarshal config doc: %v", err)
	}
	gateway := doc["gateway"].(map[string]any)
	if gateway["port"] != float64(8080) {
		t.Fatalf("expected persisted port 8080, got %+v", doc)
	}
}

func TestConfigSetRejectsNonObject(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	_, err := HandleConfigSet(ctx, state, nil, rawParams(t, map[string]any{"config": []int{1, 2, 3}}))
	if err == nil {
		t.Fatal("expected error for non-object config payload")
	}
}

func TestConfigPatchRemovesNullKeys(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	_, err := HandleConfigSet(ctx, state, nil, rawParams(t, map[string]any{
		"config": map[string]any{
			"gateway": map[string]any{"port": float64(8080), "host": "0.0.0.0"},
			"keepMe":  true,
		},
	}))
	if err != nil {
		t.Fatalf("HandleConfigSet: %v", err)
	}

	result, err := HandleConfigPatch(ctx, state, nil, rawParams(t, map[string]any{
		"patch": map[string]any{
			"gateway": map[string]any{"host": nil, "port": float64(9090)},
		},
	}))
	if err != nil {
		t.Fatalf("HandleConfigPatch: %v", err)
	}
	resp := result.(map[string]any)
	doc := resp["config"].(map[string]any)
	gateway := doc["gateway"].(map[string]any)
	if _, ok := gateway["host"]; ok {
		t.Fatalf("expected host key removed by null patch, got %+v", gateway)
	}
	if gateway["port"] != float64(9090) {
		t.Fatalf("expected port overwritten to 9090, got %+v", gateway)
	}
	if doc["keepMe"] != true {
		t.Fatalf("expected untouched key preserved, got %+v", doc)
	}
}

func TestMergePatchRecursesIntoNestedObjects(t *testing.T) {
	target := map[string]any{
		"a": map[string]any{"x": float64(1), "y": float64(2)},
		"b": "keep",
	}
	patch := map[string]any{
		"a": map[string]any{"y": nil, "z": float64(3)},
	}
	merged := mergePatch(target, patch).(map[string]any)
	a := merged["a"].(map[string]any)
	if _, ok := a["y"]; ok {
		t.Fatalf("expected y removed, got %+v", a)
	}
	if a["x"] != float64(1) || a["z"] != float64(3) {
		t.Fatalf("expected x preserved and z added, got %+v", a)
	}
	if merged["b"] != "keep" {
		t.Fatalf("expected sibling key untouched, got %+v", merged)
	}
}
