package methods

import (
	"context"
	"testing"

	"github.com/vela-systems/gatewire/internal/store"
)

func TestCronAddRejectsInvalidSchedule(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	_, err := HandleCronAdd(ctx, state, nil, rawParams(t, map[string]any{
		"schedule": map[string]any{"kind": ""},
		"payload":  map[string]any{"kind": "systemEvent", "text": "hi"},
	}))
	if err == nil {
		t.Fatal("expected error for empty schedule kind")
	}
}

func TestCronAddComputesNextRunAndUpdateReschedules(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	everyMs := uint64(60_000)
	addResult, err := HandleCronAdd(ctx, state, nil, rawParams(t, map[string]any{
		"id":       "job-1",
		"schedule": map[string]any{"kind": "every", "everyMs": everyMs},
		"payload":  map[string]any{"kind": "systemEvent", "text": "tick"},
	}))
	if err != nil {
		t.Fatalf("HandleCronAdd: %v", err)
	}
	job := addResult.(*store.CronJob)
	if job.NextRunMs == nil {
		t.Fatal("expected next run to be computed for an enabled job")
	}

	updateResult, err := HandleCronUpdate(ctx, state, nil, rawParams(t, map[string]any{
		"id":    "job-1",
		"patch": map[string]any{"enabled": false},
	}))
	if err != nil {
		t.Fatalf("HandleCronUpdate: %v", err)
	}
	updated := updateResult.(*store.CronJob)
	if updated.Enabled {
		t.Fatal("expected job disabled after patch")
	}
}

func TestCronRunExecutesJobAndRecordsRun(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	_, err := HandleCronAdd(ctx, state, nil, rawParams(t, map[string]any{
		"id":       "job-run",
		"schedule": map[string]any{"kind": "once", "at": "2099-01-01T00:00:00Z"},
		"payload":  map[string]any{"kind": "systemEvent", "text": "hello"},
	}))
	if err != nil {
		t.Fatalf("HandleCronAdd: %v", err)
	}

	runResult, err := HandleCronRun(ctx, state, nil, rawParams(t, map[string]any{"id": "job-run"}))
	if err != nil {
		t.Fatalf("HandleCronRun: %v", err)
	}
	run := runResult.(*store.CronRun)
	if run.JobID != "job-run" || run.Status != "ok" {
		t.Fatalf("expected successful run for job-run, got %+v", run)
	}

	runsResult, err := HandleCronRuns(ctx, state, nil, rawParams(t, map[string]any{"id": "job-run"}))
	if err != nil {
		t.Fatalf("HandleCronRuns: %v", err)
	}
	resp := runsResult.(map[string]any)
	if resp["scope"] != "job" {
		t.Fatalf("expected scope=job, got %+v", resp)
	}
	runs := resp["runs"].([]store.CronRun)
	if len(runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(runs))
	}
}

func TestCronRemove(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	_, err := HandleCronAdd(ctx, state, nil, rawParams(t, map[string]any{
		"id":       "job-remove",
		"schedule": map[string]any{"kind": "once", "at": "2099-01-01T00:00:00Z"},
		"payload":  map[string]any{"kind": "systemEvent", "text": "bye"},
	}))
	if err != nil {
		t.Fatalf("HandleCronAdd: %v", err)
	}

	result, err := HandleCronRemove(ctx, state, nil, rawParams(t, map[string]any{"id": "job-remove"}))
	if err != nil {
		t.Fatalf("HandleCronRemove: %v", err)
	}
	if result.(map[string]any)["removed"] != true {
		t.Fatalf("expected removed=true, got %+v", result)
	}
}
