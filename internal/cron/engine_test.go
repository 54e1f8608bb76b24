package cron

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/vela-systems/gatewire/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "gatewire.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRunJobAdvancesNextRunPastFinish(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	engine := NewEngine(st, time.Second, 50, true, nil)

	job := &store.CronJob{
		ID: "job-1", Name: "heartbeat", Enabled: true,
		Schedule:    store.CronSchedule{Kind: store.ScheduleKindEvery, EveryMs: uint64Ptr(1000)},
		Payload:     store.CronPayload{Kind: "systemEvent", Text: strPtr("tick")},
		Metadata:    json.RawMessage("{}"),
		CreatedAtMs: 1, UpdatedAtMs: 1,
	}
	if err := st.InsertCronJob(ctx, job); err != nil {
		t.Fatalf("insert cron job: %v", err)
	}

	run, err := engine.RunJob(ctx, job.ID, true)
	if err != nil {
		t.Fatalf("run job: %v", err)
	}
	if run.Status != "ok" || run.Output == nil {
		t.Fatalf("expected ok run with output, got %+v", run)
	}

	updated, err := st.GetCronJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get cron job: %v", err)
	}
	if updated.NextRunMs == nil || *updated.NextRunMs <= run.FinishedAtMs {
		t.Fatalf("expected next run strictly after finish, got next=%v finished=%d", updated.NextRunMs, run.FinishedAtMs)
	}
	if updated.LastRunMs == nil || *updated.LastRunMs != run.FinishedAtMs {
		t.Fatalf("expected lastRunMs to equal finish time, got %v want %d", updated.LastRunMs, run.FinishedAtMs)
	}

	runs, err := st.ListCronRuns(ctx, job.ID, 10)
	if err != nil {
		t.Fatalf("list cron runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Manual != true {
		t.Fatalf("expected one manual run recorded, got %+v", runs)
	}
}

func TestTickSkipsDisabledEngineAndNotYetDueJobs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	future := uint64(time.Now().Add(time.Hour).UnixMilli())
	job := &store.CronJob{
		ID: "job-2", Name: "future", Enabled: true,
		Schedule:    store.CronSchedule{Kind: store.ScheduleKindEvery, EveryMs: uint64Ptr(1000)},
		Payload:     store.CronPayload{Kind: "systemEvent", Text: strPtr("later")},
		Metadata:    json.RawMessage("{}"),
		CreatedAtMs: 1, UpdatedAtMs: 1, NextRunMs: &future,
	}
	if err := st.InsertCronJob(ctx, job); err != nil {
		t.Fatalf("insert cron job: %v", err)
	}

	disabled := NewEngine(st, time.Second, 50, false, nil)
	n, err := disabled.Tick(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected disabled engine to tick zero jobs: n=%d err=%v", n, err)
	}

	enabled := NewEngine(st, time.Second, 50, true, nil)
	n, err = enabled.Tick(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected no due jobs yet: n=%d err=%v", n, err)
	}
}

func TestExecuteCronPayloadFormatsKnownKinds(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(newTestStore(t), time.Second, 50, true, nil)

	out, err := engine.executeCronPayload(ctx, store.CronPayload{Kind: "systemEvent", Text: strPtr("hello")}, 42)
	if err != nil || out != "systemEvent:hello @42" {
		t.Fatalf("unexpected systemEvent output: %q err=%v", out, err)
	}

	out, err = engine.executeCronPayload(ctx, store.CronPayload{Kind: "agentTurn", Message: strPtr("hi")}, 99)
	if err != nil || out != "agentTurn:hi @99" {
		t.Fatalf("unexpected agentTurn output: %q err=%v", out, err)
	}

	_, err = engine.executeCronPayload(ctx, store.CronPayload{Kind: "unknown"}, 0)
	if err == nil {
		t.Fatalf("expected error for unsupported payload kind")
	}

	_, err = engine.executeCronPayload(ctx, store.CronPayload{Kind: "notify", Platform: strPtr("telegram"), Target: strPtr("123")}, 0)
	if err == nil {
		t.Fatalf("expected error for notify payload with no notifier configured")
	}
}
