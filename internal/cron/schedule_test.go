package cron

import (
	"testing"

	"github.com/vela-systems/gatewire/internal/store"
)

func strPtr(s string) *string    { return &s }
func uint64Ptr(v uint64) *uint64 { return &v }

func TestCronEveryScheduleComputesNextRun(t *testing.T) {
	schedule := store.CronSchedule{Kind: store.ScheduleKindEvery, EveryMs: uint64Ptr(1000)}
	next, err := ComputeNextRun(schedule, 10)
	if err != nil {
		t.Fatalf("compute next run: %v", err)
	}
	if next == nil || *next != 1010 {
		t.Fatalf("next = %v, want 1010", next)
	}
}

func TestCronEveryScheduleRespectsAnchor(t *testing.T) {
	schedule := store.CronSchedule{Kind: store.ScheduleKindEvery, EveryMs: uint64Ptr(1000), AnchorMs: uint64Ptr(500)}
	next, err := ComputeNextRun(schedule, 10)
	if err != nil {
		t.Fatalf("compute next run: %v", err)
	}
	if next == nil || *next != 500 {
		t.Fatalf("next = %v, want 500 (from before anchor)", next)
	}

	next2, err := ComputeNextRun(schedule, 2300)
	if err != nil {
		t.Fatalf("compute next run: %v", err)
	}
	if next2 == nil || *next2 != 2500 {
		t.Fatalf("next2 = %v, want 2500", next2)
	}
}

func TestCronSupportsSimpleStarExpression(t *testing.T) {
	schedule := store.CronSchedule{Kind: store.ScheduleKindCron, Expr: strPtr("* * * * *")}
	now := uint64(1_700_000_000_000)
	next, err := ComputeNextRun(schedule, now)
	if err != nil {
		t.Fatalf("compute next run: %v", err)
	}
	if next == nil || *next <= now {
		t.Fatalf("next = %v, want > %d", next, now)
	}
}

func TestCronRejectsNonMinuteFields(t *testing.T) {
	schedule := store.CronSchedule{Kind: store.ScheduleKindCron, Expr: strPtr("0 5 * * *")}
	if _, err := ComputeNextRun(schedule, 0); err == nil {
		t.Fatalf("expected rejection of non-* hour field")
	}
}

func TestCronStepMinuteMatcher(t *testing.T) {
	schedule := store.CronSchedule{Kind: store.ScheduleKindCron, Expr: strPtr("*/15 * * * *")}
	// 2023-11-14T22:13:20Z
	now := uint64(1_700_000_000_000)
	next, err := ComputeNextRun(schedule, now)
	if err != nil {
		t.Fatalf("compute next run: %v", err)
	}
	if next == nil {
		t.Fatalf("expected a next run")
	}
	minute := (*next / 60000) % 60
	if minute%15 != 0 {
		t.Fatalf("minute %d is not a multiple of 15", minute)
	}
}

func TestCronOnceNeverFires(t *testing.T) {
	schedule := store.CronSchedule{Kind: store.ScheduleKindOnce}
	next, err := ComputeNextRun(schedule, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != nil {
		t.Fatalf("expected nil next run for kind=once, got %v", *next)
	}
}

func TestCronAtInThePastNeverFiresAgain(t *testing.T) {
	schedule := store.CronSchedule{Kind: store.ScheduleKindAt, At: strPtr("2020-01-01T00:00:00Z")}
	next, err := ComputeNextRun(schedule, 1_700_000_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != nil {
		t.Fatalf("expected nil for an at-time in the past, got %v", *next)
	}
}
