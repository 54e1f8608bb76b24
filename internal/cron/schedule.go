// Package cron implements schedule math, the tick loop, and run-record
// persistence for the CronJob/CronRun tables.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/vela-systems/gatewire/internal/store"
)

// ComputeNextRun evaluates schedule from fromMs and returns the next fire
// time, or nil if the schedule never fires again.
func ComputeNextRun(schedule store.CronSchedule, fromMs uint64) (*uint64, error) {
	switch schedule.Kind {
	case store.ScheduleKindOnce:
		return nil, nil

	case store.ScheduleKindAt:
		if schedule.At == nil || strings.TrimSpace(*schedule.At) == "" {
			return nil, fmt.Errorf("schedule.at is required for kind=at")
		}
		atMs, err := parseRFC3339Ms(strings.TrimSpace(*schedule.At))
		if err != nil {
			return nil, err
		}
		if atMs > fromMs {
			return &atMs, nil
		}
		return nil, nil

	case store.ScheduleKindEvery:
		if schedule.EveryMs == nil {
			return nil, fmt.Errorf("schedule.everyMs is required for kind=every")
		}
		every := *schedule.EveryMs
		if every == 0 {
			return nil, fmt.Errorf("schedule.everyMs must be > 0")
		}

		if schedule.AnchorMs != nil {
			anchor := *schedule.AnchorMs
			if fromMs < anchor {
				return &anchor, nil
			}
			elapsed := fromMs - anchor
			steps := elapsed / every
			next := anchor + steps*every + every
			return &next, nil
		}
		next := fromMs + every
		return &next, nil

	case store.ScheduleKindCron:
		if schedule.Expr == nil || strings.TrimSpace(*schedule.Expr) == "" {
			return nil, fmt.Errorf("schedule.expr is required for kind=cron")
		}
		next, err := computeNextCronTime(strings.TrimSpace(*schedule.Expr), fromMs)
		if err != nil {
			return nil, err
		}
		return &next, nil

	default:
		return nil, fmt.Errorf("unsupported schedule kind: %s", schedule.Kind)
	}
}

func parseRFC3339Ms(value string) (uint64, error) {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0, fmt.Errorf("invalid RFC3339 timestamp: %w", err)
	}
	millis := parsed.UnixMilli()
	if millis < 0 {
		return 0, fmt.Errorf("timestamp must be >= unix epoch")
	}
	return uint64(millis), nil
}

// maxCronSearchMinutes bounds the forward search to 7 days.
const maxCronSearchMinutes = 60 * 24 * 7

func computeNextCronTime(expr string, fromMs uint64) (uint64, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 && len(parts) != 6 {
		return 0, fmt.Errorf("cron expression must contain 5 or 6 fields")
	}

	// gronx's IsValid is auxiliary: it checks general cron syntax validity
	// ahead of the stricter minute-only grammar enforced below.
	if !gronx.New().IsValid(expr) {
		return 0, fmt.Errorf("invalid cron expression: %s", expr)
	}

	minuteIdx := 0
	if len(parts) == 6 {
		minuteIdx = 1
	}
	hourIdx, domIdx, monthIdx, dowIdx := minuteIdx+1, minuteIdx+2, minuteIdx+3, minuteIdx+4

	if parts[hourIdx] != "*" || parts[domIdx] != "*" || parts[monthIdx] != "*" || parts[dowIdx] != "*" {
		return 0, fmt.Errorf("only minute-based cron expressions are supported currently")
	}

	matches, err := parseMinuteMatcher(parts[minuteIdx])
	if err != nil {
		return 0, err
	}

	start := time.UnixMilli(int64(fromMs)).UTC()

	for offset := 1; offset <= maxCronSearchMinutes; offset++ {
		candidate := start.Add(time.Duration(offset) * time.Minute)
		candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(),
			candidate.Hour(), candidate.Minute(), 0, 0, time.UTC)

		if matches(uint32(candidate.Minute())) {
			return uint64(candidate.UnixMilli()), nil
		}
	}

	return 0, fmt.Errorf("unable to compute next cron occurrence in 7-day search window")
}

// parseMinuteMatcher returns a predicate over minute-of-hour values for the
// minute-only cron grammar: "*", "*/N" (1<=N<=59), or an exact 0..59 value.
func parseMinuteMatcher(field string) (func(minute uint32) bool, error) {
	trimmed := strings.TrimSpace(field)
	if trimmed == "*" {
		return func(uint32) bool { return true }, nil
	}

	if step, ok := strings.CutPrefix(trimmed, "*/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil {
			return nil, fmt.Errorf("invalid minute step in cron expression")
		}
		if n < 1 || n > 59 {
			return nil, fmt.Errorf("minute step must be between 1 and 59")
		}
		step := uint32(n)
		return func(minute uint32) bool { return minute%step == 0 }, nil
	}

	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid minute value in cron expression")
	}
	if n < 0 || n > 59 {
		return nil, fmt.Errorf("minute value must be between 0 and 59")
	}
	value := uint32(n)
	return func(minute uint32) bool { return minute == value }, nil
}
