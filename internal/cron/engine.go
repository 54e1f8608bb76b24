package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vela-systems/gatewire/internal/channels"
	"github.com/vela-systems/gatewire/internal/store"
)

// Engine is the background scheduler: it ticks on a fixed interval,
// selects due jobs, and executes them through the same path as a manual
// cron.run.
type Engine struct {
	st           *store.Store
	pollInterval time.Duration
	runsLimit    int
	notifier     *channels.Dispatcher

	mu          sync.RWMutex
	enabled     bool
	lastTickMs  *uint64
	stopCh      chan struct{}
	running     bool
}

// NewEngine builds an Engine bound to st. enabled mirrors the runtime
// config's cron feature flag; pollInterval and runsLimit come from the
// same configuration. notifier may be nil, in which case a "notify"
// payload job fails at execution time instead of silently no-oping.
func NewEngine(st *store.Store, pollInterval time.Duration, runsLimit int, enabled bool, notifier *channels.Dispatcher) *Engine {
	if runsLimit <= 0 {
		runsLimit = 200
	}
	return &Engine{st: st, pollInterval: pollInterval, runsLimit: runsLimit, enabled: enabled, notifier: notifier}
}

// Start begins the tick loop in a goroutine; Stop (or ctx cancellation)
// ends it.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	go e.loop(ctx)
}

// Stop halts the tick loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	close(e.stopCh)
	e.running = false
}

func (e *Engine) loop(ctx context.Context) {
	interval := e.pollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			if n, err := e.Tick(ctx); err != nil {
				slog.Error("cron tick failed", "error", err)
			} else if n > 0 {
				slog.Info("cron tick executed jobs", "count", n)
			}
		}
	}
}

// Tick runs one scheduling pass: if cron is disabled it returns
// immediately; otherwise it records the tick time, loads due jobs, and
// runs each through RunJob. Returns the number of jobs executed.
func (e *Engine) Tick(ctx context.Context) (int, error) {
	e.mu.RLock()
	enabled := e.enabled
	e.mu.RUnlock()
	if !enabled {
		return 0, nil
	}

	now := uint64(time.Now().UnixMilli())
	e.mu.Lock()
	e.lastTickMs = &now
	e.mu.Unlock()

	jobs, err := e.st.ListCronJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list cron jobs: %w", err)
	}

	var due []string
	for _, job := range jobs {
		if job.Enabled && job.NextRunMs != nil && *job.NextRunMs <= now {
			due = append(due, job.ID)
		}
	}

	executed := 0
	for _, id := range due {
		if _, err := e.RunJob(ctx, id, false); err != nil {
			slog.Error("cron job execution failed", "job", id, "error", err)
			continue
		}
		executed++
	}
	return executed, nil
}

// SetEnabled toggles the feature flag at runtime.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

// Status returns the engine's status fields for cron.status.
func (e *Engine) Status() (enabled bool, lastTickMs *uint64, pollIntervalMs int64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled, e.lastTickMs, e.pollInterval.Milliseconds()
}

// RunJob executes job id sharing the same path the tick loop uses,
// producing a CronRun record. manual distinguishes cron.run from a
// scheduled firing.
func (e *Engine) RunJob(ctx context.Context, id string, manual bool) (*store.CronRun, error) {
	job, err := e.st.GetCronJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, store.NotFound("cron job not found: %s", id)
	}

	started := uint64(time.Now().UnixMilli())
	output, execErr := e.executeCronPayload(ctx, job.Payload, started)
	finished := uint64(time.Now().UnixMilli())

	run := &store.CronRun{
		ID:           "run-" + uuid.NewString(),
		JobID:        job.ID,
		Manual:       manual,
		StartedAtMs:  started,
		FinishedAtMs: finished,
	}
	if execErr != nil {
		run.Status = "error"
		errText := execErr.Error()
		run.Error = &errText
	} else {
		run.Status = "ok"
		run.Output = &output
	}

	nextRun, err := ComputeNextRun(job.Schedule, finished)
	if err != nil {
		slog.Warn("cron schedule computation failed", "job", job.ID, "error", err)
		nextRun = nil
	}

	lastRun := finished
	if err := e.st.UpdateCronJobRuntime(ctx, job.ID, &lastRun, nextRun); err != nil {
		return nil, fmt.Errorf("update cron job runtime: %w", err)
	}

	if err := e.st.AddCronRun(ctx, run); err != nil {
		return nil, fmt.Errorf("add cron run: %w", err)
	}
	if err := e.st.PruneCronRuns(ctx, e.runsLimit); err != nil {
		slog.Warn("prune cron runs failed", "error", err)
	}

	return run, nil
}

// executeCronPayload is pure formatting for systemEvent/agentTurn: the
// documented core behavior has no real agent/system-event backend, only a
// deterministic text result. A "notify" payload is the one kind with a
// real side effect, delivering text to a chat platform through e.notifier.
func (e *Engine) executeCronPayload(ctx context.Context, payload store.CronPayload, ts uint64) (string, error) {
	switch payload.Kind {
	case "systemEvent":
		text := ""
		if payload.Text != nil {
			text = *payload.Text
		}
		return fmt.Sprintf("systemEvent:%s @%d", text, ts), nil
	case "agentTurn":
		message := ""
		if payload.Message != nil {
			message = *payload.Message
		}
		return fmt.Sprintf("agentTurn:%s @%d", message, ts), nil
	case "notify":
		if e.notifier == nil {
			return "", fmt.Errorf("notify payload but no channel notifier configured")
		}
		if payload.Platform == nil || payload.Target == nil {
			return "", fmt.Errorf("notify payload requires platform and target")
		}
		text := ""
		if payload.Text != nil {
			text = *payload.Text
		}
		if err := e.notifier.Send(ctx, *payload.Platform, *payload.Target, text); err != nil {
			return "", fmt.Errorf("deliver notify payload: %w", err)
		}
		return fmt.Sprintf("notify:%s/%s @%d", *payload.Platform, *payload.Target, ts), nil
	default:
		return "", fmt.Errorf("unsupported cron payload kind: %s", payload.Kind)
	}
}
