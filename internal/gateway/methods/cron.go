package methods

import (
	"encoding/json"

	"context"

	"github.com/google/uuid"

	"github.com/vela-systems/gatewire/internal/cron"
	"github.com/vela-systems/gatewire/internal/gateway"
	"github.com/vela-systems/gatewire/internal/store"
)

type cronListParams struct {
	IncludeDisabled *bool `json:"includeDisabled"`
	Limit           *int  `json:"limit"`
}

type cronAddParams struct {
	ID       *string            `json:"id"`
	Name     *string            `json:"name"`
	Enabled  *bool              `json:"enabled"`
	Schedule store.CronSchedule `json:"schedule"`
	Payload  store.CronPayload  `json:"payload"`
	Metadata json.RawMessage    `json:"metadata"`
}

type cronUpdateParams struct {
	ID    *string             `json:"id"`
	JobID *string             `json:"jobId"`
	Patch cronUpdatePatchBody `json:"patch"`
}

type cronUpdatePatchBody struct {
	Name      *string             `json:"name"`
	Enabled   *bool               `json:"enabled"`
	Schedule  *store.CronSchedule `json:"schedule"`
	Payload   *store.CronPayload  `json:"payload"`
	Metadata  json.RawMessage     `json:"metadata"`
	NextRunMs *uint64             `json:"nextRunMs"`
}

type cronIDParams struct {
	ID    *string `json:"id"`
	JobID *string `json:"jobId"`
}

type cronRunsParams struct {
	ID    *string `json:"id"`
	JobID *string `json:"jobId"`
	Limit *int    `json:"limit"`
}

// HandleCronList implements cron.list.
func HandleCronList(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params cronListParams
	if err := parseOptional("cron.list", raw, &params); err != nil {
		return nil, err
	}
	jobs, err := state.Store().ListCronJobs(ctx)
	if err != nil {
		return nil, err
	}
	includeDisabled := true
	if params.IncludeDisabled != nil {
		includeDisabled = *params.IncludeDisabled
	}
	if !includeDisabled {
		filtered := jobs[:0]
		for _, job := range jobs {
			if job.Enabled {
				filtered = append(filtered, job)
			}
		}
		jobs = filtered
	}
	if params.Limit != nil && *params.Limit >= 0 && *params.Limit < len(jobs) {
		jobs = jobs[:*params.Limit]
	}
	return map[string]any{"jobs": jobs, "count": len(jobs)}, nil
}

// HandleCronStatus implements cron.status.
func HandleCronStatus(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	if err := parseOptional("cron.status", raw, &struct{}{}); err != nil {
		return nil, err
	}
	return state.CronStatus(ctx)
}

// HandleCronAdd implements cron.add.
func HandleCronAdd(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params cronAddParams
	if err := parseRequired("cron.add", raw, &params); err != nil {
		return nil, err
	}
	if err := validateCronSchedule(params.Schedule); err != nil {
		return nil, err
	}

	now := nowMs()
	id := "job-" + uuid.NewString()
	if params.ID != nil {
		if v, ok := trimNonEmpty(*params.ID); ok {
			id = v
		}
	}
	name := "Cron " + id
	if params.Name != nil {
		if v, ok := trimNonEmpty(*params.Name); ok {
			name = v
		}
	}
	enabled := true
	if params.Enabled != nil {
		enabled = *params.Enabled
	}

	var nextRunMs *uint64
	if enabled {
		computed, err := cron.ComputeNextRun(params.Schedule, now)
		if err != nil {
			return nil, store.InvalidRequest("invalid cron schedule: %v", err)
		}
		nextRunMs = computed
	}

	metadata := params.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	job := &store.CronJob{
		ID: id, Name: name, Enabled: enabled, Schedule: params.Schedule, Payload: params.Payload,
		Metadata: metadata, CreatedAtMs: now, UpdatedAtMs: now, NextRunMs: nextRunMs,
	}
	if err := state.Store().InsertCronJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// HandleCronUpdate implements cron.update.
func HandleCronUpdate(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params cronUpdateParams
	if err := parseRequired("cron.update", raw, &params); err != nil {
		return nil, err
	}
	id, err := resolveCronID(params.ID, params.JobID, "cron.update")
	if err != nil {
		return nil, err
	}
	if params.Patch.Schedule != nil {
		if err := validateCronSchedule(*params.Patch.Schedule); err != nil {
			return nil, err
		}
	}

	patch := store.CronJobPatch{
		Enabled:  params.Patch.Enabled,
		Schedule: params.Patch.Schedule,
		Payload:  params.Patch.Payload,
		Metadata: params.Patch.Metadata,
	}
	if params.Patch.Name != nil {
		if v, ok := trimNonEmpty(*params.Patch.Name); ok {
			patch.Name = &v
		}
	}
	switch {
	case params.Patch.NextRunMs != nil:
		patch.NextRunMs = params.Patch.NextRunMs
		patch.NextRunMsSet = true
	case params.Patch.Schedule != nil:
		computed, err := cron.ComputeNextRun(*params.Patch.Schedule, nowMs())
		if err != nil {
			return nil, store.InvalidRequest("invalid cron schedule: %v", err)
		}
		patch.NextRunMs = computed
		patch.NextRunMsSet = true
	}

	updated, err := state.Store().UpdateCronJob(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// HandleCronRemove implements cron.remove.
func HandleCronRemove(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params cronIDParams
	if err := parseRequired("cron.remove", raw, &params); err != nil {
		return nil, err
	}
	id, err := resolveCronID(params.ID, params.JobID, "cron.remove")
	if err != nil {
		return nil, err
	}
	removed, err := state.Store().RemoveCronJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "id": id, "removed": removed}, nil
}

// HandleCronRun implements cron.run: execute a job immediately,
// out-of-band from its schedule.
func HandleCronRun(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params cronIDParams
	if err := parseRequired("cron.run", raw, &params); err != nil {
		return nil, err
	}
	id, err := resolveCronID(params.ID, params.JobID, "cron.run")
	if err != nil {
		return nil, err
	}
	run, err := state.CronEngine().RunJob(ctx, id, true)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// HandleCronRuns implements cron.runs.
func HandleCronRuns(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params cronRunsParams
	if err := parseOptional("cron.runs", raw, &params); err != nil {
		return nil, err
	}
	jobID := ""
	if params.ID != nil {
		jobID, _ = trimNonEmpty(*params.ID)
	}
	if jobID == "" && params.JobID != nil {
		jobID, _ = trimNonEmpty(*params.JobID)
	}
	limit := 0
	if params.Limit != nil {
		limit = clampInt(*params.Limit, 1, 1000)
	}
	runs, err := state.Store().ListCronRuns(ctx, jobID, limit)
	if err != nil {
		return nil, err
	}
	scope := "all"
	var jobIDResp any
	if jobID != "" {
		scope = "job"
		jobIDResp = jobID
	}
	return map[string]any{"scope": scope, "jobId": jobIDResp, "runs": runs, "count": len(runs)}, nil
}

func validateCronSchedule(schedule store.CronSchedule) error {
	if _, ok := trimNonEmpty(schedule.Kind); !ok {
		return store.InvalidRequest("invalid cron schedule: kind is required")
	}
	if _, err := cron.ComputeNextRun(schedule, nowMs()); err != nil {
		return store.InvalidRequest("invalid cron schedule: %v", err)
	}
	return nil
}

func resolveCronID(id, jobID *string, method string) (string, error) {
	if id != nil {
		if v, ok := trimNonEmpty(*id); ok {
			return v, nil
		}
	}
	if jobID != nil {
		if v, ok := trimNonEmpty(*jobID); ok {
			return v, nil
		}
	}
	return "", store.InvalidRequest("invalid %s params: missing id", method)
}
