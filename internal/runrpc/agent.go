package runrpc

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vela-systems/gatewire/internal/config"
	"github.com/vela-systems/gatewire/internal/gateway"
	"github.com/vela-systems/gatewire/internal/store"
)

type agentRunParams struct {
	RunID          *string `json:"runId"`
	IdempotencyKey *string `json:"idempotencyKey"`
	AgentID        *string `json:"agentId"`
	SessionKey     *string `json:"sessionKey"`
	Input          *string `json:"input"`
	Message        *string `json:"message"`
	Text           *string `json:"text"`
	Deferred       *bool   `json:"deferred"`
}

type agentWaitParams struct {
	RunID     string `json:"runId"`
	TimeoutMs *int64 `json:"timeoutMs"`
}

type agentIdentityParams struct {
	AgentID    *string `json:"agentId"`
	SessionKey *string `json:"sessionKey"`
}

const agentWaitPollInterval = 50 * time.Millisecond

// HandleAgent implements the "agent" method: run one turn of the (echo)
// agent runtime synchronously, or enqueue it for agent.wait when deferred.
func HandleAgent(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params agentRunParams
	if err := parseRequiredParams("agent", raw, &params); err != nil {
		return nil, err
	}

	input, ok := firstNonEmpty(params.Input, params.Message, params.Text)
	if !ok {
		return nil, store.InvalidRequest("invalid agent params: input is required")
	}

	runID := "run-" + uuid.NewString()
	if v, ok := firstNonEmpty(params.RunID, params.IdempotencyKey); ok {
		runID = v
	}

	sessionKey := "agent:main:main"
	if params.SessionKey != nil {
		if trimmed, ok := trimNonEmpty(*params.SessionKey); ok {
			sessionKey = trimmed
		}
	}

	agentID := "main"
	if params.AgentID != nil {
		agentID = config.NormalizeAgentID(*params.AgentID)
	}
	deferred := params.Deferred != nil && *params.Deferred

	st := state.Store()
	if existing, err := st.GetAgentRun(ctx, runID); err != nil {
		return nil, err
	} else if existing != nil {
		return resolveExistingAgentRun(existing, sessionKey, agentID)
	}

	now := uint64(time.Now().UnixMilli())
	status := store.RunStatusRunning
	if deferred {
		status = store.RunStatusQueued
	}
	meta, _ := json.Marshal(map[string]any{
		"runtime": "gatewire", "source": "agent", "deferred": deferred,
	})
	run := &store.AgentRun{
		ID: runID, AgentID: agentID, Input: input, Status: status,
		SessionKey: &sessionKey, Metadata: meta, CreatedAtMs: now, UpdatedAtMs: now,
	}

	if deferred {
		if err := st.UpsertAgentRun(ctx, run); err != nil {
			return nil, err
		}
		return agentMethodResponse(runID, sessionKey, nil, store.RunStatusQueued), nil
	}

	completed, err := executeAgentRun(ctx, st, run)
	if err != nil {
		return nil, err
	}
	return agentMethodResponse(runID, sessionKey, &completed.Output, store.RunStatusCompleted), nil
}

func agentMethodResponse(runID, sessionKey string, output *string, summary string) map[string]any {
	var out interface{}
	if output != nil {
		out = *output
	}
	return map[string]any{
		"runId": runID, "status": "ok", "summary": summary,
		"result": map[string]any{"output": out, "sessionKey": sessionKey},
	}
}

// executeAgentRun runs the echo turn: mark running, append the transcript,
// and record the completed (or errored) run.
func executeAgentRun(ctx context.Context, st *store.Store, run *store.AgentRun) (*store.AgentRun, error) {
	if run.Status != store.RunStatusRunning {
		run.Status = store.RunStatusRunning
		run.UpdatedAtMs = uint64(time.Now().UnixMilli())
	}
	if err := st.UpsertAgentRun(ctx, run); err != nil {
		return nil, err
	}

	output := "Echo: " + run.Input
	sessionKey := ""
	if run.SessionKey != nil {
		sessionKey = *run.SessionKey
	}
	messages := []store.ChatMessage{
		newChatMessage("user", run.Input, run.ID, run.UpdatedAtMs),
		newChatMessage("assistant", output, run.ID, run.UpdatedAtMs+1),
	}

	if err := st.AppendChatMessages(ctx, sessionKey, messages); err != nil {
		failedAt := uint64(time.Now().UnixMilli())
		run.Status = store.RunStatusError
		run.Output = "agent execution failed while appending chat messages: " + err.Error()
		run.UpdatedAtMs = failedAt
		run.CompletedAtMs = &failedAt
		_ = st.UpsertAgentRun(ctx, run)
		return nil, err
	}

	completedAt := uint64(time.Now().UnixMilli())
	run.Status = store.RunStatusCompleted
	run.Output = output
	run.UpdatedAtMs = completedAt
	run.CompletedAtMs = &completedAt
	if err := st.UpsertAgentRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func resolveExistingAgentRun(existing *store.AgentRun, requestedSessionKey, requestedAgentID string) (interface{}, error) {
	var meta map[string]any
	_ = json.Unmarshal(existing.Metadata, &meta)
	if source, ok := meta["source"].(string); ok && source != "agent" {
		return nil, store.InvalidRequest("invalid agent params: runId is already used by another method")
	}
	if existing.AgentID != requestedAgentID {
		return nil, store.InvalidRequest("invalid agent params: runId is already used with a different agentId")
	}
	if existing.SessionKey != nil && *existing.SessionKey != requestedSessionKey {
		return nil, store.InvalidRequest("invalid agent params: runId is already used with a different sessionKey")
	}

	sessionKey := requestedSessionKey
	if existing.SessionKey != nil {
		sessionKey = *existing.SessionKey
	}
	var output interface{}
	if existing.Status == store.RunStatusCompleted || existing.Status == store.RunStatusError {
		output = existing.Output
	}
	return map[string]any{
		"runId": existing.ID, "status": "ok", "summary": existing.Status,
		"result": map[string]any{"output": output, "sessionKey": sessionKey},
	}, nil
}

// HandleAgentWait implements agent.wait: poll until run_id reaches a
// terminal status, executing a still-queued run inline, or time out.
func HandleAgentWait(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params agentWaitParams
	if err := parseRequiredParams("agent.wait", raw, &params); err != nil {
		return nil, err
	}
	runID, ok := trimNonEmpty(params.RunID)
	if !ok {
		return nil, store.InvalidRequest("invalid agent.wait params: runId is required")
	}

	timeoutMs := int64(30_000)
	if params.TimeoutMs != nil {
		timeoutMs = *params.TimeoutMs
	}
	if timeoutMs > 120_000 {
		timeoutMs = 120_000
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	st := state.Store()
	for {
		run, err := st.GetAgentRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run != nil {
			if run.Status == store.RunStatusQueued {
				completed, err := executeAgentRun(ctx, st, run)
				if err != nil {
					return nil, err
				}
				return agentWaitPayload(runID, completed), nil
			}
			if run.Status == store.RunStatusRunning {
				if !time.Now().Before(deadline) {
					return map[string]any{"runId": runID, "status": "timeout"}, nil
				}
				if err := sleepOrDone(ctx, agentWaitPollInterval); err != nil {
					return nil, err
				}
				continue
			}
			return agentWaitPayload(runID, run), nil
		}

		if !time.Now().Before(deadline) {
			return map[string]any{"runId": runID, "status": "timeout"}, nil
		}
		if err := sleepOrDone(ctx, agentWaitPollInterval); err != nil {
			return nil, err
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func agentWaitPayload(runID string, run *store.AgentRun) map[string]any {
	var output interface{}
	if run.Status == store.RunStatusCompleted {
		output = run.Output
	}
	var errText interface{}
	if run.Status == store.RunStatusError {
		errText = run.Output
	}
	return map[string]any{
		"runId": runID, "status": run.Status, "startedAt": run.CreatedAtMs, "endedAt": run.CompletedAtMs,
		"error": errText,
		"result": map[string]any{"output": output, "sessionKey": run.SessionKey},
	}
}

// HandleAgentIdentity implements agent.identity.get.
func HandleAgentIdentity(_ context.Context, _ *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params agentIdentityParams
	if err := parseOptionalParams("agent.identity.get", raw, &params); err != nil {
		return nil, err
	}

	agentID := "main"
	if params.AgentID != nil {
		if trimmed, ok := trimNonEmpty(*params.AgentID); ok {
			agentID = trimmed
		}
	} else if params.SessionKey != nil {
		if parsed, ok := parseAgentIDFromSessionKey(*params.SessionKey); ok {
			agentID = parsed
		}
	}

	return map[string]any{
		"agentId": agentID, "name": "Gatewire", "role": "assistant", "avatar": nil, "runtime": "go",
	}, nil
}

func parseAgentIDFromSessionKey(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", false
	}
	parts := strings.Split(trimmed, ":")
	if len(parts) < 2 || parts[0] != "agent" {
		return "", false
	}
	agentID := strings.TrimSpace(parts[1])
	if agentID == "" {
		return "", false
	}
	return agentID, true
}

func firstNonEmpty(values ...*string) (string, bool) {
	for _, v := range values {
		if v == nil {
			continue
		}
		if trimmed, ok := trimNonEmpty(*v); ok {
			return trimmed, true
		}
	}
	return "", false
}
