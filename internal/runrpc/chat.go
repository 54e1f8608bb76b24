package runrpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vela-systems/gatewire/internal/gateway"
	"github.com/vela-systems/gatewire/internal/store"
	"github.com/vela-systems/gatewire/pkg/protocol"
)

type chatSendParams struct {
	SessionKey     *string `json:"sessionKey"`
	SessionID      *string `json:"sessionId"`
	Message        string  `json:"message"`
	IdempotencyKey *string `json:"idempotencyKey"`
	Deferred       *bool   `json:"deferred"`
}

type chatHistoryParams struct {
	SessionKey *string `json:"sessionKey"`
	SessionID  *string `json:"sessionId"`
	Limit      *int    `json:"limit"`
}

type chatAbortParams struct {
	SessionKey *string `json:"sessionKey"`
	SessionID  *string `json:"sessionId"`
	RunID      *string `json:"runId"`
}

// HandleSend implements chat.send: append a user+assistant message pair to
// the session transcript, synchronously unless deferred is set.
func HandleSend(ctx context.Context, state *gateway.State, session *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params chatSendParams
	if err := parseRequiredParams("chat.send", raw, &params); err != nil {
		return nil, err
	}

	sessionKey, err := resolveSessionKey(params.SessionKey, params.SessionID)
	if err != nil {
		return nil, err
	}
	inbound, err := sanitizeChatMessage(params.Message)
	if err != nil {
		return nil, err
	}
	deferred := params.Deferred != nil && *params.Deferred

	runID := "chat-" + uuid.NewString()
	if params.IdempotencyKey != nil {
		if trimmed, ok := trimNonEmpty(*params.IdempotencyKey); ok {
			runID = trimmed
		}
	}

	st := state.Store()
	if existing, err := st.GetAgentRun(ctx, runID); err != nil {
		return nil, err
	} else if existing != nil {
		return resolveExistingChatRun(existing, sessionKey)
	}

	if err := ensureSessionExists(ctx, st, sessionKey); err != nil {
		return nil, err
	}

	now := uint64(time.Now().UnixMilli())

	if deferred {
		meta, _ := json.Marshal(map[string]any{
			"source":       "chat.send",
			"deferred":     true,
			"originConnId": session.ConnID,
		})
		run := &store.AgentRun{
			ID: runID, AgentID: "main", Input: inbound, Status: store.RunStatusQueued,
			SessionKey: &sessionKey, Metadata: meta, CreatedAtMs: now, UpdatedAtMs: now,
		}
		if err := st.UpsertAgentRun(ctx, run); err != nil {
			return nil, err
		}
		return map[string]any{
			"runId": runID, "status": store.RunStatusQueued, "sessionKey": sessionKey, "message": nil,
		}, nil
	}

	reply := "Echo: " + inbound
	messages := []store.ChatMessage{
		newChatMessage("user", inbound, runID, now),
		newChatMessage("assistant", reply, runID, now+1),
	}
	if err := st.AppendChatMessages(ctx, sessionKey, messages); err != nil {
		return nil, err
	}

	meta, _ := json.Marshal(map[string]any{
		"source":       "chat.send",
		"deferred":     false,
		"originConnId": session.ConnID,
	})
	run := &store.AgentRun{
		ID: runID, AgentID: "main", Input: inbound, Output: reply, Status: store.RunStatusCompleted,
		SessionKey: &sessionKey, Metadata: meta, CreatedAtMs: now, UpdatedAtMs: now, CompletedAtMs: &now,
	}
	if err := st.UpsertAgentRun(ctx, run); err != nil {
		return nil, err
	}

	publishChatFinalEvent(state, session.ConnID, runID, sessionKey, reply, now)

	return map[string]any{
		"runId": runID, "status": store.RunStatusCompleted, "sessionKey": sessionKey, "message": reply,
	}, nil
}

func newChatMessage(role, text, runID string, ts uint64) store.ChatMessage {
	meta, _ := json.Marshal(map[string]any{"runId": runID})
	return store.ChatMessage{
		ID: "msg-" + uuid.NewString(), Role: role, Text: text, Status: "final", TS: ts, Metadata: meta,
	}
}

func publishChatFinalEvent(state *gateway.State, connID, runID, sessionKey, reply string, ts uint64) {
	state.PublishEventFor(&connID, protocol.EventChat, map[string]any{
		"runId":      runID,
		"sessionKey": sessionKey,
		"state":      "final",
		"seq":        1,
		"message": map[string]any{
			"role":      "assistant",
			"content":   []map[string]any{{"type": "text", "text": reply}},
			"timestamp": ts,
		},
	})
}

func resolveExistingChatRun(existing *store.AgentRun, requestedSessionKey string) (interface{}, error) {
	var meta map[string]any
	_ = json.Unmarshal(existing.Metadata, &meta)
	if source, ok := meta["source"].(string); ok && source != "chat.send" {
		return nil, store.InvalidRequest("invalid chat.send params: idempotency key already used by another method")
	}
	if existing.SessionKey != nil && *existing.SessionKey != requestedSessionKey {
		return nil, store.InvalidRequest("invalid chat.send params: idempotency key already used with a different sessionKey")
	}

	sessionKey := requestedSessionKey
	if existing.SessionKey != nil {
		sessionKey = *existing.SessionKey
	}
	var message interface{}
	if existing.Status == store.RunStatusCompleted || existing.Status == store.RunStatusError {
		message = existing.Output
	}
	return map[string]any{
		"runId": existing.ID, "status": existing.Status, "sessionKey": sessionKey, "message": message,
	}, nil
}

// HandleHistory implements chat.history.
func HandleHistory(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params chatHistoryParams
	if err := parseRequiredParams("chat.history", raw, &params); err != nil {
		return nil, err
	}
	sessionKey, err := resolveSessionKey(params.SessionKey, params.SessionID)
	if err != nil {
		return nil, err
	}
	limit := 0
	if params.Limit != nil {
		limit = clamp(*params.Limit, 1, 1000)
	}

	messages, err := state.Store().ListChatMessages(ctx, sessionKey, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"sessionKey": sessionKey, "sessionId": sessionKey, "messages": messages,
	}, nil
}

// HandleAbort implements chat.abort: abort a single run, or every
// non-terminal run in a session when runId is omitted.
func HandleAbort(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params chatAbortParams
	if err := parseOptionalParams("chat.abort", raw, &params); err != nil {
		return nil, err
	}
	sessionKey := "agent:main:main"
	if params.SessionKey != nil {
		if trimmed, ok := trimNonEmpty(*params.SessionKey); ok {
			sessionKey = trimmed
		}
	} else if params.SessionID != nil {
		if trimmed, ok := trimNonEmpty(*params.SessionID); ok {
			sessionKey = trimmed
		}
	}

	st := state.Store()

	if params.RunID == nil {
		runs, err := st.ListAgentRunsBySession(ctx, sessionKey, 500)
		if err != nil {
			return nil, err
		}
		var abortedRunIDs []string
		for i := range runs {
			run := runs[i]
			if store.IsTerminalRunStatus(run.Status) {
				continue
			}
			if err := abortRun(ctx, st, &run); err != nil {
				return nil, err
			}
			abortedRunIDs = append(abortedRunIDs, run.ID)
		}
		return map[string]any{
			"ok": true, "aborted": len(abortedRunIDs) > 0, "sessionKey": sessionKey, "runIds": abortedRunIDs,
		}, nil
	}

	runID, ok := trimNonEmpty(*params.RunID)
	if !ok {
		return map[string]any{"ok": true, "aborted": false, "sessionKey": sessionKey, "runIds": []string{}}, nil
	}

	run, err := st.GetAgentRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return map[string]any{"ok": true, "aborted": false, "sessionKey": sessionKey, "runIds": []string{runID}}, nil
	}
	if run.SessionKey != nil && *run.SessionKey != sessionKey {
		return nil, store.InvalidRequest("invalid chat.abort params: runId does not belong to sessionKey")
	}
	if store.IsTerminalRunStatus(run.Status) {
		return map[string]any{"ok": true, "aborted": false, "sessionKey": sessionKey, "runIds": []string{runID}}, nil
	}
	if err := abortRun(ctx, st, run); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "aborted": true, "sessionKey": sessionKey, "runIds": []string{runID}}, nil
}

// abortRun finalizes run as aborted only if it is still in the status it
// was read at — a concurrent completion wins the race, not the abort.
func abortRun(ctx context.Context, st *store.Store, run *store.AgentRun) error {
	expected := run.Status
	abortedAt := uint64(time.Now().UnixMilli())

	var meta map[string]any
	_ = json.Unmarshal(run.Metadata, &meta)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["abortedBy"] = "chat.abort"
	meta["abortedAtMs"] = abortedAt
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	run.Status = store.RunStatusAborted
	run.UpdatedAtMs = abortedAt
	run.CompletedAtMs = &abortedAt
	if run.Output == "" {
		run.Output = "aborted by chat.abort"
	}
	run.Metadata = metaJSON

	ok, err := st.FinalizeIfStatus(ctx, run, expected)
	if err != nil {
		return err
	}
	if !ok {
		// Lost the race to a concurrent transition (e.g. the run completed
		// first); that outcome is authoritative, not an error.
		return nil
	}
	return nil
}

func resolveSessionKey(sessionKey, sessionID *string) (string, error) {
	if sessionKey != nil {
		if trimmed, ok := trimNonEmpty(*sessionKey); ok {
			return trimmed, nil
		}
	}
	if sessionID != nil {
		if trimmed, ok := trimNonEmpty(*sessionID); ok {
			return trimmed, nil
		}
	}
	return "", store.InvalidRequest("invalid chat params: sessionKey is required")
}

func sanitizeChatMessage(input string) (string, error) {
	for _, r := range input {
		if r == 0 {
			return "", store.InvalidRequest("invalid chat.send params: message contains null bytes")
		}
	}
	trimmed, ok := trimNonEmpty(input)
	if !ok {
		return "", store.InvalidRequest("invalid chat.send params: message or attachment required")
	}
	return trimmed, nil
}

func ensureSessionExists(ctx context.Context, st *store.Store, sessionKey string) error {
	existing, err := st.GetSession(ctx, sessionKey)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	now := uint64(time.Now().UnixMilli())
	meta, _ := json.Marshal(map[string]any{})
	return st.UpsertSession(ctx, &store.Session{
		ID: sessionKey, Title: "Session " + sessionKey, Tags: []string{}, Metadata: meta,
		CreatedAtMs: now, UpdatedAtMs: now,
	})
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
