package methods

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vela-systems/gatewire/internal/gateway"
	"github.com/vela-systems/gatewire/internal/store"
)

const (
	sessionsDefaultCompactMaxAgeMs = uint64(7 * 24 * time.Hour / time.Millisecond)
	sessionsPreviewMaxKeys         = 64
)

type sessionsListParams struct {
	Limit *int `json:"limit"`
}

type sessionsPreviewParams struct {
	Keys     []string `json:"keys"`
	Limit    *int     `json:"limit"`
	MaxChars *int     `json:"maxChars"`
}

type sessionsPatchParams struct {
	ID       *string         `json:"id"`
	Key      *string         `json:"key"`
	Title    *string         `json:"title"`
	Tags     []string        `json:"tags"`
	Metadata json.RawMessage `json:"metadata"`
}

type sessionsIDParams struct {
	ID  *string `json:"id"`
	Key *string `json:"key"`
}

type sessionsCompactParams struct {
	MaxAgeMs *uint64 `json:"maxAgeMs"`
}

// HandleSessionsList implements sessions.list.
func HandleSessionsList(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params sessionsListParams
	if err := parseOptional("sessions.list", raw, &params); err != nil {
		return nil, err
	}
	sessions, err := state.Store().ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	if params.Limit != nil && *params.Limit >= 0 && *params.Limit < len(sessions) {
		sessions = sessions[:*params.Limit]
	}
	return map[string]any{"ts": nowMs(), "sessions": sessions}, nil
}

// HandleSessionsPreview implements sessions.preview: a clamped window of
// the most recent chat messages for each requested session key.
func HandleSessionsPreview(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params sessionsPreviewParams
	if err := parseOptional("sessions.preview", raw, &params); err != nil {
		return nil, err
	}
	limit := clampInt(derefInt(params.Limit, 12), 1, 200)
	maxChars := clampInt(derefInt(params.MaxChars, 240), 20, 4096)

	keys := sanitizeItems(params.Keys)
	if len(keys) > sessionsPreviewMaxKeys {
		keys = keys[:sessionsPreviewMaxKeys]
	}

	previews := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		session, err := state.Store().GetSession(ctx, key)
		if err != nil {
			return nil, err
		}
		messages, err := state.Store().ListChatMessages(ctx, key, limit)
		if err != nil {
			return nil, err
		}
		items := make([]map[string]any, 0, len(messages))
		for _, m := range messages {
			items = append(items, map[string]any{
				"id": m.ID, "role": m.Role, "text": truncateRunes(m.Text, maxChars),
				"status": m.Status, "ts": m.TS,
			})
		}
		status := "ok"
		if session == nil {
			status = "missing"
		} else if len(items) == 0 {
			status = "empty"
		}
		previews = append(previews, map[string]any{"key": key, "status": status, "items": items})
	}
	return map[string]any{"ts": nowMs(), "previews": previews}, nil
}

// HandleSessionsPatch implements sessions.patch: create-or-update a
// session record, preserving any field the caller omits.
func HandleSessionsPatch(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params sessionsPatchParams
	if err := parseRequired("sessions.patch", raw, &params); err != nil {
		return nil, err
	}
	id, err := resolveSessionID(params.ID, params.Key)
	if err != nil {
		return nil, err
	}

	existing, err := state.Store().GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	now := nowMs()

	title := "Session " + id
	if existing != nil {
		title = existing.Title
	}
	if params.Title != nil {
		if v, ok := trimNonEmpty(*params.Title); ok {
			title = v
		}
	}

	tags := []string{}
	if existing != nil {
		tags = existing.Tags
	}
	if params.Tags != nil {
		tags = sanitizeItems(params.Tags)
	}

	var metadata json.RawMessage
	switch {
	case len(params.Metadata) > 0:
		var probe any
		if err := json.Unmarshal(params.Metadata, &probe); err != nil {
			return nil, store.InvalidRequest("invalid sessions.patch params: metadata must be valid JSON")
		}
		if _, ok := probe.(map[string]any); !ok {
			return nil, store.InvalidRequest("invalid sessions.patch params: metadata must be an object")
		}
		metadata = params.Metadata
	case existing != nil:
		metadata = existing.Metadata
	default:
		metadata = json.RawMessage("{}")
	}

	createdAt := now
	if existing != nil {
		createdAt = existing.CreatedAtMs
	}

	next := &store.Session{
		ID: id, Title: title, Tags: tags, Metadata: metadata,
		CreatedAtMs: createdAt, UpdatedAtMs: now,
	}
	if err := state.Store().UpsertSession(ctx, next); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "key": id, "entry": next}, nil
}

// HandleSessionsReset implements sessions.reset: delete every session.
func HandleSessionsReset(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	if err := parseOptional("sessions.reset", raw, &struct{}{}); err != nil {
		return nil, err
	}
	removed, err := state.Store().ClearSessions(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "removed": removed}, nil
}

// HandleSessionsDelete implements sessions.delete.
func HandleSessionsDelete(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params sessionsIDParams
	if err := parseRequired("sessions.delete", raw, &params); err != nil {
		return nil, err
	}
	id, err := resolveSessionID(params.ID, params.Key)
	if err != nil {
		return nil, err
	}
	deleted, err := state.Store().RemoveSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "key": id, "deleted": deleted}, nil
}

// HandleSessionsCompact implements sessions.compact: delete sessions not
// touched within maxAgeMs (default 7 days).
func HandleSessionsCompact(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params sessionsCompactParams
	if err := parseOptional("sessions.compact", raw, &params); err != nil {
		return nil, err
	}
	maxAgeMs := sessionsDefaultCompactMaxAgeMs
	if params.MaxAgeMs != nil {
		maxAgeMs = *params.MaxAgeMs
	}
	removed, err := state.Store().CompactSessions(ctx, maxAgeMs)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "removed": removed, "maxAgeMs": maxAgeMs}, nil
}

func resolveSessionID(id, key *string) (string, error) {
	if id != nil {
		if v, ok := trimNonEmpty(*id); ok {
			return v, nil
		}
	}
	if key != nil {
		if v, ok := trimNonEmpty(*key); ok {
			return v, nil
		}
	}
	return "", store.InvalidRequest("invalid sessions params: id or key is required")
}

func derefInt(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
