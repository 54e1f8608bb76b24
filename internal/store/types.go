// Package store is the embedded-SQL persistence layer: typed CRUD over
// sessions, chat messages, agent runs, cron jobs/runs, nodes, node pair
// requests, node invokes, node events, and config entries.
package store

import "encoding/json"

// Session is a chat conversation. Created lazily by chat.send/sessions.patch,
// mutated only through sessions.*, destroyed by delete/reset/compact.
type Session struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Tags        []string        `json:"tags"`
	Metadata    json.RawMessage `json:"metadata"`
	CreatedAtMs uint64          `json:"createdAtMs"`
	UpdatedAtMs uint64          `json:"updatedAtMs"`
}

// ChatMessage belongs to a Session via a soft session_key reference.
type ChatMessage struct {
	ID       string          `json:"id"`
	Role     string          `json:"role"`
	Text     string          `json:"text"`
	Status   string          `json:"status"`
	TS       uint64          `json:"ts"`
	Metadata json.RawMessage `json:"metadata"`
}

// Run status values.
const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusError     = "error"
	RunStatusAborted   = "aborted"
)

// IsTerminalRunStatus reports whether status is one of the three terminal
// AgentRun states.
func IsTerminalRunStatus(status string) bool {
	return status == RunStatusCompleted || status == RunStatusError || status == RunStatusAborted
}

// AgentRun is the idempotency anchor for chat and agent methods.
type AgentRun struct {
	ID            string          `json:"id"`
	AgentID       string          `json:"agentId"`
	Input         string          `json:"input"`
	Output        string          `json:"output"`
	Status        string          `json:"status"`
	SessionKey    *string         `json:"sessionKey"`
	Metadata      json.RawMessage `json:"metadata"`
	CreatedAtMs   uint64          `json:"createdAtMs"`
	UpdatedAtMs   uint64          `json:"updatedAtMs"`
	CompletedAtMs *uint64         `json:"completedAtMs"`
}

// CronSchedule kinds.
const (
	ScheduleKindAt    = "at"
	ScheduleKindEvery = "every"
	ScheduleKindCron  = "cron"
	ScheduleKindOnce  = "once"
)

// CronSchedule describes when a CronJob fires next.
type CronSchedule struct {
	Kind      string  `json:"kind"`
	At        *string `json:"at,omitempty"`
	EveryMs   *uint64 `json:"everyMs,omitempty"`
	AnchorMs  *uint64 `json:"anchorMs,omitempty"`
	Expr      *string `json:"expr,omitempty"`
	TZ        *string `json:"tz,omitempty"`
	StaggerMs *uint64 `json:"staggerMs,omitempty"`
}

// CronPayload is the job body. Kind selects which fields apply: Text for
// systemEvent, Message for agentTurn, Platform+Target+Text for notify (a
// chat-platform delivery, see internal/channels.Dispatcher).
type CronPayload struct {
	Kind           string  `json:"kind"`
	Text           *string `json:"text,omitempty"`
	Message        *string `json:"message,omitempty"`
	Model          *string `json:"model,omitempty"`
	Thinking       *string `json:"thinking,omitempty"`
	TimeoutSeconds *uint64 `json:"timeoutSeconds,omitempty"`
	Platform       *string `json:"platform,omitempty"`
	Target         *string `json:"target,omitempty"`
}

// CronJob is a scheduled unit of work.
type CronJob struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Enabled     bool            `json:"enabled"`
	Schedule    CronSchedule    `json:"schedule"`
	Payload     CronPayload     `json:"payload"`
	Metadata    json.RawMessage `json:"metadata"`
	CreatedAtMs uint64          `json:"createdAtMs"`
	UpdatedAtMs uint64          `json:"updatedAtMs"`
	LastRunMs   *uint64         `json:"lastRunMs"`
	NextRunMs   *uint64         `json:"nextRunMs"`
}

// CronJobPatch is a partial update to a CronJob; nil fields are untouched.
// NextRunMsSet distinguishes "clear next_run_ms" from "leave it".
type CronJobPatch struct {
	Name         *string
	Enabled      *bool
	Schedule     *CronSchedule
	Payload      *CronPayload
	Metadata     json.RawMessage
	NextRunMs    *uint64
	NextRunMsSet bool
}

// CronRun is one execution record.
type CronRun struct {
	ID            string  `json:"id"`
	JobID         string  `json:"jobId"`
	Status        string  `json:"status"` // "ok" | "error"
	Output        *string `json:"output"`
	Error         *string `json:"error"`
	Manual        bool    `json:"manual"`
	StartedAtMs   uint64  `json:"startedAtMs"`
	FinishedAtMs  uint64  `json:"finishedAtMs"`
}

// Node is a paired or pairable remote device.
type Node struct {
	ID           string          `json:"id"`
	DisplayName  string          `json:"displayName"`
	Platform     string          `json:"platform"`
	DeviceFamily *string         `json:"deviceFamily"`
	Commands     []string        `json:"commands"`
	Paired       bool            `json:"paired"`
	Status       string          `json:"status"` // "online" | "offline"
	LastSeenMs   uint64          `json:"lastSeenMs"`
	Metadata     json.RawMessage `json:"metadata"`
}

// NodePairRequest describes a pending or resolved pairing request.
type NodePairRequest struct {
	RequestID    string   `json:"requestId"`
	NodeID       string   `json:"nodeId"`
	DisplayName  string   `json:"displayName"`
	Platform     string   `json:"platform"`
	DeviceFamily *string  `json:"deviceFamily"`
	Commands     []string `json:"commands"`
	PublicKey    *string  `json:"publicKey"`
	Status       string   `json:"status"` // "pending" | "approved" | "rejected"
	Reason       *string  `json:"reason"`
	CreatedAtMs  uint64   `json:"createdAtMs"`
	ResolvedAtMs *uint64  `json:"resolvedAtMs"`
}

// NodeInvoke is one remote command instance.
type NodeInvoke struct {
	RequestID     string          `json:"requestId"`
	NodeID        string          `json:"nodeId"`
	Command       string          `json:"command"`
	Args          []string        `json:"args"`
	Input         json.RawMessage `json:"input"`
	Status        string          `json:"status"` // "pending" | "completed" | "failed"
	Result        json.RawMessage `json:"result"`
	Error         *string         `json:"error"`
	RequestedAtMs uint64          `json:"requestedAtMs"`
	UpdatedAtMs   uint64          `json:"updatedAtMs"`
	CompletedAtMs *uint64         `json:"completedAtMs"`
}

// NodeEvent is one entry in the append-only, pruned event ring.
type NodeEvent struct {
	ID      string          `json:"id"`
	NodeID  string          `json:"nodeId"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	TS      uint64          `json:"ts"`
}

// ConfigEntry is a single key/value row in the config prefix tree.
type ConfigEntry struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	UpdatedAtMs uint64          `json:"updatedAtMs"`
}
