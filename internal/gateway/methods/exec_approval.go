package methods

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"github.com/vela-systems/gatewire/internal/gateway"
	"github.com/vela-systems/gatewire/internal/store"
)

const (
	execApprovalsGlobalKey     = "runtime/exec-approvals/global"
	execApprovalsNodePrefix    = "runtime/exec-approvals/node/"
	execApprovalRequestPrefix  = "runtime/exec-approval/request/"
	execApprovalDefaultTimeout = uint64(30_000)
	execApprovalWaitPollMillis = 50 * time.Millisecond
)

type execApprovalsGetParams struct {
	BaseHash *string `json:"baseHash"`
}

type execApprovalsSetParams struct {
	File     json.RawMessage `json:"file"`
	BaseHash *string         `json:"baseHash"`
}

type execApprovalsNodeGetParams struct {
	NodeID   string  `json:"nodeId"`
	BaseHash *string `json:"baseHash"`
}

type execApprovalsNodeSetParams struct {
	NodeID   string          `json:"nodeId"`
	File     json.RawMessage `json:"file"`
	BaseHash *string         `json:"baseHash"`
}

type execApprovalRequest struct {
	Command      string  `json:"command"`
	Cwd          *string `json:"cwd"`
	NodeID       *string `json:"nodeId"`
	Host         *string `json:"host"`
	Security     *string `json:"security"`
	Ask          *string `json:"ask"`
	AgentID      *string `json:"agentId"`
	ResolvedPath *string `json:"resolvedPath"`
	SessionKey   *string `json:"sessionKey"`
	RequestedBy  *string `json:"requestedBy"`
}

type execApprovalRecord struct {
	ID           string              `json:"id"`
	Request      execApprovalRequest `json:"request"`
	Status       string              `json:"status"`
	Decision     *string             `json:"decision"`
	CreatedAtMs  uint64              `json:"createdAtMs"`
	ExpiresAtMs  uint64              `json:"expiresAtMs"`
	ResolvedAtMs *uint64             `json:"resolvedAtMs"`
	ResolvedBy   *string             `json:"resolvedBy"`
}

type execApprovalRequestParams struct {
	ID           *string `json:"id"`
	Command      string  `json:"command"`
	Cwd          *string `json:"cwd"`
	NodeID       *string `json:"nodeId"`
	Host         *string `json:"host"`
	Security     *string `json:"security"`
	Ask          *string `json:"ask"`
	AgentID      *string `json:"agentId"`
	ResolvedPath *string `json:"resolvedPath"`
	SessionKey   *string `json:"sessionKey"`
	TimeoutMs    *uint64 `json:"timeoutMs"`
	TwoPhase     *bool   `json:"twoPhase"`
}

type execApprovalWaitParams struct {
	ID        string  `json:"id"`
	TimeoutMs *uint64 `json:"timeoutMs"`
}

type execApprovalResolveParams struct {
	ID       string `json:"id"`
	Decision string `json:"decision"`
}

// HandleExecApprovalsGet implements exec.approvals.get: the persisted
// global allow/deny rules file plus a stable hash for optimistic
// concurrency on the next exec.approvals.set.
func HandleExecApprovalsGet(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params execApprovalsGetParams
	if err := parseOptional("exec.approvals.get", raw, &params); err != nil {
		return nil, err
	}
	return readApprovalsSnapshot(ctx, state, execApprovalsGlobalKey)
}

// HandleExecApprovalsSet implements exec.approvals.set.
func HandleExecApprovalsSet(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params execApprovalsSetParams
	if err := parseRequired("exec.approvals.set", raw, &params); err != nil {
		return nil, err
	}
	return saveApprovalsSnapshot(ctx, state, execApprovalsGlobalKey, params.File, params.BaseHash, "exec.approvals.set")
}

// HandleExecApprovalsNodeGet implements exec.approvals.node.get.
func HandleExecApprovalsNodeGet(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params execApprovalsNodeGetParams
	if err := parseRequired("exec.approvals.node.get", raw, &params); err != nil {
		return nil, err
	}
	nodeID, ok := trimNonEmpty(params.NodeID)
	if !ok {
		return nil, store.InvalidRequest("invalid exec.approvals.node.get params: nodeId is required")
	}
	return readApprovalsSnapshot(ctx, state, execApprovalsNodePrefix+nodeID)
}

// HandleExecApprovalsNodeSet implements exec.approvals.node.set.
func HandleExecApprovalsNodeSet(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params execApprovalsNodeSetParams
	if err := parseRequired("exec.approvals.node.set", raw, &params); err != nil {
		return nil, err
	}
	nodeID, ok := trimNonEmpty(params.NodeID)
	if !ok {
		return nil, store.InvalidRequest("invalid exec.approvals.node.set params: nodeId is required")
	}
	return saveApprovalsSnapshot(ctx, state, execApprovalsNodePrefix+nodeID, params.File, params.BaseHash, "exec.approvals.node.set")
}

// HandleExecApprovalRequest implements exec.approval.request: register a
// pending approval, returning immediately (twoPhase) or its current
// decision state.
func HandleExecApprovalRequest(ctx context.Context, state *gateway.State, session *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params execApprovalRequestParams
	if err := parseRequired("exec.approval.request", raw, &params); err != nil {
		return nil, err
	}
	command, ok := trimNonEmpty(params.Command)
	if !ok {
		return nil, store.InvalidRequest("invalid exec.approval.request params: command is required")
	}
	host := optionalTrimmed(params.Host)
	nodeID := optionalTrimmed(params.NodeID)
	if host != nil && *host == "node" && nodeID == nil {
		return nil, store.InvalidRequest("nodeId is required for host=node")
	}

	id := uuid.NewString()
	if v, ok := trimNonEmpty(derefStr(params.ID)); ok {
		id = v
	}

	existing, err := loadApprovalRecord(ctx, state, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, store.InvalidRequest("approval id already exists")
	}

	timeoutMs := execApprovalDefaultTimeout
	if params.TimeoutMs != nil {
		timeoutMs = *params.TimeoutMs
	}
	timeoutMs = clampUint64(timeoutMs, 1_000, 300_000)

	createdAt := nowMs()
	requestedBy := session.ClientID
	record := &execApprovalRecord{
		ID: id,
		Request: execApprovalRequest{
			Command: command, Cwd: optionalTrimmed(params.Cwd), NodeID: nodeID, Host: host,
			Security: optionalTrimmed(params.Security), Ask: optionalTrimmed(params.Ask),
			AgentID: optionalTrimmed(params.AgentID), ResolvedPath: optionalTrimmed(params.ResolvedPath),
			SessionKey: optionalTrimmed(params.SessionKey), RequestedBy: &requestedBy,
		},
		Status: "pending", CreatedAtMs: createdAt, ExpiresAtMs: createdAt + timeoutMs,
	}
	if err := saveApprovalRecord(ctx, state, record); err != nil {
		return nil, err
	}

	if params.TwoPhase != nil && *params.TwoPhase {
		return map[string]any{
			"status": "accepted", "id": record.ID,
			"createdAtMs": record.CreatedAtMs, "expiresAtMs": record.ExpiresAtMs,
		}, nil
	}
	return approvalRecordResponse(record), nil
}

// HandleExecApprovalWaitDecision implements exec.approval.waitDecision: a
// bounded poll for a pending approval to resolve or expire.
func HandleExecApprovalWaitDecision(ctx context.Context, state *gateway.State, _ *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params execApprovalWaitParams
	if err := parseRequired("exec.approval.waitDecision", raw, &params); err != nil {
		return nil, err
	}
	id, ok := trimNonEmpty(params.ID)
	if !ok {
		return nil, store.InvalidRequest("invalid exec.approval.waitDecision params: id is required")
	}
	timeoutMs := uint64(15_000)
	if params.TimeoutMs != nil {
		timeoutMs = *params.TimeoutMs
	}
	timeoutMs = clampUint64(timeoutMs, 1, 120_000)
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	for {
		record, err := loadApprovalRecord(ctx, state, id)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, store.InvalidRequest("approval expired or not found")
		}
		if record.Status != "pending" || record.Decision != nil {
			return approvalRecordResponse(record), nil
		}
		if nowMs() >= record.ExpiresAtMs {
			record.Status = "expired"
			if err := saveApprovalRecord(ctx, state, record); err != nil {
				return nil, err
			}
			return map[string]any{
				"id": record.ID, "decision": nil,
				"createdAtMs": record.CreatedAtMs, "expiresAtMs": record.ExpiresAtMs, "status": record.Status,
			}, nil
		}
		if !time.Now().Before(deadline) {
			return map[string]any{
				"id": record.ID, "decision": nil,
				"createdAtMs": record.CreatedAtMs, "expiresAtMs": record.ExpiresAtMs, "status": "pending",
			}, nil
		}
		if err := execApprovalSleepOrDone(ctx, execApprovalWaitPollMillis); err != nil {
			return nil, err
		}
	}
}

// HandleExecApprovalResolve implements exec.approval.resolve.
func HandleExecApprovalResolve(ctx context.Context, state *gateway.State, session *gateway.Session, raw json.RawMessage) (interface{}, error) {
	var params execApprovalResolveParams
	if err := parseRequired("exec.approval.resolve", raw, &params); err != nil {
		return nil, err
	}
	id, ok := trimNonEmpty(params.ID)
	if !ok {
		return nil, store.InvalidRequest("invalid exec.approval.resolve params: id is required")
	}
	decision, ok := trimNonEmpty(params.Decision)
	if !ok {
		return nil, store.InvalidRequest("invalid exec.approval.resolve params: decision is required")
	}
	if decision != "allow-once" && decision != "allow-always" && decision != "deny" {
		return nil, store.InvalidRequest("invalid decision")
	}

	record, err := loadApprovalRecord(ctx, state, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, store.InvalidRequest("unknown approval id")
	}
	if record.Status != "pending" {
		return nil, store.InvalidRequest("approval is not pending")
	}

	resolvedAt := nowMs()
	resolvedBy := session.ClientID
	record.Status = "resolved"
	record.Decision = &decision
	record.ResolvedAtMs = &resolvedAt
	record.ResolvedBy = &resolvedBy
	if err := saveApprovalRecord(ctx, state, record); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "id": record.ID, "decision": decision}, nil
}

func approvalRecordResponse(record *execApprovalRecord) map[string]any {
	var decision any
	if record.Decision != nil {
		decision = *record.Decision
	}
	return map[string]any{
		"id": record.ID, "decision": decision,
		"createdAtMs": record.CreatedAtMs, "expiresAtMs": record.ExpiresAtMs, "status": record.Status,
	}
}

func readApprovalsSnapshot(ctx context.Context, state *gateway.State, key string) (map[string]any, error) {
	entry, err := state.Store().GetConfigEntry(ctx, key)
	if err != nil {
		return nil, err
	}
	exists := entry != nil
	file := json.RawMessage("{}")
	if exists {
		file = entry.Value
	}
	var hash any
	if exists {
		hash = stableValueHash(file)
	}
	return map[string]any{"path": key, "exists": exists, "hash": hash, "file": file}, nil
}

func saveApprovalsSnapshot(ctx context.Context, state *gateway.State, key string, file json.RawMessage, baseHash *string, method string) (map[string]any, error) {
	var probe any
	if len(file) == 0 {
		return nil, store.InvalidRequest("invalid %s params: file must be an object", method)
	}
	if err := json.Unmarshal(file, &probe); err != nil {
		return nil, store.InvalidRequest("invalid %s params: file must be valid JSON", method)
	}
	if _, ok := probe.(map[string]any); !ok {
		return nil, store.InvalidRequest("invalid %s params: file must be an object", method)
	}

	current, err := readApprovalsSnapshot(ctx, state, key)
	if err != nil {
		return nil, err
	}
	if current["exists"] == true {
		currentHash, _ := current["hash"].(string)
		if currentHash == "" {
			return nil, store.InvalidRequest("exec approvals base hash unavailable; re-run get and retry")
		}
		candidate, ok := trimNonEmpty(derefStr(baseHash))
		if !ok {
			return nil, store.InvalidRequest("exec approvals base hash required; re-run get and retry")
		}
		if candidate != currentHash {
			return nil, store.InvalidRequest("exec approvals changed since last load; re-run get and retry")
		}
	}

	if _, err := state.Store().SetConfigEntry(ctx, key, file); err != nil {
		return nil, err
	}
	return readApprovalsSnapshot(ctx, state, key)
}

func loadApprovalRecord(ctx context.Context, state *gateway.State, id string) (*execApprovalRecord, error) {
	entry, err := state.Store().GetConfigEntry(ctx, execApprovalRequestPrefix+id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	var record execApprovalRecord
	if err := json.Unmarshal(entry.Value, &record); err != nil {
		return nil, store.Unavailable("failed to decode approval record: %v", err)
	}
	return &record, nil
}

func saveApprovalRecord(ctx context.Context, state *gateway.State, record *execApprovalRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return store.Unavailable("failed to encode approval record: %v", err)
	}
	_, err = state.Store().SetConfigEntry(ctx, execApprovalRequestPrefix+record.ID, payload)
	return err
}

func stableValueHash(value json.RawMessage) string {
	h := fnv.New64a()
	_, _ = h.Write(value)
	return fmt.Sprintf("%016x", h.Sum64())
}

func clampUint64(v, lo, hi uint64) uint64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func derefStr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func execApprovalSleepOrDone(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
