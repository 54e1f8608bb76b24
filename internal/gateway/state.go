// Package gateway implements the operator WebSocket surface: connection
// lifecycle, presence/health snapshots, and RPC dispatch.
package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vela-systems/gatewire/internal/channels"
	"github.com/vela-systems/gatewire/internal/cron"
	"github.com/vela-systems/gatewire/internal/ratelimit"
	"github.com/vela-systems/gatewire/internal/store"
	"github.com/vela-systems/gatewire/pkg/protocol"
)

// EventSender is the minimal surface State needs to push an event frame to
// a live connection. *Client implements it.
type EventSender interface {
	SendEvent(event *protocol.EventFrame)
}

// ClientInfo describes one live WebSocket connection.
type ClientInfo struct {
	ConnID          string
	ClientID        string
	DisplayName     *string
	ClientVersion   string
	Platform        string
	DeviceFamily    *string
	ModelIdentifier *string
	Mode            string
	Role            string
	Scopes          []string
	InstanceID      *string
	RemoteIP        *string
	ConnectedAt     time.Time
	ConnectedAtMs   uint64
	Sender          EventSender
}

// State is the shared, process-wide application state: the connection
// registry, presence/health version counters, both rate limiters, and the
// cron engine, wrapping the embedded store.
type State struct {
	store        *store.Store
	cronEngine   *cron.Engine
	startedAt    time.Time
	methods      []string
	events       []string
	runtimeVer   string
	authModeName string
	dbPath       string
	cronRunsLim  int

	authLimiter    *ratelimit.AuthLimiter
	controlLimiter *ratelimit.AuthLimiter

	notifier *channels.Dispatcher

	presenceVersion atomic.Int64
	healthVersion   atomic.Int64

	mu      sync.RWMutex
	clients map[string]*ClientInfo
}

// NewState builds a State bound to st and engine. runtimeVersion and
// authModeName feed the health payload; dbPath/cronRunsLimit feed
// cron.status.
func NewState(
	st *store.Store,
	engine *cron.Engine,
	methods, events []string,
	runtimeVersion, authModeName, dbPath string,
	cronRunsLimit int,
	authMaxAttempts uint32, authWindow time.Duration,
) *State {
	return &State{
		store:          st,
		cronEngine:     engine,
		startedAt:      time.Now(),
		methods:        methods,
		events:         events,
		runtimeVer:     runtimeVersion,
		authModeName:   authModeName,
		dbPath:         dbPath,
		cronRunsLim:    cronRunsLimit,
		authLimiter:    ratelimit.NewAuthLimiter(authMaxAttempts, authWindow),
		controlLimiter: ratelimit.NewAuthLimiter(3, time.Minute),
		clients:        make(map[string]*ClientInfo),
	}
}

// SetNotifier wires the chat-platform dispatcher used to announce device
// pairing approvals. Optional: a nil or never-called SetNotifier leaves
// device.pair.approve silent on the notification side, only minting the
// token.
func (s *State) SetNotifier(n *channels.Dispatcher) { s.notifier = n }
func (s *State) Notifier() *channels.Dispatcher     { return s.notifier }

func (s *State) Store() *store.Store     { return s.store }
func (s *State) CronEngine() *cron.Engine { return s.cronEngine }
func (s *State) Methods() []string       { return append([]string(nil), s.methods...) }
func (s *State) Events() []string        { return append([]string(nil), s.events...) }
func (s *State) AuthModeLabel() string   { return s.authModeName }

func (s *State) AuthRateLimiter() *ratelimit.AuthLimiter    { return s.authLimiter }
func (s *State) ControlPlaneRateLimiter() *ratelimit.AuthLimiter { return s.controlLimiter }

// UptimeMs reports milliseconds since the State was constructed.
func (s *State) UptimeMs() uint64 {
	return uint64(time.Since(s.startedAt).Milliseconds())
}

// runtimeNodeID mirrors the node-identity rule: prefer the client's stable
// instance ID, fall back to its connection-scoped client ID.
func runtimeNodeID(c *ClientInfo) string {
	if c.InstanceID != nil && *c.InstanceID != "" {
		return *c.InstanceID
	}
	return c.ClientID
}

// RegisterClient adds conn to the registry and, for role="node",
// upserts (or re-marks online) the corresponding Node row.
func (s *State) RegisterClient(ctx context.Context, c *ClientInfo) error {
	s.mu.Lock()
	s.clients[c.ConnID] = c
	s.mu.Unlock()
	s.presenceVersion.Add(1)

	if c.Role != "node" {
		return nil
	}

	nodeID := runtimeNodeID(c)
	displayName := nodeID
	if c.DisplayName != nil && *c.DisplayName != "" {
		displayName = *c.DisplayName
	}
	meta, err := json.Marshal(map[string]any{
		"remoteIp":        c.RemoteIP,
		"modelIdentifier": c.ModelIdentifier,
		"version":         c.ClientVersion,
	})
	if err != nil {
		return err
	}

	node := &store.Node{
		ID:           nodeID,
		DisplayName:  displayName,
		Platform:     c.Platform,
		DeviceFamily: c.DeviceFamily,
		Commands:     []string{},
		Paired:       true,
		Status:       "online",
		LastSeenMs:   c.ConnectedAtMs,
		Metadata:     meta,
	}
	return s.store.UpsertNode(ctx, node)
}

// UnregisterClient removes connID from the registry and, for role="node",
// marks the corresponding Node offline.
func (s *State) UnregisterClient(ctx context.Context, connID string) error {
	s.mu.Lock()
	c, ok := s.clients[connID]
	if ok {
		delete(s.clients, connID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	s.presenceVersion.Add(1)

	if c.Role != "node" {
		return nil
	}
	nodeID := runtimeNodeID(c)
	node, err := s.store.GetNode(ctx, nodeID)
	if err != nil || node == nil {
		return err
	}
	node.Status = "offline"
	node.LastSeenMs = uint64(time.Now().UnixMilli())
	return s.store.UpsertNode(ctx, node)
}

// ConnectionCount reports the number of live connections.
func (s *State) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// PresenceEntries snapshots the connection registry into wire entries.
func (s *State) PresenceEntries() []protocol.PresenceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	entries := make([]protocol.PresenceEntry, 0, len(s.clients))
	for _, c := range s.clients {
		host := c.DisplayName
		if host == nil {
			id := c.ClientID
			host = &id
		}
		version := c.ClientVersion
		platform := c.Platform
		mode := c.Mode
		reason := "connect"
		lastInput := uint64(now.Sub(c.ConnectedAt).Seconds())
		var scopes []string
		if len(c.Scopes) > 0 {
			scopes = c.Scopes
		}
		entries = append(entries, protocol.PresenceEntry{
			Host: host, IP: c.RemoteIP, Version: &version, Platform: &platform,
			DeviceFamily: c.DeviceFamily, ModelIdentifier: c.ModelIdentifier, Mode: &mode,
			LastInputSecs: &lastInput, Reason: &reason, TS: c.ConnectedAtMs,
			Roles: []string{c.Role}, Scopes: scopes, InstanceID: c.InstanceID,
		})
	}
	return entries
}

// HealthPayload builds the "health" method / HTTP /healthz response body.
func (s *State) HealthPayload(ctx context.Context) (map[string]any, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	nodes, err := s.store.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	jobs, err := s.store.ListCronJobs(ctx)
	if err != nil {
		return nil, err
	}
	chats, _ := s.store.ListChatMessages(ctx, "agent:main:main", 0)

	payload := map[string]any{
		"ok":               true,
		"ts":               uint64(time.Now().UnixMilli()),
		"runtime":          "go",
		"version":          s.runtimeVer,
		"protocolVersion":  protocol.ProtocolVersion,
		"authMode":         s.authModeName,
		"uptimeMs":         s.UptimeMs(),
		"connectedClients": s.ConnectionCount(),
		"sessions":         len(sessions),
		"chatMessages":     len(chats),
		"cronJobs":         len(jobs),
		"nodes":            len(nodes),
	}
	s.healthVersion.Add(1)
	return payload, nil
}

// Snapshot builds the full state.snapshot / connect-ack payload.
func (s *State) Snapshot(ctx context.Context) (*protocol.Snapshot, error) {
	health, err := s.HealthPayload(ctx)
	if err != nil {
		return nil, err
	}
	configPath := s.dbPath
	authMode := s.authModeName
	return &protocol.Snapshot{
		Presence: s.PresenceEntries(),
		Health:   health,
		StateVersion: protocol.StateVersion{
			Presence: s.presenceVersion.Load(),
			Health:   s.healthVersion.Load(),
		},
		UptimeMs:   s.UptimeMs(),
		ConfigPath: &configPath,
		AuthMode:   &authMode,
	}, nil
}

// CronStatus builds the cron.status payload.
func (s *State) CronStatus(ctx context.Context) (map[string]any, error) {
	jobs, err := s.store.ListCronJobs(ctx)
	if err != nil {
		return nil, err
	}
	runs, err := s.store.ListCronRuns(ctx, "", 50)
	if err != nil {
		return nil, err
	}
	enabled, lastTick, pollMs := s.cronEngine.Status()
	return map[string]any{
		"enabled":        enabled,
		"jobs":           jobs,
		"runs":           runs,
		"lastTickMs":     lastTick,
		"pollIntervalMs": pollMs,
		"storePath":      s.dbPath,
	}, nil
}

// PublishEventFor pushes event/payload to targetConnID if it is live, and
// otherwise to every connected client (a broadcast). A nil or unknown
// targetConnID falls back to broadcast so server-originated events (e.g. a
// cron-triggered run) still reach any operator watching.
func (s *State) PublishEventFor(targetConnID *string, event string, payload any) {
	frame := protocol.NewEvent(event, payload)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if targetConnID != nil {
		if c, ok := s.clients[*targetConnID]; ok && c.Sender != nil {
			c.Sender.SendEvent(frame)
			return
		}
	}
	for _, c := range s.clients {
		if c.Sender != nil {
			c.Sender.SendEvent(frame)
		}
	}
}

// SanitizeScopes trims and deduplicates a raw scope list, dropping blanks.
func SanitizeScopes(scopes []string) []string {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, raw := range scopes {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
