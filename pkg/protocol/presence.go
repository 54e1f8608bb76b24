package protocol

// PresenceEntry describes one connected client for presence broadcasts and
// the operator snapshot payload.
type PresenceEntry struct {
	Host            *string  `json:"host,omitempty"`
	IP              *string  `json:"ip,omitempty"`
	Version         *string  `json:"version,omitempty"`
	Platform        *string  `json:"platform,omitempty"`
	DeviceFamily    *string  `json:"deviceFamily,omitempty"`
	ModelIdentifier *string  `json:"modelIdentifier,omitempty"`
	Mode            *string  `json:"mode,omitempty"`
	LastInputSecs   *uint64  `json:"lastInputSeconds,omitempty"`
	Reason          *string  `json:"reason,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Text            *string  `json:"text,omitempty"`
	TS              uint64   `json:"ts"`
	DeviceID        *string  `json:"deviceId,omitempty"`
	Roles           []string `json:"roles,omitempty"`
	Scopes          []string `json:"scopes,omitempty"`
	InstanceID      *string  `json:"instanceId,omitempty"`
}

// Snapshot is the full state payload sent to operators on connect and on
// state.snapshot requests.
type Snapshot struct {
	Presence        []PresenceEntry `json:"presence"`
	Health          interface{}     `json:"health"`
	StateVersion    StateVersion    `json:"stateVersion"`
	UptimeMs        uint64          `json:"uptimeMs"`
	ConfigPath      *string         `json:"configPath,omitempty"`
	StateDir        *string         `json:"stateDir,omitempty"`
	SessionDefaults interface{}     `json:"sessionDefaults,omitempty"`
	AuthMode        *string         `json:"authMode,omitempty"`
	UpdateAvailable interface{}     `json:"updateAvailable,omitempty"`
}
