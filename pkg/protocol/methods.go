package protocol

// Scopes. ScopeAdmin grants every method; the others are exact-match
// except ReadScope, which WriteScope also satisfies.
const (
	ScopeAdmin     = "operator.admin"
	ScopeRead      = "operator.read"
	ScopeWrite     = "operator.write"
	ScopeApprovals = "operator.approvals"
	ScopePairing   = "operator.pairing"
)

// DefaultOperatorScopes is applied when role is "operator" and the
// connect frame supplied no scopes of its own.
func DefaultOperatorScopes() []string {
	return []string{ScopeAdmin, ScopeRead, ScopeWrite, ScopeApprovals, ScopePairing}
}

// NodeRoleMethods is the fixed allow-list for role "node". No other
// method (besides "health") may be invoked by a node connection.
var NodeRoleMethods = map[string]bool{
	"node.invoke.result": true,
	"node.event":          true,
	"skills.bins":         true,
}

// readMethods require operator.read (satisfied by read or write).
var readMethods = map[string]bool{
	"health": true, "status": true, "doctor.memory.status": true,
	"logs.tail": true, "channels.status": true, "usage.status": true,
	"usage.cost": true, "tts.status": true, "tts.providers": true,
	"models.list": true, "tools.catalog": true, "agents.list": true,
	"agent.identity.get": true, "skills.status": true, "voicewake.get": true,
	"sessions.list": true, "sessions.preview": true, "cron.list": true,
	"cron.status": true, "cron.runs": true, "system-presence": true,
	"last-heartbeat": true, "node.list": true, "node.describe": true,
	"chat.history": true, "config.get": true, "talk.config": true,
	"agents.files.list": true, "agents.files.get": true,
}

// writeMethods require operator.write.
var writeMethods = map[string]bool{
	"send": true, "agent": true, "agent.wait": true, "wake": true,
	"talk.mode": true, "tts.enable": true, "tts.disable": true,
	"tts.convert": true, "tts.setProvider": true, "voicewake.set": true,
	"node.invoke": true, "chat.send": true, "chat.abort": true,
	"browser.request": true,
}

// approvalsMethods require operator.approvals.
var approvalsMethods = map[string]bool{
	"exec.approval.request": true, "exec.approval.waitDecision": true,
	"exec.approval.resolve": true,
}

// pairingMethods require operator.pairing.
var pairingMethods = map[string]bool{
	"node.pair.request": true, "node.pair.list": true, "node.pair.approve": true,
	"node.pair.reject": true, "node.pair.verify": true, "device.pair.list": true,
	"device.pair.approve": true, "device.pair.reject": true, "device.pair.remove": true,
	"device.token.rotate": true, "device.token.revoke": true, "node.rename": true,
}

// adminMethods require operator.admin outright (beyond the prefix rules below).
var adminMethods = map[string]bool{
	"channels.logout": true, "agents.create": true, "agents.update": true,
	"agents.delete": true, "skills.install": true, "skills.update": true,
	"cron.add": true, "cron.update": true, "cron.remove": true, "cron.run": true,
	"sessions.patch": true, "sessions.reset": true, "sessions.delete": true,
	"sessions.compact": true, "connect": true, "set-heartbeats": true,
	"system-event": true, "agents.files.set": true,
}

// RequiredScope returns the scope a method requires, or "" if the method
// has no policy entry (callers treat that as requiring ScopeAdmin).
func RequiredScope(method string) string {
	switch {
	case approvalsMethods[method]:
		return ScopeApprovals
	case pairingMethods[method]:
		return ScopePairing
	case readMethods[method]:
		return ScopeRead
	case writeMethods[method]:
		return ScopeWrite
	case adminMethods[method]:
		return ScopeAdmin
	case hasAdminPrefix(method):
		return ScopeAdmin
	default:
		return ""
	}
}

func hasAdminPrefix(method string) bool {
	for _, prefix := range []string{"exec.approvals.", "config.", "wizard.", "update."} {
		if len(method) >= len(prefix) && method[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// BaseMethods is every method name the server advertises in
// features.methods, whether or not it has a working handler.
var BaseMethods = []string{
	"connect", "health", "status",
	"config.get", "config.set", "config.apply", "config.patch", "config.schema",
	"sessions.list", "sessions.preview", "sessions.patch", "sessions.reset",
	"sessions.delete", "sessions.compact",
	"chat.send", "chat.history", "chat.abort",
	"agent", "agent.wait", "agent.identity.get",
	"send", "wake",
	"cron.list", "cron.status", "cron.add", "cron.update", "cron.remove",
	"cron.run", "cron.runs",
	"node.pair.request", "node.pair.list", "node.pair.approve", "node.pair.reject",
	"node.pair.verify", "node.rename", "node.list", "node.describe",
	"node.invoke", "node.invoke.result", "node.event",
	"device.pair.list", "device.pair.approve", "device.pair.reject",
	"device.pair.remove", "device.pair.request",
	"device.token.rotate", "device.token.revoke",
	"channels.status", "channels.logout",
	"talk.mode", "talk.config",
	"tts.enable", "tts.disable", "tts.convert", "tts.setProvider",
	"tts.status", "tts.providers",
	"voicewake.get", "voicewake.set",
	"exec.approval.request", "exec.approval.waitDecision", "exec.approval.resolve",
	"exec.approvals.get", "exec.approvals.set",
	"exec.approvals.node.get", "exec.approvals.node.set",
	"usage.status", "usage.cost",
	"models.list", "tools.catalog",
	"agents.list", "agents.create", "agents.update", "agents.delete",
	"agents.files.list", "agents.files.get", "agents.files.set",
	"skills.status", "skills.install", "skills.update", "skills.bins",
	"logs.tail",
	"doctor.memory.status",
	"browser.request",
	"wizard.start", "wizard.step", "wizard.cancel",
	"update.check", "update.run",
	"system-presence", "last-heartbeat", "set-heartbeats", "system-event",
}

// ImplementedMethods is the subset of BaseMethods whose handler does real
// work. Everything else in BaseMethods answers with ErrUnavailable
// "recognized but not implemented yet" when dispatched.
var ImplementedMethods = map[string]bool{
	"connect": true, "health": true, "status": true,
	"config.get": true, "config.set": true, "config.apply": true,
	"config.patch": true, "config.schema": true,
	"sessions.list": true, "sessions.preview": true, "sessions.patch": true,
	"sessions.reset": true, "sessions.delete": true, "sessions.compact": true,
	"chat.send": true, "chat.history": true, "chat.abort": true,
	"agent": true, "agent.wait": true, "agent.identity.get": true,
	"cron.list": true, "cron.status": true, "cron.add": true, "cron.update": true,
	"cron.remove": true, "cron.run": true, "cron.runs": true,
	"node.pair.request": true, "node.pair.list": true, "node.pair.approve": true,
	"node.pair.reject": true, "node.pair.verify": true, "node.rename": true,
	"node.list": true, "node.describe": true,
	"node.invoke": true, "node.invoke.result": true, "node.event": true,
	"exec.approval.request": true, "exec.approval.waitDecision": true,
	"exec.approval.resolve": true, "exec.approvals.get": true, "exec.approvals.set": true,
	"exec.approvals.node.get": true, "exec.approvals.node.set": true,
	"device.pair.request": true, "device.pair.list": true, "device.pair.approve": true,
	"device.pair.reject": true, "device.pair.remove": true,
	"device.token.rotate": true, "device.token.revoke": true,
}

// Events is the full advertised event catalog (server-initiated frames,
// §9 Open Question (c): the core may never emit them, but the catalog is
// still advertised).
var Events = []string{
	EventConnectChallenge, EventAgent, EventChat, EventPresence, EventTick,
	EventTalkMode, EventShutdown, EventHealth, EventHeartbeat, EventCron,
	EventNodePairRequested, EventNodePairResolved, EventNodeInvokeRequest,
	EventDevicePairReq, EventDevicePairRes, EventVoicewakeChanged,
	EventExecApprovalReq, EventExecApprovalRes, EventUpdateAvailable,
}
