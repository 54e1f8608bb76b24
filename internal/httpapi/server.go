// Package httpapi exposes the gateway over plain HTTP: the WebSocket
// upgrade endpoint operators and nodes connect through, plus unauthenticated
// health/readiness probes for process supervisors and load balancers.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vela-systems/gatewire/internal/config"
	"github.com/vela-systems/gatewire/internal/gateway"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server wires the gateway's WebSocket endpoint and health probes onto a
// *http.ServeMux.
type Server struct {
	state    *gateway.State
	router   *gateway.Router
	cfg      *config.Config
	authMode gateway.AuthMode
	policy   gateway.GatewayPolicy
	throttle *Throttle
}

// New builds a Server bound to state/router, gated by cfg's auth mode and
// connection-level policy limits.
func New(state *gateway.State, router *gateway.Router, cfg *config.Config, authMode gateway.AuthMode) *Server {
	return &Server{
		state:    state,
		router:   router,
		cfg:      cfg,
		authMode: authMode,
		policy: gateway.GatewayPolicy{
			MaxPayload:       cfg.MaxPayloadBytes,
			MaxBufferedBytes: cfg.MaxBufferedBytes,
			TickIntervalMs:   cfg.TickIntervalMs,
		},
		throttle: NewThrottle(120, 20),
	}
}

// Mux builds the http.ServeMux: /ws for the gateway protocol, /healthz and
// /readyz for process supervisors, /info for a version/feature probe.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.throttle.Wrap(s.handleWebSocket))
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/info", s.handleInfo)
	return mux
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	remoteIP := clientIP(r)
	client := gateway.NewClient(conn, s.state, s.router)
	client.Run(r.Context(), &remoteIP, s.authMode, s.policy)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	payload, err := s.state.HealthPayload(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"authMode": s.state.AuthModeLabel(),
		"methods":  s.state.Methods(),
		"events":   s.state.Events(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
