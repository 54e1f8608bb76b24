package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vela-systems/gatewire/pkg/protocol"
)

// maxWSMessageSize bounds a single inbound frame; larger messages close
// the connection with a protocol error at the websocket layer.
const maxWSMessageSize = 512 * 1024

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// Client owns one WebSocket connection: a read pump that parses and
// dispatches frames, and a write pump that serializes sends and pings.
// Only one request is in flight at a time per connection — the read pump
// blocks on Router.Dispatch before reading the next frame.
type Client struct {
	conn    *websocket.Conn
	state   *State
	router  *Router
	session *Session
	send    chan []byte
}

// NewClient wraps conn; session is nil until the handshake completes.
func NewClient(conn *websocket.Conn, state *State, router *Router) *Client {
	return &Client{conn: conn, state: state, router: router, send: make(chan []byte, 256)}
}

// Run blocks performing the handshake then serving requests until the
// connection closes. remoteIP and policy feed the hello-ok payload;
// authMode gates the connect credentials.
func (c *Client) Run(ctx context.Context, remoteIP *string, mode AuthMode, policy GatewayPolicy) {
	go c.writePump()
	defer c.Close()

	c.conn.SetReadLimit(maxWSMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	req, ok := c.readHandshakeRequest()
	if !ok {
		return
	}

	result, errResp := PerformHandshake(ctx, c.state, mode, policy, remoteIP, req, c)
	if errResp != nil {
		c.sendFrame(errResp)
		return
	}
	c.session = result.Session
	c.sendHelloOk(req.ID, result.Hello)

	defer func() {
		if err := c.state.UnregisterClient(ctx, c.session.ConnID); err != nil {
			slog.Warn("failed to unregister client", "conn", c.session.ConnID, "error", err)
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "conn", c.session.ConnID, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.handleFrame(ctx, data)
	}
}

func (c *Client) readHandshakeRequest() (*protocol.RequestFrame, bool) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	frameType, err := protocol.ParseFrameType(data)
	if err != nil || frameType != protocol.FrameTypeRequest {
		c.sendFrame(protocol.NewErrorResponse("connect", protocol.ErrInvalidRequest, "invalid handshake frame"))
		return nil, false
	}
	var req protocol.RequestFrame
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendFrame(protocol.NewErrorResponse("connect", protocol.ErrInvalidRequest, "malformed connect request"))
		return nil, false
	}
	return &req, true
}

func (c *Client) sendHelloOk(reqID string, hello *HelloOk) {
	data, err := json.Marshal(hello)
	if err != nil {
		slog.Error("marshal hello-ok failed", "error", err)
		return
	}
	var payload json.RawMessage = data
	c.sendFrame(protocol.NewOKResponse(reqID, payload))
}

// handleFrame parses and dispatches a single post-handshake frame.
func (c *Client) handleFrame(ctx context.Context, data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		c.sendFrame(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, "invalid frame: "+err.Error()))
		return
	}

	switch frameType {
	case protocol.FrameTypeRequest:
		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendFrame(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, "malformed request: "+err.Error()))
			return
		}
		resp := c.router.Dispatch(ctx, c.state, c.session, &req)
		c.sendFrame(resp)
	default:
		c.sendFrame(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, "unexpected frame type: "+frameType))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendFrame(frame interface{}) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("marshal frame failed", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("client send buffer full, dropping frame")
	}
}

// SendEvent pushes an event frame to the client, dropping it if the send
// buffer is full (slow consumers do not block the gateway).
func (c *Client) SendEvent(event *protocol.EventFrame) {
	c.sendFrame(event)
}

// Close shuts down the write pump; the connection itself closes once the
// pump drains.
func (c *Client) Close() {
	defer func() { recover() }()
	close(c.send)
}
