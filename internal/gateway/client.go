// Package gateway implements the client side of the gateway protocol: a
// persistent websocket connection with a challenge-response handshake,
// request/response correlation and per-session chat accumulation.
package gateway

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"yqhp/flowrunner/internal/config"
	"yqhp/flowrunner/pkg/logger"
	"yqhp/flowrunner/pkg/types"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultCallTimeout      = 30 * time.Second
	defaultChatTimeout      = 10 * time.Minute

	protocolMin   = 1
	protocolMax   = 1
	clientName    = "flowrunner"
	clientVersion = "0.1.0"
	clientRole    = "operator"
)

// connectScopes are the capabilities declared during the handshake.
var connectScopes = []string{"chat", "config"}

// EventHandler receives gateway events that are not handled internally.
type EventHandler func(event string, payload json.RawMessage)

type callResult struct {
	payload json.RawMessage
	err     error
}

// pendingCall is one entry of the request/response correlation table.
type pendingCall struct {
	method string
	ch     chan callResult
}

// Client is a gateway protocol client. One Client owns at most one
// connection at a time; the correlation table and chat buffers are scoped to
// the lifetime of the current connection.
type Client struct {
	cfg config.GatewayConfig

	mu      sync.Mutex // guards conn and authResult
	conn    *websocket.Conn
	writeMu sync.Mutex // serializes frame writes

	connected     atomic.Bool
	authenticated atomic.Bool
	challenged    atomic.Bool
	nextID        atomic.Int64

	pendingMu sync.Mutex
	pending   map[string]*pendingCall

	chatMu  sync.Mutex
	buffers map[string]*chatBuffer
	waiters map[string][]chan string

	authResult chan error
	onEvent    EventHandler
}

// NewClient creates a gateway client from the given configuration.
func NewClient(cfg config.GatewayConfig) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = defaultChatTimeout
	}
	return &Client{
		cfg:     cfg,
		pending: make(map[string]*pendingCall),
		buffers: make(map[string]*chatBuffer),
		waiters: make(map[string][]chan string),
	}
}

// OnEvent registers a handler for events the client does not consume itself.
func (c *Client) OnEvent(h EventHandler) {
	c.onEvent = h
}

// Connected reports whether the transport is open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Authenticated reports whether the handshake completed successfully.
func (c *Client) Authenticated() bool {
	return c.authenticated.Load()
}

// Connect opens the websocket connection and performs the challenge-response
// handshake: the client sends nothing until the gateway pushes a
// connect.challenge event, then answers it with a connect request carrying
// the auth token. Connect returns exactly once, on authentication success or
// on the first failure (rejection, transport error, or close before auth).
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected.Load() {
		c.mu.Unlock()
		return NewConnectError("already connected", nil)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, toWebSocketURL(c.cfg.URL), nil)
	if err != nil {
		c.mu.Unlock()
		return NewConnectError("dial failed", err)
	}

	c.conn = conn
	c.challenged.Store(false)
	c.authenticated.Store(false)
	authResult := make(chan error, 1)
	c.authResult = authResult

	// Fresh per-connection state: the correlation table and chat buffers
	// do not survive a reconnect.
	c.pendingMu.Lock()
	c.pending = make(map[string]*pendingCall)
	c.pendingMu.Unlock()
	c.chatMu.Lock()
	c.buffers = make(map[string]*chatBuffer)
	c.waiters = make(map[string][]chan string)
	c.chatMu.Unlock()

	c.connected.Store(true)
	c.mu.Unlock()

	go c.readLoop(conn)

	// The handshake timeout also bounds the wait for the challenge and the
	// auth response; the dial deadline alone does not cover a gateway that
	// accepts the transport but never challenges.
	timer := time.NewTimer(c.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case err := <-authResult:
		if err != nil {
			c.Close()
			return err
		}
		return nil
	case <-timer.C:
		c.Close()
		return NewConnectError("handshake timed out", nil)
	case <-ctx.Done():
		c.Close()
		return NewConnectError("connect cancelled", ctx.Err())
	}
}

// Call sends a request frame and waits for the matching response. Every call
// carries the configured timeout (30 seconds by default); on expiry the
// pending entry is removed and a late response is silently dropped.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !c.connected.Load() {
		return nil, NewClosedError()
	}

	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, NewCallError(method, "marshal params: "+err.Error())
		}
		raw = data
	}

	id := strconv.FormatInt(c.nextID.Add(1), 10)
	pc := &pendingCall{method: method, ch: make(chan callResult, 1)}

	c.pendingMu.Lock()
	c.pending[id] = pc
	c.pendingMu.Unlock()

	frame := &types.Frame{Type: types.FrameRequest, ID: id, Method: method, Params: raw}
	if err := c.writeFrame(frame); err != nil {
		c.removePending(id)
		return nil, NewConnectError("send "+method+" failed", err)
	}

	timer := time.NewTimer(c.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case res := <-pc.ch:
		return res.payload, res.err
	case <-timer.C:
		c.removePending(id)
		return nil, NewCallTimeoutError(method, c.cfg.CallTimeout)
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	}
}

// Close tears down the connection and resets the connected and authenticated
// flags. Outstanding calls are deliberately not rejected here; they remain
// pending until their own timeouts fire.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.connected.Store(false)
	c.authenticated.Store(false)

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		var frame types.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Debug("gateway: dropping unparsable frame: %v", err)
			continue
		}
		c.handleFrame(&frame)
	}
}

func (c *Client) handleFrame(f *types.Frame) {
	switch f.Type {
	case types.FrameResponse:
		c.resolvePending(f)
	case types.FrameEvent:
		switch f.Event {
		case types.EventChallenge:
			c.handleChallenge()
		case types.EventChat:
			c.handleChatEvent(f.Payload)
		default:
			if c.onEvent != nil {
				c.onEvent(f.Event, f.Payload)
			}
		}
	}
}

// handleChallenge answers the first challenge event with a connect request.
// A second challenge on the same connection is ignored.
func (c *Client) handleChallenge() {
	if c.challenged.Swap(true) {
		logger.Debug("gateway: duplicate challenge ignored")
		return
	}

	go func() {
		params := types.ConnectParams{
			MinProtocol: protocolMin,
			MaxProtocol: protocolMax,
			Client:      clientName,
			Role:        clientRole,
			Scopes:      connectScopes,
			Auth:        types.ConnectAuth{Token: c.cfg.Token},
			Locale:      "en-US",
			UserAgent:   clientName + "/" + clientVersion,
		}
		if _, err := c.Call(context.Background(), "connect", params); err != nil {
			c.deliverAuth(NewConnectError("authentication failed", err))
			return
		}
		c.authenticated.Store(true)
		c.deliverAuth(nil)
	}()
}

func (c *Client) deliverAuth(err error) {
	c.mu.Lock()
	ch := c.authResult
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

func (c *Client) resolvePending(f *types.Frame) {
	c.pendingMu.Lock()
	pc := c.pending[f.ID]
	delete(c.pending, f.ID)
	c.pendingMu.Unlock()

	if pc == nil {
		// Late response for a timed-out or unknown request.
		logger.Debug("gateway: dropping response for unknown id %s", f.ID)
		return
	}

	if !f.OK {
		msg := f.Error
		if msg == "" {
			msg = "request rejected"
		}
		pc.ch <- callResult{err: NewCallError(pc.method, msg)}
		return
	}
	pc.ch <- callResult{payload: f.Payload}
}

func (c *Client) removePending(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) writeFrame(f *types.Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return NewClosedError()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(f)
}

// handleDisconnect reacts to a read loop ending. The read loop of a closed or
// replaced connection must not touch the state of the current one, so the
// event is dropped unless conn is still current.
func (c *Client) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	current := c.conn
	c.mu.Unlock()
	if current != conn {
		return
	}

	c.connected.Store(false)
	if !c.authenticated.Load() {
		c.deliverAuth(NewConnectError("connection closed before authentication", err))
	}
}

// toWebSocketURL converts an HTTP(s) URL or bare host:port to a ws:// URL.
func toWebSocketURL(raw string) string {
	if strings.HasPrefix(raw, "https://") {
		return "wss://" + strings.TrimPrefix(raw, "https://")
	}
	if strings.HasPrefix(raw, "http://") {
		return "ws://" + strings.TrimPrefix(raw, "http://")
	}
	if strings.HasPrefix(raw, "ws://") || strings.HasPrefix(raw, "wss://") {
		return raw
	}
	return "ws://" + raw
}
