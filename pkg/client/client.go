// Package client is a Go client for the session protocol: it keeps one
// websocket connected, heartbeats it, and transparently reconnects with a
// full resync when the link drops.
package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reverie-gm/reverie/internal/logger"
	"github.com/reverie-gm/reverie/internal/wire"
)

// Status is the connection state reported to the status handler.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

// Handler consumes one inbound frame. Handlers run on their own goroutine so
// a slow consumer cannot stall the read loop.
type Handler func(env wire.Envelope)

// Options configures a Client.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:3005/v1/session.
	URL string
	// Token is the session token or a connection ticket.
	Token string
	// AdventureID names the adventure to bind. May be empty when Token is a
	// ticket, which carries the adventure id itself.
	AdventureID string
	// HeartbeatInterval is the ping cadence. Defaults to 15s.
	HeartbeatInterval time.Duration
	// MaxBackoff caps the reconnect delay. Defaults to 30s.
	MaxBackoff time.Duration
}

// Client is a reconnecting session connection.
type Client struct {
	opts Options

	mu            sync.RWMutex
	conn          *websocket.Conn
	status        Status
	handlers      map[string]Handler
	statusHandler func(Status)
	lastPong      time.Time

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	loops     sync.WaitGroup
}

// New creates a client. Call Connect to establish the session.
func New(opts Options) *Client {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Client{
		opts:     opts,
		status:   StatusDisconnected,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
}

// On registers a handler for one frame type. Registration must happen before
// Connect.
func (c *Client) On(frameType string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[frameType] = handler
}

// OnStatus registers a connection status callback.
func (c *Client) OnStatus(handler func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusHandler = handler
}

// Connect dials the server and authenticates. The read and heartbeat loops
// keep running, reconnecting as needed, until Close.
func (c *Client) Connect() error {
	if err := c.dial(); err != nil {
		return err
	}

	c.loops.Add(2)
	go c.readLoop()
	go c.heartbeatLoop()
	return nil
}

func (c *Client) dial() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	auth, err := wire.NewEnvelope(wire.TypeAuthenticate, wire.AuthenticatePayload{
		Token:       c.opts.Token,
		AdventureID: c.opts.AdventureID,
	})
	if err != nil {
		conn.Close()
		return err
	}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return fmt.Errorf("authenticate: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.lastPong = time.Now()
	c.mu.Unlock()
	c.setStatus(StatusConnected)
	return nil
}

// readLoop reads frames until Close, redialing whenever the link drops. Each
// successful redial re-authenticates, and the server answers with a fresh
// adventure_loaded resync so no client-side replay bookkeeping is needed.
func (c *Client) readLoop() {
	defer c.loops.Done()
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		var env wire.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			logger.Debugf("[client] connection lost: %v", err)
			if !c.reconnect() {
				return
			}
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env wire.Envelope) {
	if env.Type == wire.TypePong {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
	}

	c.mu.RLock()
	handler := c.handlers[env.Type]
	c.mu.RUnlock()
	if handler != nil {
		go handler(env)
	}
}

// reconnect redials with exponential backoff. It returns false once the
// client is closed.
func (c *Client) reconnect() bool {
	c.setStatus(StatusReconnecting)

	backoff := time.Second
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(backoff):
		}

		err := c.dial()
		if err == nil {
			logger.Infof("[client] reconnected to %s", c.opts.URL)
			return true
		}
		logger.Debugf("[client] reconnect failed: %v", err)

		backoff *= 2
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}

// heartbeatLoop pings on a fixed cadence and drops the connection when two
// intervals pass without a pong, forcing the read loop into a reconnect.
func (c *Client) heartbeatLoop() {
	defer c.loops.Done()
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.mu.RLock()
		conn := c.conn
		lastPong := c.lastPong
		stale := c.status == StatusConnected && time.Since(lastPong) > 2*c.opts.HeartbeatInterval
		c.mu.RUnlock()

		if conn == nil {
			continue
		}
		if stale {
			logger.Warnf("[client] no pong in %v, dropping connection", time.Since(lastPong))
			conn.Close()
			continue
		}
		if err := c.sendFrame(wire.TypePing, nil); err != nil {
			logger.Tracef("[client] ping failed: %v", err)
		}
	}
}

// SendInput submits one player turn.
func (c *Client) SendInput(text string) error {
	return c.sendFrame(wire.TypePlayerInput, wire.PlayerInputPayload{Text: text})
}

// Abort asks the server to stop the in-flight turn.
func (c *Client) Abort() error {
	return c.sendFrame(wire.TypeAbort, nil)
}

// RequestRecap asks for a narrative recap.
func (c *Client) RequestRecap() error {
	return c.sendFrame(wire.TypeRecap, nil)
}

func (c *Client) sendFrame(frameType string, payload any) error {
	env, err := wire.NewEnvelope(frameType, payload)
	if err != nil {
		return err
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(env)
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Client) setStatus(status Status) {
	c.mu.Lock()
	changed := c.status != status
	c.status = status
	handler := c.statusHandler
	c.mu.Unlock()

	if changed && handler != nil {
		go handler(status)
	}
}

// Close shuts the client down. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.loops.Wait()
	return nil
}
