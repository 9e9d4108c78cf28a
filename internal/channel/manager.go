// Package channel maintains one live WebSocket connection per conversation
// topic and presents inbound frames as typed events to subscribers.
// Transport and protocol errors are recovered internally and never escape.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatcore/internal/domain"
	"chatcore/internal/event"
)

// State is the connection state of the manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// TokenSource yields a currently valid access token. The token is fetched
// at every connect attempt, never cached, so a refresh in flight cannot be
// raced.
type TokenSource interface {
	ValidAccessToken(ctx context.Context) (string, error)
}

// Manager owns one channel connection. Exactly one instance should exist
// per open conversation screen.
type Manager struct {
	wsBase  string
	tokens  TokenSource
	dialer  *websocket.Dialer
	events  *event.Emitter
	backoff time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	topicID string
	conn    *websocket.Conn
	state   State
	want    bool
	pending *time.Timer
	gen     int // connection generation; stale pumps and timers no-op
}

// Option customizes a Manager.
type Option func(*Manager)

// WithBackoff overrides the fixed reconnect delay (default 2s).
func WithBackoff(d time.Duration) Option {
	return func(m *Manager) { m.backoff = d }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func NewManager(wsBase string, tokens TokenSource, opts ...Option) *Manager {
	m := &Manager{
		wsBase:  wsBase,
		tokens:  tokens,
		dialer:  websocket.DefaultDialer,
		events:  event.NewEmitter(),
		backoff: 2 * time.Second,
		log:     slog.Default(),
		state:   Disconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// On registers a listener for a named event and returns its subscription ID.
func (m *Manager) On(name string, fn event.Handler) int { return m.events.On(name, fn) }

// Off removes a listener.
func (m *Manager) Off(name string, id int) { m.events.Off(name, id) }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Topic returns the currently desired topic, or "".
func (m *Manager) Topic() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.want {
		return ""
	}
	return m.topicID
}

// Connect opens the channel for the given conversation topic, tearing down
// any prior connection first. The auth frame carries a token fetched from
// the token source at this moment. Transport failures are not returned:
// they enter the reconnect loop. Only a missing session is an error.
func (m *Manager) Connect(ctx context.Context, topicID string) error {
	m.mu.Lock()
	m.cancelPendingLocked()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.gen++
	gen := m.gen
	m.want = true
	m.topicID = topicID
	m.state = Connecting
	m.mu.Unlock()

	return m.dial(ctx, gen)
}

// Disconnect cancels any pending reconnect and closes the socket. The
// manager will not reconnect until Connect is called again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.want = false
	m.gen++
	m.cancelPendingLocked()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = Disconnected
}

// SendMessage sends an outbound message frame. Fire-and-forget: the only
// acknowledgement is the later inbound echo.
func (m *Manager) SendMessage(content string) error {
	return m.send(domain.Frame{Event: domain.EventMessage, Content: content})
}

// SendTyping signals that the local user is typing.
func (m *Manager) SendTyping() error {
	return m.send(domain.Frame{Event: domain.EventTyping})
}

// SendStopTyping signals that the local user stopped typing.
func (m *Manager) SendStopTyping() error {
	return m.send(domain.Frame{Event: domain.EventStopTyping})
}

// SendRead acknowledges the conversation as read.
func (m *Manager) SendRead() error {
	return m.send(domain.Frame{Event: domain.EventRead})
}

func (m *Manager) send(f domain.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Open || m.conn == nil {
		return domain.ErrNotConnected
	}
	if err := m.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Event, err)
	}
	return nil
}

func (m *Manager) dial(ctx context.Context, gen int) error {
	token, err := m.tokens.ValidAccessToken(ctx)
	if err != nil {
		m.mu.Lock()
		if gen == m.gen {
			m.want = false
			m.state = Disconnected
		}
		m.mu.Unlock()
		return fmt.Errorf("channel auth: %w", err)
	}

	m.mu.Lock()
	if !m.want || gen != m.gen {
		m.mu.Unlock()
		return nil
	}
	target := m.wsBase + "/ws/chats/" + url.PathEscape(m.topicID)
	m.mu.Unlock()

	conn, _, err := m.dialer.DialContext(ctx, target, nil)
	if err != nil {
		m.log.Warn("channel dial failed", "topic", m.Topic(), "error", err)
		m.events.Emit(domain.EventError, err)
		m.scheduleReconnect(gen)
		return nil
	}

	m.mu.Lock()
	if !m.want || gen != m.gen {
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.conn = conn
	m.state = Open
	m.mu.Unlock()

	if err := conn.WriteJSON(domain.Frame{Event: domain.EventAuth, Token: token}); err != nil {
		m.log.Warn("channel auth frame failed", "error", err)
		conn.Close()
		m.handleClose(gen)
		return nil
	}

	m.events.Emit(domain.EventOpen, nil)
	go m.readPump(conn, gen)
	return nil
}

func (m *Manager) readPump(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var f domain.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			m.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		if f.Event == "" {
			m.log.Warn("dropping frame without event discriminator")
			continue
		}
		m.events.Emit(f.Event, &f)
	}
	m.handleClose(gen)
}

// handleClose runs when the socket drops, clean or not. While the caller
// still wants this topic, a single reconnect attempt is scheduled after the
// fixed backoff; this repeats until Disconnect.
func (m *Manager) handleClose(gen int) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.want {
		m.state = Reconnecting
	} else {
		m.state = Disconnected
	}
	m.mu.Unlock()

	m.events.Emit(domain.EventClose, nil)
	m.scheduleReconnect(gen)
}

func (m *Manager) scheduleReconnect(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.want || gen != m.gen || m.pending != nil {
		return
	}
	m.state = Reconnecting
	m.pending = time.AfterFunc(m.backoff, func() {
		m.mu.Lock()
		m.pending = nil
		if !m.want || gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.state = Connecting
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.dial(ctx, gen)
	})
}

func (m *Manager) cancelPendingLocked() {
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
}
