// Package conn maintains the persistent streaming connection that drives
// a mounted conversation view: one websocket per view, indefinite
// reconnection with a capped delay schedule, and FIFO delivery of named
// server events to registered handlers.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/thaya-health/consult/internal/types"
)

// Inbound and outbound event names used by the conversation protocol.
const (
	EventMessage      = "message"
	EventTranscript   = "transcript"
	EventEndRecording = "end_recording"
)

// ErrConnectionUnavailable is returned by Send and SendBinary when the
// connection is not open. Payloads are never silently dropped.
var ErrConnectionUnavailable = errors.New("conn: connection not open")

const (
	defaultReconnectDelay    = 1 * time.Second
	defaultReconnectDelayMax = 5 * time.Second
	defaultWriteTimeout      = 10 * time.Second
)

// Handler receives the raw JSON payload of a named server event.
// Handlers run on the read loop goroutine in delivery order; they must
// not call On or Close on the owning Manager.
type Handler func(data json.RawMessage)

// Config holds configuration for a connection Manager.
// Zero values are replaced with defaults.
type Config struct {
	URL               string        // websocket endpoint
	ReconnectDelay    time.Duration // initial reconnect delay, default 1s
	ReconnectDelayMax time.Duration // delay cap, default 5s
	WriteTimeout      time.Duration // per-write deadline, default 10s
}

// envelope frames every text message on the wire.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// socket is the subset of the websocket connection the Manager uses.
// *websocket.Conn satisfies it; tests substitute a fake through dial.
type socket interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Manager owns one persistent streaming connection. Create with New,
// establish with Open, tear down with Close. Close is idempotent and
// detaches all handlers before the underlying channel goes away, so no
// event from a stale connection is ever delivered into a torn-down view.
type Manager struct {
	cfg  Config
	dial func(ctx context.Context, rawURL string) (socket, error)

	// hmu guards the handler registry and is held for the duration of
	// each dispatch, which makes Close's detach synchronous.
	hmu      sync.Mutex
	handlers map[string][]Handler

	mu      sync.Mutex
	sock    socket
	state   types.ConnState
	onState func(types.ConnState)
	opened  bool
	closed  bool
	cancel  context.CancelFunc

	wmu sync.Mutex // serializes writes to the socket
}

// New creates a Manager. The connection is not established until Open.
func New(cfg Config) *Manager {
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.ReconnectDelayMax == 0 {
		cfg.ReconnectDelayMax = defaultReconnectDelayMax
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	return &Manager{
		cfg:      cfg,
		dial:     dialWebsocket,
		handlers: make(map[string][]Handler),
		state:    types.ConnConnecting,
	}
}

func dialWebsocket(ctx context.Context, rawURL string) (socket, error) {
	c, _, err := websocket.Dial(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// On registers a handler for a named server event. Registration is only
// valid before Close; handlers registered for the same event are invoked
// in registration order.
func (m *Manager) On(event string, h Handler) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.handlers[event] = append(m.handlers[event], h)
}

// OnStateChange registers a callback invoked on every connection state
// transition.
func (m *Manager) OnStateChange(f func(types.ConnState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = f
}

// State returns the current connection state.
func (m *Manager) State() types.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open establishes the connection for the given conversation and starts
// the reconnect loop. Retries never stop on their own; only Close ends
// the connection. Open may be called once per Manager.
func (m *Manager) Open(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("conn: manager closed")
	}
	if m.opened {
		m.mu.Unlock()
		return errors.New("conn: already open")
	}
	m.opened = true

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	rawURL, err := connectionURL(m.cfg.URL, conversationID)
	if err != nil {
		return fmt.Errorf("build connection url: %w", err)
	}

	go m.run(ctx, rawURL)
	return nil
}

// connectionURL appends the conversation id to the configured endpoint.
func connectionURL(base, conversationID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", base, err)
	}
	if conversationID != "" {
		q := u.Query()
		q.Set("conversation", conversationID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// run dials, reads until failure, and redials forever with a delay that
// grows from ReconnectDelay to ReconnectDelayMax. A new connection is
// never dialed while a previous read loop is still draining, so event
// order is preserved across the life of the Manager.
func (m *Manager) run(ctx context.Context, rawURL string) {
	delay := m.cfg.ReconnectDelay

	for {
		sock, err := m.dial(ctx, rawURL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("dial failed", "url", rawURL, "error", err, "retry_in", delay)
			m.setState(types.ConnReconnecting)
			if !sleep(ctx, delay) {
				return
			}
			delay = nextDelay(delay, m.cfg.ReconnectDelayMax)
			continue
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			sock.Close(websocket.StatusNormalClosure, "closing")
			return
		}
		m.sock = sock
		m.mu.Unlock()
		m.setState(types.ConnOpen)
		delay = m.cfg.ReconnectDelay

		m.readLoop(ctx, sock)

		m.mu.Lock()
		m.sock = nil
		closed := m.closed
		m.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}

		m.setState(types.ConnReconnecting)
		if !sleep(ctx, delay) {
			return
		}
		delay = nextDelay(delay, m.cfg.ReconnectDelayMax)
	}
}

// nextDelay doubles the reconnect delay up to the cap. The resulting
// schedule is non-decreasing and bounded above by max.
func nextDelay(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		next = max
	}
	return next
}

// sleep waits for d or until ctx is done; it reports whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// readLoop reads frames from one socket until it fails. Text frames are
// decoded as event envelopes and dispatched inline, preserving the order
// the server emitted them in.
func (m *Manager) readLoop(ctx context.Context, sock socket) {
	for {
		typ, data, err := sock.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("connection read failed", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var ev envelope
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("malformed event frame", "error", err)
			continue
		}
		m.dispatch(ev)
	}
}

// dispatch invokes the handlers for one event while holding the handler
// lock. Close clears the registry under the same lock, so once Close
// returns no handler is running and none will run again.
func (m *Manager) dispatch(ev envelope) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	for _, h := range m.handlers[ev.Event] {
		h(ev.Data)
	}
}

// Send emits a named event with a JSON payload. It fails with
// ErrConnectionUnavailable when the connection is not open so the caller
// can surface the condition instead of losing the payload.
func (m *Manager) Send(event string, payload any) error {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
		data = b
	}

	frame, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return m.write(websocket.MessageText, frame)
}

// SendBinary emits one raw binary frame. The protocol reserves binary
// frames for audio chunks.
func (m *Manager) SendBinary(data []byte) error {
	return m.write(websocket.MessageBinary, data)
}

func (m *Manager) write(typ websocket.MessageType, data []byte) error {
	m.mu.Lock()
	sock := m.sock
	open := m.state == types.ConnOpen && sock != nil
	m.mu.Unlock()

	if !open {
		return ErrConnectionUnavailable
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()

	m.wmu.Lock()
	defer m.wmu.Unlock()
	if err := sock.Write(ctx, typ, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close tears the connection down: handlers are detached first, then the
// reconnect loop is cancelled and the socket closed. Safe to call more
// than once.
func (m *Manager) Close() error {
	m.hmu.Lock()
	m.handlers = make(map[string][]Handler)
	m.hmu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sock := m.sock
	m.sock = nil
	if m.cancel != nil {
		m.cancel()
	}
	m.state = types.ConnClosed
	cb := m.onState
	m.mu.Unlock()

	if cb != nil {
		cb(types.ConnClosed)
	}
	if sock != nil {
		sock.Close(websocket.StatusNormalClosure, "closing")
	}
	return nil
}

// setState records a transition and notifies the state callback. Close
// owns the transition to ConnClosed; setState never overrides it.
func (m *Manager) setState(s types.ConnState) {
	m.mu.Lock()
	if m.closed || m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	cb := m.onState
	m.mu.Unlock()

	if cb != nil {
		cb(s)
	}
}
