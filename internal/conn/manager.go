// Package conn maintains the push-channel connection to the bot backend.
//
// Every connection attempt is tagged with a generation number. Callbacks
// (read errors, dial failures, reconnect timers) from a superseded generation
// are ignored, and at most one reconnect timer is pending at any time.
package conn

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/botdash/internal/proto"
)

var log = logging.Logger("conn")

var ErrNotConnected = errors.New("push channel not connected")

const (
	DefaultReconnectDelay = 3000 * time.Millisecond

	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// State is the observable connectivity of the push channel.
type State struct {
	Status    Status `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

type Options struct {
	// ReconnectDelay is the flat delay between a drop and the next attempt.
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	Header         http.Header
	// EventBuffer sizes the Events channel.
	EventBuffer int
}

type dialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

// Manager owns the single live connection handle.
type Manager struct {
	url    string
	opts   Options
	events chan proto.Event
	done   chan struct{}
	dial   dialFunc

	mu     sync.Mutex
	gen    uint64
	conn   *websocket.Conn
	state  State
	timer  *time.Timer
	closed bool

	writeMu sync.Mutex

	listenerMu sync.RWMutex
	listeners  map[chan State]struct{}
}

// New creates a manager for url. Nothing is dialled until Connect.
func New(url string, opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			HandshakeTimeout: dialTimeout,
			Proxy:            http.ProxyFromEnvironment,
		}
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	m := &Manager{
		url:       url,
		opts:      opts,
		events:    make(chan proto.Event, opts.EventBuffer),
		done:      make(chan struct{}),
		listeners: make(map[chan State]struct{}),
	}
	m.dial = m.dialWebSocket
	return m
}

func (m *Manager) URL() string { return m.url }

// Events delivers decoded frames in arrival order. Malformed frames are
// dropped before they reach this channel.
func (m *Manager) Events() <-chan proto.Event { return m.events }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts a new attempt, superseding any live connection or pending
// reconnect timer.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	old := m.conn
	m.conn = nil
	m.setStateLocked(State{Status: Connecting})
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	go m.run(gen)
}

func (m *Manager) run(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	c, err := m.dial(ctx, m.url)
	cancel()
	if err != nil {
		m.handleDrop(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		_ = c.Close()
		return
	}
	m.conn = c
	m.setStateLocked(State{Status: Connected})
	m.mu.Unlock()

	log.Infof("connected to %s", m.url)
	m.readLoop(gen, c)
}

func (m *Manager) readLoop(gen uint64, c *websocket.Conn) {
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			m.handleDrop(gen, err)
			return
		}
		ev, err := proto.Decode(data)
		if err != nil {
			log.Debugf("dropping frame: %v", err)
			continue
		}
		select {
		case m.events <- ev:
		case <-m.done:
			return
		}
	}
}

// handleDrop records a failed attempt or a dropped connection and schedules
// one reconnect. Drops from a stale generation are ignored.
func (m *Manager) handleDrop(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.closed || m.timer != nil {
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	m.setStateLocked(State{Status: Disconnected, LastError: msg})
	log.Warnf("disconnected (%s), retrying in %s", msg, m.opts.ReconnectDelay)
	m.timer = time.AfterFunc(m.opts.ReconnectDelay, func() { m.reconnect(gen) })
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()
	m.Connect()
}

// Send writes v as one JSON text frame.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.WriteJSON(v)
}

// Subscribe returns a channel of connectivity transitions.
func (m *Manager) Subscribe() (ch chan State, cancel func()) {
	ch = make(chan State, 16)

	m.listenerMu.Lock()
	m.listeners[ch] = struct{}{}
	m.listenerMu.Unlock()

	cancel = func() {
		m.listenerMu.Lock()
		if _, ok := m.listeners[ch]; ok {
			delete(m.listeners, ch)
			close(ch)
		}
		m.listenerMu.Unlock()
	}
	return ch, cancel
}

func (m *Manager) setStateLocked(s State) {
	if s == m.state {
		return
	}
	m.state = s

	m.listenerMu.RLock()
	for ch := range m.listeners {
		select {
		case ch <- s:
		default:
		}
	}
	m.listenerMu.RUnlock()
}

// Close cancels any pending reconnect and closes the live connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	c := m.conn
	m.conn = nil
	m.setStateLocked(State{Status: Disconnected})
	m.closed = true
	close(m.done)
	m.mu.Unlock()

	m.listenerMu.Lock()
	for ch := range m.listeners {
		close(ch)
	}
	m.listeners = map[chan State]struct{}{}
	m.listenerMu.Unlock()

	if c == nil {
		return nil
	}
	m.writeMu.Lock()
	_ = c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	m.writeMu.Unlock()
	return c.Close()
}

func (m *Manager) dialWebSocket(ctx context.Context, url string) (*websocket.Conn, error) {
	c, _, err := m.opts.Dialer.DialContext(ctx, url, m.opts.Header)
	return c, err
}
