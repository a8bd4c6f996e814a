// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kataras/go-events"
	"github.com/rs/zerolog"
)

// Default manager settings.
const (
	DefaultMaxSessions     = 32
	DefaultEventBufferSize = 256
	DefaultConnectTimeout  = 10 * time.Second
)

// OnSessionStateChanged is emitted on the manager's event emitter for every
// session state transition, with the StateChangeEvent as the argument.
const OnSessionStateChanged events.EventName = "session.state.changed"

// Config configures a Manager. The zero value is usable; unset fields take
// the package defaults.
type Config struct {
	// MaxSessions caps concurrently registered sessions.
	MaxSessions int

	// ConnectTimeout bounds each session handshake.
	ConnectTimeout time.Duration

	// PointerInterval is the pointer move coalescing window.
	PointerInterval time.Duration

	// EventBufferSize is the capacity of the shared event channel.
	EventBufferSize int

	// Logger receives manager and session logging. When nil, logging is
	// disabled.
	Logger *zerolog.Logger
}

// Manager owns a set of console sessions and fans their events into one
// channel. All methods are safe for concurrent use.
type Manager struct {
	cfg     Config
	logger  zerolog.Logger
	events  chan Event
	emitter events.EventEmmiter

	mu       sync.RWMutex
	sessions map[SessionID]*Session
	closed   bool
}

// NewManager returns a manager ready to accept sessions.
func NewManager(cfg Config) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PointerInterval <= 0 {
		cfg.PointerInterval = defaultPointerInterval
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = DefaultEventBufferSize
	}

	logger := nopLogger()
	if cfg.Logger != nil {
		logger = moduleLogger(*cfg.Logger, "vnc")
	}

	return &Manager{
		cfg:      cfg,
		logger:   logger,
		events:   make(chan Event, cfg.EventBufferSize),
		emitter:  events.New(),
		sessions: make(map[SessionID]*Session),
	}
}

// Events returns the shared event channel. Every session emits into this
// channel. The channel is never closed; after Close no further events are
// produced.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// On registers a listener on the manager's event emitter, for example for
// OnSessionStateChanged.
func (m *Manager) On(name events.EventName, listener events.Listener) {
	m.emitter.On(name, listener)
}

// Connect establishes a new session to the endpoint. The session is
// registered before the handshake starts so its state transitions are
// observable; a failed handshake removes it again.
func (m *Manager) Connect(ctx context.Context, ep Endpoint, auth []ClientAuth) (*Session, error) {
	cfg := sessionConfig{
		auth:            auth,
		connectTimeout:  m.cfg.ConnectTimeout,
		pointerInterval: m.cfg.PointerInterval,
		events:          m.events,
		stateHook: func(ev StateChangeEvent) {
			m.emitter.Emit(OnSessionStateChanged, ev)
		},
		logger: m.logger,
	}

	s := newSession(ep, cfg)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, sessionError("Connect", "manager is closed", nil)
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, sessionError("Connect",
			fmt.Sprintf("session limit reached: %d", m.cfg.MaxSessions), nil)
	}
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		m.remove(s.ID())
		_ = s.Close()
		return nil, err
	}

	m.logger.Info().Str("session", string(s.ID())).Msg("session registered")
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns all registered sessions.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// ListActive returns the sessions currently in the Connected state.
func (m *Manager) ListActive() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.State() == StateConnected {
			out = append(out, s)
		}
	}
	return out
}

// Disconnect terminates a session's connection. The session stays
// registered in the Disconnected state with its last framebuffer contents
// readable.
func (m *Manager) Disconnect(id SessionID) error {
	s, ok := m.Get(id)
	if !ok {
		return sessionError("Disconnect", fmt.Sprintf("unknown session: %s", id), nil)
	}

	s.disconnect(nil)
	return nil
}

// Remove closes a session and drops it from the registry.
func (m *Manager) Remove(id SessionID) error {
	s, ok := m.Get(id)
	if !ok {
		return sessionError("Remove", fmt.Sprintf("unknown session: %s", id), nil)
	}

	m.remove(id)
	return s.Close()
}

// Reconnect replaces a session with a fresh connection to the same
// endpoint. The old session is retired and removed; the replacement has a
// new id. On failure the old session remains registered in the
// Disconnected state.
func (m *Manager) Reconnect(ctx context.Context, id SessionID) (*Session, error) {
	old, ok := m.Get(id)
	if !ok {
		return nil, sessionError("Reconnect", fmt.Sprintf("unknown session: %s", id), nil)
	}

	old.markReconnecting()

	replacement := newSession(old.endpoint, old.cfg)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		old.setState(StateDisconnected, nil)
		return nil, sessionError("Reconnect", "manager is closed", nil)
	}
	m.sessions[replacement.ID()] = replacement
	m.mu.Unlock()

	if err := replacement.connect(ctx); err != nil {
		m.remove(replacement.ID())
		_ = replacement.Close()
		old.setState(StateDisconnected, err)
		return nil, err
	}

	m.remove(old.ID())
	_ = old.Close()

	m.logger.Info().
		Str("old", string(id)).
		Str("session", string(replacement.ID())).
		Msg("session reconnected")

	return replacement, nil
}

// Snapshot returns the current framebuffer of a session as RGBA pixels
// with its dimensions.
func (m *Manager) Snapshot(id SessionID) ([]byte, uint16, uint16, error) {
	s, ok := m.Get(id)
	if !ok {
		return nil, 0, 0, sessionError("Snapshot", fmt.Sprintf("unknown session: %s", id), nil)
	}

	width, height := s.Size()
	return s.Snapshot(), width, height, nil
}

// SendKeyEvent forwards a key event to a session.
func (m *Manager) SendKeyEvent(id SessionID, keysym uint32, down bool) error {
	s, ok := m.Get(id)
	if !ok {
		return sessionError("SendKeyEvent", fmt.Sprintf("unknown session: %s", id), nil)
	}
	return s.SendKeyEvent(keysym, down)
}

// SendPointerEvent forwards a pointer event to a session.
func (m *Manager) SendPointerEvent(id SessionID, mask ButtonMask, x, y uint16) error {
	s, ok := m.Get(id)
	if !ok {
		return sessionError("SendPointerEvent", fmt.Sprintf("unknown session: %s", id), nil)
	}
	return s.SendPointerEvent(mask, x, y)
}

// SendClipboard forwards clipboard text to a session.
func (m *Manager) SendClipboard(id SessionID, text string) error {
	s, ok := m.Get(id)
	if !ok {
		return sessionError("SendClipboard", fmt.Sprintf("unknown session: %s", id), nil)
	}
	return s.SendClipboard(text)
}

// SendCtrlAltDel sends the Ctrl+Alt+Del sequence to a session.
func (m *Manager) SendCtrlAltDel(id SessionID) error {
	s, ok := m.Get(id)
	if !ok {
		return sessionError("SendCtrlAltDel", fmt.Sprintf("unknown session: %s", id), nil)
	}
	return s.SendCtrlAltDel()
}

// Close retires every session. The manager accepts no further
// connections.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[SessionID]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}

	m.logger.Info().Int("sessions", len(sessions)).Msg("manager closed")
	return nil
}

func (m *Manager) remove(id SessionID) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
