// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionID uniquely identifies a console session for its whole lifetime.
// IDs are never reused; reconnecting produces a new session with a new ID.
type SessionID string

// newSessionID returns a fresh session identifier.
func newSessionID() SessionID {
	return SessionID("vnc-" + uuid.NewString())
}

// State is the lifecycle state of a session.
type State int

// Session lifecycle states. A session starts Connecting, serves updates
// while Connected, and ends Closed. Disconnected sessions keep their last
// framebuffer contents available until closed.
const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateReconnecting
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// validTransitions lists the states each state may move to. Transitions
// outside this map are ignored, which keeps late loop errors from
// resurrecting a closed session.
var validTransitions = map[State][]State{
	StateConnecting:   {StateConnected, StateDisconnected, StateClosed},
	StateConnected:    {StateDisconnected, StateReconnecting, StateClosed},
	StateDisconnected: {StateReconnecting, StateClosed},
	StateReconnecting: {StateDisconnected, StateClosed},
	StateClosed:       nil,
}

// Decode failure escalation. A rectangle the session can safely skip
// counts as one failure; repeated failures in a short window indicate a
// misbehaving server and disconnect the session.
const (
	decodeFailureLimit  = 3
	decodeFailureWindow = 5 * time.Second
)

// sessionConfig carries the manager-level settings a session needs.
type sessionConfig struct {
	auth            []ClientAuth
	exclusive       bool
	connectTimeout  time.Duration
	pointerInterval time.Duration
	events          chan Event
	stateHook       func(StateChangeEvent)
	logger          zerolog.Logger
}

// Session is one live console connection: a ClientConn, its framebuffer
// replica, the decoder set, and the input dispatcher. All methods are safe
// for concurrent use.
type Session struct {
	id       SessionID
	endpoint Endpoint
	cfg      sessionConfig
	logger   zerolog.Logger

	mu      sync.RWMutex
	state   State
	lastErr error
	conn    *ClientConn
	fb      *Framebuffer
	pending []Event

	decoders map[int32]Decoder
	pd       *pixelDecoder
	input    *inputDispatcher

	failures []time.Time

	loopCtx    context.Context
	loopCancel context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
}

// newSession builds a session in the Connecting state. The connection is
// established by connect.
func newSession(ep Endpoint, cfg sessionConfig) *Session {
	id := newSessionID()
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		id:         id,
		endpoint:   ep,
		cfg:        cfg,
		logger:     sessionLogger(cfg.logger, id),
		state:      StateConnecting,
		loopCtx:    ctx,
		loopCancel: cancel,
		done:       make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() SessionID { return s.id }

// Endpoint returns the endpoint the session was connected to.
func (s *Session) Endpoint() Endpoint { return s.endpoint }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// DesktopName returns the name the server announced, or empty before the
// handshake completed.
func (s *Session) DesktopName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.GetDesktopName()
}

// Size returns the current framebuffer dimensions.
func (s *Session) Size() (width, height uint16) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fb == nil {
		return 0, 0
	}
	return s.fb.Width(), s.fb.Height()
}

// Snapshot returns a copy of the full framebuffer as RGBA pixels. The last
// contents remain available after a disconnect.
func (s *Session) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fb == nil {
		return nil
	}
	return s.fb.Snapshot()
}

// CursorShape returns the current remote cursor, or nil when the server
// has not sent one.
func (s *Session) CursorShape() *Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fb == nil {
		return nil
	}
	return s.fb.CursorShape()
}

// connect dials the endpoint, runs the handshake, negotiates the pixel
// format and encodings, and starts the read loop and input dispatcher.
func (s *Session) connect(ctx context.Context) error {
	s.logger.Info().Str("addr", s.endpoint.Addr).Str("ws", s.endpoint.WebSocketURL).Msg("connecting")

	nc, err := Dial(ctx, s.endpoint)
	if err != nil {
		s.fail(err)
		return err
	}

	conn, err := ClientWithContext(ctx, nc, &ClientConfig{
		Auth:           s.cfg.auth,
		Exclusive:      s.cfg.exclusive,
		ConnectTimeout: s.cfg.connectTimeout,
		Logger:         &s.logger,
	})
	if err != nil {
		_ = nc.Close()
		s.fail(err)
		return err
	}

	format := *PixelFormat32BitRGBA
	if err := conn.SetPixelFormat(&format); err != nil {
		_ = conn.Close()
		s.fail(err)
		return err
	}
	if err := conn.SetEncodings(clientEncodings()); err != nil {
		_ = conn.Close()
		s.fail(err)
		return err
	}

	width, height := conn.GetFrameBufferSize()

	s.mu.Lock()
	s.conn = conn
	s.fb = NewFramebuffer(width, height)
	s.decoders = newDecoderSet()
	s.pd = newPixelDecoder(conn.GetPixelFormat(), &conn.ColorMap)
	s.mu.Unlock()

	s.input = newInputDispatcher(s, s.cfg.pointerInterval)

	s.setState(StateConnected, nil)
	s.logger.Info().
		Uint16("width", width).
		Uint16("height", height).
		Str("desktop", conn.GetDesktopName()).
		Msg("session connected")

	if err := conn.FramebufferUpdateRequest(false, 0, 0, width, height); err != nil {
		s.disconnect(err)
		return err
	}

	go s.readLoop()
	return nil
}

// fail records a connect-time failure and retires the session.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.lastErr == nil {
		s.lastErr = err
	}
	s.mu.Unlock()
	s.setState(StateDisconnected, err)
}

// Close retires the session. Closing is idempotent; the framebuffer
// snapshot remains readable afterward.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.loopCancel()
		if s.input != nil {
			s.input.stop()
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn != nil {
			_ = conn.Close()
		}

		s.setState(StateClosed, nil)
		close(s.done)
		s.logger.Info().Msg("session closed")
	})
	return nil
}

// disconnect ends the connection but keeps the session readable.
func (s *Session) disconnect(err error) {
	s.mu.Lock()
	if s.lastErr == nil {
		s.lastErr = err
	}
	conn := s.conn
	s.mu.Unlock()

	s.loopCancel()
	if s.input != nil {
		s.input.stop()
	}
	if conn != nil {
		_ = conn.Close()
	}

	s.setState(StateDisconnected, err)

	if err != nil {
		s.logger.Warn().Err(err).Msg("session disconnected")
	} else {
		s.logger.Info().Msg("session disconnected")
	}
}

// setState performs a lifecycle transition and emits a StateChangeEvent.
// Illegal transitions are dropped.
func (s *Session) setState(next State, cause error) {
	s.mu.Lock()
	prev := s.state

	allowed := false
	for _, t := range validTransitions[prev] {
		if t == next {
			allowed = true
			break
		}
	}
	if !allowed {
		s.mu.Unlock()
		return
	}

	s.state = next
	s.mu.Unlock()

	ev := StateChangeEvent{Session: s.id, Old: prev, New: next, Err: cause}
	s.emitQueued(ev)
	if s.cfg.stateHook != nil {
		s.cfg.stateHook(ev)
	}

	s.logger.Debug().
		Str("from", prev.String()).
		Str("to", next.String()).
		Msg("state transition")
}

// markReconnecting moves a live session aside while a replacement is
// established.
func (s *Session) markReconnecting() {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	s.loopCancel()
	if s.input != nil {
		s.input.stop()
	}
	if conn != nil {
		_ = conn.Close()
	}

	s.setState(StateReconnecting, nil)
}

// emitQueued delivers a lifecycle event, preserving order. Events that do
// not fit in the channel are held per-session and flushed before later
// emissions.
func (s *Session) emitQueued(ev Event) {
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.flushPendingLocked()
	s.mu.Unlock()
}

// emitDroppable delivers a framebuffer or cursor event if the channel has
// room, after first flushing any queued lifecycle events.
func (s *Session) emitDroppable(ev Event) {
	s.mu.Lock()
	s.flushPendingLocked()
	blocked := len(s.pending) > 0
	s.mu.Unlock()

	if blocked || s.cfg.events == nil {
		return
	}

	select {
	case s.cfg.events <- ev:
	default:
	}
}

// flushPendingLocked drains queued events into the channel without
// blocking. Callers hold s.mu.
func (s *Session) flushPendingLocked() {
	if s.cfg.events == nil {
		s.pending = nil
		return
	}

	for len(s.pending) > 0 {
		select {
		case s.cfg.events <- s.pending[0]:
			s.pending = s.pending[1:]
		default:
			return
		}
	}
}

// readLoop consumes server messages until the connection ends.
func (s *Session) readLoop() {
	for {
		if err := s.loopCtx.Err(); err != nil {
			return
		}

		messageType, err := s.conn.readMessageType(s.loopCtx)
		if err != nil {
			s.loopError(err)
			return
		}

		switch messageType {
		case serverFramebufferUpdate:
			err = s.handleFramebufferUpdate()
		case serverSetColourMapEntries:
			_, _, err = s.conn.readSetColourMapEntries(s.loopCtx)
		case serverBell:
			s.emitQueued(BellEvent{Session: s.id})
		case serverCutText:
			var text string
			text, err = s.conn.readServerCutText(s.loopCtx)
			if err == nil {
				s.emitQueued(ClipboardEvent{Session: s.id, Text: text})
			}
		default:
			err = protocolError("readLoop",
				fmt.Sprintf("unknown server message type: %d", messageType), nil)
		}

		if err != nil {
			s.loopError(err)
			return
		}
	}
}

// loopError ends the read loop, suppressing errors caused by our own
// shutdown.
func (s *Session) loopError(err error) {
	if s.loopCtx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}
	s.disconnect(err)
}

// handleFramebufferUpdate processes one FramebufferUpdate message and
// requests the next incremental update.
func (s *Session) handleFramebufferUpdate() error {
	numRects, err := s.conn.readFramebufferUpdateHeader(s.loopCtx)
	if err != nil {
		return err
	}

	for i := uint16(0); i < numRects; i++ {
		rect, encodingType, err := s.conn.readRectangleHeader(s.loopCtx)
		if err != nil {
			return err
		}

		if err := s.handleRectangle(rect, encodingType); err != nil {
			return err
		}
	}

	width, height := s.conn.GetFrameBufferSize()
	return s.conn.FramebufferUpdateRequest(true, 0, 0, width, height)
}

// handleRectangle decodes one rectangle and emits the matching event.
func (s *Session) handleRectangle(rect *Rectangle, encodingType int32) error {
	switch encodingType {
	case EncodingCursor:
		cursor, err := readCursorShape(s.conn.c, rect, s.pd)
		if err != nil {
			return err
		}
		s.fb.SetCursor(cursor)
		s.emitDroppable(CursorUpdateEvent{Session: s.id, Cursor: cursor})
		return nil

	case EncodingDesktopSize:
		return s.handleDesktopResize(rect.Width, rect.Height)
	}

	decoder, ok := s.decoders[encodingType]
	if !ok {
		return protocolError("handleRectangle",
			fmt.Sprintf("unknown encoding type: %d", encodingType), nil)
	}

	fbWidth, fbHeight := s.fb.Width(), s.fb.Height()
	if err := validateRectangle(rect.X, rect.Y, rect.Width, rect.Height, fbWidth, fbHeight); err != nil {
		return s.skipInvalidRectangle(rect, encodingType, err)
	}

	if err := decoder.Decode(s.conn.c, rect, s.pd, s.fb); err != nil {
		return err
	}

	pixels, err := s.fb.CopyRegion(rect.X, rect.Y, rect.Width, rect.Height)
	if err != nil {
		return err
	}
	s.emitDroppable(FramebufferUpdateEvent{Session: s.id, Rect: *rect, Pixels: pixels})
	return nil
}

// skipInvalidRectangle discards the payload of a rectangle whose geometry
// falls outside the framebuffer, when the encoding has a payload length
// that can be computed without decoding. Repeated skips in a short window
// disconnect the session; encodings with data-dependent payloads
// disconnect immediately because the stream position would be lost.
func (s *Session) skipInvalidRectangle(rect *Rectangle, encodingType int32, cause error) error {
	var payload int64
	switch encodingType {
	case EncodingRaw:
		payload = int64(rect.Width) * int64(rect.Height) * int64(s.pd.bytesPerPixel())
	case EncodingCopyRect:
		payload = 4
	default:
		return protocolError("handleRectangle",
			fmt.Sprintf("rectangle %s outside framebuffer for encoding %d", rect, encodingType), cause)
	}

	if _, err := io.CopyN(io.Discard, s.conn.c, payload); err != nil {
		return networkError("handleRectangle", "failed to skip invalid rectangle payload", err)
	}

	s.logger.Warn().
		Str("rect", rect.String()).
		Int32("encoding", encodingType).
		Msg("skipped rectangle outside framebuffer")

	if s.recordDecodeFailure() {
		return protocolError("handleRectangle",
			fmt.Sprintf("too many decode failures within %s", decodeFailureWindow), cause)
	}
	return nil
}

// recordDecodeFailure notes a skipped rectangle and reports whether the
// failure budget is exhausted.
func (s *Session) recordDecodeFailure() bool {
	now := time.Now()
	cutoff := now.Add(-decodeFailureWindow)

	kept := s.failures[:0]
	for _, t := range s.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.failures = append(kept, now)

	return len(s.failures) >= decodeFailureLimit
}

// handleDesktopResize applies a DesktopSize pseudo-rectangle. Earlier
// rectangles in the same update were drawn at the old size; the resize
// discards them and a full update is requested for the new geometry.
func (s *Session) handleDesktopResize(width, height uint16) error {
	if err := validateDesktopSize(width, height); err != nil {
		return err
	}

	s.mu.Lock()
	s.fb.Resize(width, height)
	s.mu.Unlock()
	s.conn.setFrameBufferSize(width, height)

	s.logger.Info().
		Uint16("width", width).
		Uint16("height", height).
		Msg("desktop resized")

	s.emitQueued(DesktopResizeEvent{Session: s.id, Width: width, Height: height})
	return s.conn.FramebufferUpdateRequest(false, 0, 0, width, height)
}

// requireConnected returns the connection if the session accepts input.
func (s *Session) requireConnected(op string) (*ClientConn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateConnected {
		return nil, sessionError(op,
			fmt.Sprintf("session %s is %s, not connected", s.id, s.state), nil)
	}
	return s.conn, nil
}

// SendKeyEvent queues a key press or release for delivery to the server.
func (s *Session) SendKeyEvent(keysym uint32, down bool) error {
	if _, err := s.requireConnected("SendKeyEvent"); err != nil {
		return err
	}
	return s.input.queueKey(keysym, down)
}

// SendPointerEvent queues a pointer move or button change. Move events are
// coalesced so a fast-moving pointer does not flood the connection.
func (s *Session) SendPointerEvent(mask ButtonMask, x, y uint16) error {
	if _, err := s.requireConnected("SendPointerEvent"); err != nil {
		return err
	}
	return s.input.queuePointer(mask, x, y)
}

// SendClipboard queues clipboard text for the server.
func (s *Session) SendClipboard(text string) error {
	if _, err := s.requireConnected("SendClipboard"); err != nil {
		return err
	}
	return s.input.queueClipboard(text)
}

// SendCtrlAltDel sends the Ctrl+Alt+Del sequence, pressing the modifiers
// in order and releasing them in reverse.
func (s *Session) SendCtrlAltDel() error {
	if _, err := s.requireConnected("SendCtrlAltDel"); err != nil {
		return err
	}

	keys := []uint32{XKControlL, XKAltL, XKDelete}
	for _, k := range keys {
		if err := s.input.queueKey(k, true); err != nil {
			return err
		}
	}
	for i := len(keys) - 1; i >= 0; i-- {
		if err := s.input.queueKey(keys[i], false); err != nil {
			return err
		}
	}
	return nil
}
