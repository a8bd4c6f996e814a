// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

// Event is a notification emitted by a session and delivered through the
// manager's event channel. Every event names the session it belongs to.
type Event interface {
	SessionID() SessionID
}

// FramebufferUpdateEvent reports that a region of a session's framebuffer
// changed. Pixels holds the region contents as RGBA, row-major.
//
// Framebuffer events are droppable: when the event channel is full they are
// discarded rather than blocking the session, since a consumer can always
// recover the current picture with Snapshot.
type FramebufferUpdateEvent struct {
	Session SessionID
	Rect    Rectangle
	Pixels  []byte
}

// SessionID returns the originating session.
func (e FramebufferUpdateEvent) SessionID() SessionID { return e.Session }

// StateChangeEvent reports a session lifecycle transition. Err is set when
// the transition was caused by a failure.
type StateChangeEvent struct {
	Session SessionID
	Old     State
	New     State
	Err     error
}

// SessionID returns the originating session.
func (e StateChangeEvent) SessionID() SessionID { return e.Session }

// DesktopResizeEvent reports that the remote framebuffer changed size.
// Framebuffer contents from before the resize are discarded.
type DesktopResizeEvent struct {
	Session SessionID
	Width   uint16
	Height  uint16
}

// SessionID returns the originating session.
func (e DesktopResizeEvent) SessionID() SessionID { return e.Session }

// BellEvent reports a Bell message from the server.
type BellEvent struct {
	Session SessionID
}

// SessionID returns the originating session.
func (e BellEvent) SessionID() SessionID { return e.Session }

// ClipboardEvent carries clipboard text announced by the server.
type ClipboardEvent struct {
	Session SessionID
	Text    string
}

// SessionID returns the originating session.
func (e ClipboardEvent) SessionID() SessionID { return e.Session }

// CursorUpdateEvent reports a new cursor shape from the Cursor
// pseudo-encoding. Like framebuffer events, cursor events are droppable;
// the latest shape remains available through the session framebuffer.
type CursorUpdateEvent struct {
	Session SessionID
	Cursor  *Cursor
}

// SessionID returns the originating session.
func (e CursorUpdateEvent) SessionID() SessionID { return e.Session }
