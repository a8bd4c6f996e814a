// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// pvLen is the length of the fixed-size ProtocolVersion message.
const pvLen = 12

// Latin1MaxCodePoint is the highest code point representable in the Latin-1
// text encoding used by ClientCutText and ServerCutText messages.
const Latin1MaxCodePoint = 255

// ButtonMask represents the state of the pointer buttons as a bitmask, one
// bit per button as defined in RFC 6143 Section 7.5.5.
type ButtonMask uint8

// Pointer button bits. The scroll wheel is reported as press and release of
// buttons 4 and 5.
const (
	ButtonLeft ButtonMask = 1 << iota
	ButtonMiddle
	ButtonRight
	ButtonScrollUp
	ButtonScrollDown
)

// ClientConfig configures the connection handshake and runtime behavior of
// a ClientConn.
type ClientConfig struct {
	// Auth lists the authentication methods the client is willing to use,
	// in preference order. When nil, only an unauthenticated connection is
	// accepted.
	Auth []ClientAuth

	// Exclusive requests exclusive access to the server, disconnecting
	// other clients. The default is a shared connection.
	Exclusive bool

	// ConnectTimeout bounds the complete handshake. Zero means no limit
	// beyond the caller's context.
	ConnectTimeout time.Duration

	// Logger receives connection-level protocol logging. When nil, logging
	// is disabled.
	Logger *zerolog.Logger
}

// ClientConn is an authenticated connection to an RFB server. It owns the
// protocol state negotiated during the handshake and provides the
// client-to-server message senders. Reading server messages is left to the
// caller, typically a Session.
type ClientConn struct {
	c      net.Conn
	config *ClientConfig
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.RWMutex

	// FrameBufferWidth and FrameBufferHeight hold the current remote
	// framebuffer geometry. Updated by DesktopSize rectangles.
	FrameBufferWidth  uint16
	FrameBufferHeight uint16

	// DesktopName is the name the server announced in ServerInit.
	DesktopName string

	// PixelFormat is the pixel format in effect for framebuffer updates.
	PixelFormat PixelFormat

	// ColorMap holds the palette for indexed pixel formats, populated by
	// SetColourMapEntries messages.
	ColorMap [ColorMapSize]Color

	// major and minor are the protocol version the handshake settled on.
	major uint
	minor uint
}

// Client establishes a VNC client connection over an existing network
// connection using a background context.
func Client(c net.Conn, cfg *ClientConfig) (*ClientConn, error) {
	return ClientWithContext(context.Background(), c, cfg)
}

// ClientWithContext establishes a VNC client connection with context
// support. It performs the complete handshake: protocol version
// negotiation, security, authentication, and initialization. The returned
// connection is ready for SetPixelFormat and SetEncodings.
func ClientWithContext(ctx context.Context, c net.Conn, cfg *ClientConfig) (*ClientConn, error) {
	if cfg == nil {
		cfg = &ClientConfig{}
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	connCtx, cancel := context.WithCancel(context.Background())

	conn := &ClientConn{
		c:      c,
		config: cfg,
		logger: logger,
		ctx:    connCtx,
		cancel: cancel,
	}

	if err := conn.handshakeWithContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

// Close terminates the VNC connection and releases associated resources.
// It is safe to call Close multiple times.
func (c *ClientConn) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	return c.c.Close()
}

// ProtocolVersion returns the RFB protocol version negotiated with the
// server, such as "3.8".
func (c *ClientConn) ProtocolVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%d.%d", c.major, c.minor)
}

// GetFrameBufferSize returns the current framebuffer dimensions in a
// thread-safe manner.
func (c *ClientConn) GetFrameBufferSize() (width, height uint16) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.FrameBufferWidth, c.FrameBufferHeight
}

// GetDesktopName returns the desktop name in a thread-safe manner.
func (c *ClientConn) GetDesktopName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DesktopName
}

// GetPixelFormat returns a copy of the current pixel format in a
// thread-safe manner.
func (c *ClientConn) GetPixelFormat() PixelFormat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.PixelFormat
}

// setFrameBufferSize records a new framebuffer geometry, typically after a
// DesktopSize rectangle.
func (c *ClientConn) setFrameBufferSize(width, height uint16) {
	c.mu.Lock()
	c.FrameBufferWidth = width
	c.FrameBufferHeight = height
	c.mu.Unlock()
}

// setColorMapEntries installs palette entries starting at firstColor.
func (c *ClientConn) setColorMapEntries(firstColor uint16, colors []Color) {
	c.mu.Lock()
	copy(c.ColorMap[firstColor:], colors)
	c.mu.Unlock()
}

// SetPixelFormat sends a SetPixelFormat message requesting the given format
// for subsequent framebuffer updates.
func (c *ClientConn) SetPixelFormat(format *PixelFormat) error {
	if err := format.Validate(); err != nil {
		return err
	}

	wire, err := writePixelFormat(format)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})
	buf.Write(wire)

	if err := c.writeWithContext(c.ctx, buf.Bytes()); err != nil {
		return networkError("SetPixelFormat", "failed to send pixel format message", err)
	}

	c.mu.Lock()
	c.PixelFormat = *format
	c.mu.Unlock()

	c.logger.Debug().
		Uint8("bpp", format.BPP).
		Uint8("depth", format.Depth).
		Bool("true_color", format.TrueColor).
		Msg("pixel format set")

	return nil
}

// SetEncodings tells the server which rectangle encodings the client
// understands, in preference order. Pseudo-encoding values advertise
// client capabilities rather than wire formats.
func (c *ClientConn) SetEncodings(encs []int32) error {
	if len(encs) > 0xffff {
		return validationError("SetEncodings",
			fmt.Sprintf("too many encodings: %d", len(encs)), nil)
	}

	var buf bytes.Buffer
	buf.Write([]byte{2, 0})
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(encs))); err != nil {
		return networkError("SetEncodings", "failed to write encoding count", err)
	}
	for _, enc := range encs {
		if err := binary.Write(&buf, binary.BigEndian, enc); err != nil {
			return networkError("SetEncodings", "failed to write encoding type", err)
		}
	}

	if err := c.writeWithContext(c.ctx, buf.Bytes()); err != nil {
		return networkError("SetEncodings", "failed to send encodings message", err)
	}

	c.logger.Debug().Int("count", len(encs)).Msg("encodings set")
	return nil
}

// FramebufferUpdateRequest asks the server for an update of the given
// region. An incremental request asks only for changes since the last
// update; a full request asks for the complete region contents.
func (c *ClientConn) FramebufferUpdateRequest(incremental bool, x, y, width, height uint16) error {
	var incrementalByte uint8
	if incremental {
		incrementalByte = 1
	}

	var buf bytes.Buffer
	data := []interface{}{
		uint8(3),
		incrementalByte,
		x, y, width, height,
	}
	for _, val := range data {
		if err := binary.Write(&buf, binary.BigEndian, val); err != nil {
			return networkError("FramebufferUpdateRequest", "failed to write request data to buffer", err)
		}
	}

	if err := c.writeWithContext(c.ctx, buf.Bytes()); err != nil {
		return networkError("FramebufferUpdateRequest", "failed to send framebuffer update request", err)
	}
	return nil
}

// KeyEvent sends a key press or release identified by an X11 keysym. A
// complete keystroke is a down event followed by an up event.
func (c *ClientConn) KeyEvent(keysym uint32, down bool) error {
	var downFlag uint8
	if down {
		downFlag = 1
	}

	var buf bytes.Buffer
	data := []interface{}{
		uint8(4),
		downFlag,
		uint8(0), uint8(0),
		keysym,
	}
	for _, val := range data {
		if err := binary.Write(&buf, binary.BigEndian, val); err != nil {
			return networkError("KeyEvent", "failed to write key event data to buffer", err)
		}
	}

	if err := c.writeWithContext(c.ctx, buf.Bytes()); err != nil {
		return networkError("KeyEvent", "failed to send key event", err)
	}
	return nil
}

// PointerEvent sends the current pointer position and button state.
// Coordinates are absolute framebuffer positions.
func (c *ClientConn) PointerEvent(mask ButtonMask, x, y uint16) error {
	var buf bytes.Buffer
	data := []interface{}{
		uint8(5),
		uint8(mask),
		x, y,
	}
	for _, val := range data {
		if err := binary.Write(&buf, binary.BigEndian, val); err != nil {
			return networkError("PointerEvent", "failed to write pointer event data to buffer", err)
		}
	}

	if err := c.writeWithContext(c.ctx, buf.Bytes()); err != nil {
		return networkError("PointerEvent", "failed to send pointer event", err)
	}
	return nil
}

// CutText sends clipboard text to the server. The text must contain only
// Latin-1 characters as required by the ClientCutText message.
func (c *ClientConn) CutText(text string) error {
	// Convert to Latin-1 first; the declared length is the Latin-1 byte
	// count, which differs from len(text) for non-ASCII characters.
	payload := make([]byte, 0, len(text))
	for _, char := range text {
		if char > Latin1MaxCodePoint {
			return validationError("CutText",
				fmt.Sprintf("character '%c' is not valid Latin-1", char), nil)
		}
		payload = append(payload, uint8(char))
	}

	if len(payload) > MaxClipboardLength {
		return validationError("CutText",
			fmt.Sprintf("clipboard text too long: %d bytes (max %d)", len(payload), MaxClipboardLength), nil)
	}

	var buf bytes.Buffer
	fixedData := []interface{}{
		uint8(6),
		uint8(0), uint8(0), uint8(0),
		uint32(len(payload)),
	}
	for _, val := range fixedData {
		if err := binary.Write(&buf, binary.BigEndian, val); err != nil {
			return networkError("CutText", "failed to write fixed data to buffer", err)
		}
	}
	buf.Write(payload)

	if err := c.writeWithContext(c.ctx, buf.Bytes()); err != nil {
		return networkError("CutText", "failed to send cut text message", err)
	}
	return nil
}

// parseProtocolVersion extracts the major and minor version from a
// ProtocolVersion message.
func parseProtocolVersion(pv []byte) (uint, uint, error) {
	var major, minor uint

	if len(pv) < pvLen {
		return 0, 0, protocolError("parseProtocolVersion",
			fmt.Sprintf("protocol version message too short (%v < %v)", len(pv), pvLen), nil)
	}

	l, err := fmt.Sscanf(string(pv), "RFB %d.%d\n", &major, &minor)
	if l != 2 {
		return 0, 0, protocolError("parseProtocolVersion", "invalid protocol version format", nil)
	}
	if err != nil {
		return 0, 0, protocolError("parseProtocolVersion", "failed to parse protocol version", err)
	}

	return major, minor, nil
}

// negotiateVersion maps the server's announced version to the version the
// client will speak. Servers announcing 3.3 through 3.6 get 3.3, 3.7 gets
// 3.7, and anything newer gets 3.8.
func negotiateVersion(maxMajor, maxMinor uint) (uint, uint, error) {
	if maxMajor < 3 {
		return 0, 0, unsupportedError("handshake",
			fmt.Sprintf("unsupported major version, less than 3: %d", maxMajor), nil)
	}
	if maxMajor > 3 {
		return 3, 8, nil
	}

	switch {
	case maxMinor < 3:
		return 0, 0, unsupportedError("handshake",
			fmt.Sprintf("unsupported minor version, less than 3: %d", maxMinor), nil)
	case maxMinor < 7:
		return 3, 3, nil
	case maxMinor == 7:
		return 3, 7, nil
	default:
		return 3, 8, nil
	}
}

// handshakeWithContext performs the RFB handshake: version negotiation,
// the security handshake for the negotiated version, ClientInit, and
// ServerInit.
func (c *ClientConn) handshakeWithContext(ctx context.Context) error {
	c.logger.Debug().Msg("starting handshake")

	var protocolVersion [pvLen]byte
	if err := c.readWithContext(ctx, protocolVersion[:]); err != nil {
		return networkError("handshake", "failed to read protocol version from server", err)
	}

	maxMajor, maxMinor, err := parseProtocolVersion(protocolVersion[:])
	if err != nil {
		return err
	}

	major, minor, err := negotiateVersion(maxMajor, maxMinor)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.major = major
	c.minor = minor
	c.mu.Unlock()

	c.logger.Debug().
		Uint("server_major", maxMajor).
		Uint("server_minor", maxMinor).
		Uint("major", major).
		Uint("minor", minor).
		Msg("negotiated protocol version")

	response := fmt.Sprintf("RFB %03d.%03d\n", major, minor)
	if err = c.writeWithContext(ctx, []byte(response)); err != nil {
		return networkError("handshake", "failed to send protocol version response", err)
	}

	if minor == 3 {
		err = c.securityHandshake33(ctx)
	} else {
		err = c.securityHandshake37(ctx, minor >= 8)
	}
	if err != nil {
		return err
	}

	var sharedFlag uint8 = 1
	if c.config.Exclusive {
		sharedFlag = 0
	}
	if err = c.writeBinaryWithContext(ctx, sharedFlag); err != nil {
		return networkError("handshake", "failed to send client init message", err)
	}

	return c.readServerInit(ctx)
}

// securityHandshake33 performs the 3.3 security handshake. The server
// dictates the security type as a single uint32 and the client sends no
// selection. A SecurityResult follows only after VNC Authentication.
func (c *ClientConn) securityHandshake33(ctx context.Context) error {
	var securityType uint32
	if err := c.readBinaryWithContext(ctx, &securityType); err != nil {
		return networkError("handshake", "failed to read security type", err)
	}

	if securityType == uint32(SecurityTypeInvalid) {
		reason := c.readErrorReason()
		return authenticationError("handshake",
			fmt.Sprintf("server rejected connection: %s", reason), nil)
	}
	if securityType > 0xff {
		return protocolError("handshake",
			fmt.Sprintf("invalid security type: %d", securityType), nil)
	}

	auth := c.findAuth(uint8(securityType))
	if auth == nil {
		return authenticationError("handshake",
			fmt.Sprintf("server requires unsupported security type: %d", securityType), nil)
	}

	c.logger.Debug().Str("method", auth.String()).Msg("selected authentication method")

	if err := auth.Handshake(ctx, c.c); err != nil {
		return authenticationError("handshake", "authentication handshake failed", err)
	}

	if auth.SecurityType() == SecurityTypeVNCAuth {
		return c.readSecurityResult(ctx, false)
	}
	return nil
}

// securityHandshake37 performs the 3.7 and 3.8 security handshake. The
// server offers a list of security types and the client picks one. In 3.8
// a SecurityResult always follows; in 3.7 it follows only after VNC
// Authentication.
func (c *ClientConn) securityHandshake37(ctx context.Context, withResult bool) error {
	var numSecurityTypes uint8
	if err := c.readBinaryWithContext(ctx, &numSecurityTypes); err != nil {
		return networkError("handshake", "failed to read number of security types", err)
	}

	if numSecurityTypes == 0 {
		reason := c.readErrorReason()
		return authenticationError("handshake",
			fmt.Sprintf("no security types available: %s", reason), nil)
	}

	securityTypes := make([]uint8, numSecurityTypes)
	if err := c.readBinaryWithContext(ctx, &securityTypes); err != nil {
		return networkError("handshake", "failed to read security types", err)
	}

	var auth ClientAuth
	for _, curAuth := range c.clientAuths() {
		for _, securityType := range securityTypes {
			if curAuth.SecurityType() == securityType {
				auth = curAuth
				break
			}
		}
		if auth != nil {
			break
		}
	}

	if auth == nil {
		return authenticationError("handshake",
			fmt.Sprintf("no suitable auth schemes found. server supported: %#v", securityTypes), nil)
	}

	c.logger.Debug().Str("method", auth.String()).Msg("selected authentication method")

	if err := c.writeBinaryWithContext(ctx, auth.SecurityType()); err != nil {
		return networkError("handshake", "failed to send selected security type", err)
	}

	if err := auth.Handshake(ctx, c.c); err != nil {
		return authenticationError("handshake", "authentication handshake failed", err)
	}

	if withResult || auth.SecurityType() == SecurityTypeVNCAuth {
		return c.readSecurityResult(ctx, withResult)
	}
	return nil
}

// readSecurityResult reads the SecurityResult message. Only protocol 3.8
// follows a failure with a reason string.
func (c *ClientConn) readSecurityResult(ctx context.Context, withReason bool) error {
	var securityResult uint32
	if err := c.readBinaryWithContext(ctx, &securityResult); err != nil {
		return networkError("handshake", "failed to read security result", err)
	}

	if securityResult != 0 {
		if withReason {
			reason := c.readErrorReason()
			return authenticationError("handshake",
				fmt.Sprintf("security handshake failed: %s", reason), nil)
		}
		return authenticationError("handshake", "security handshake failed", nil)
	}
	return nil
}

// readServerInit reads the ServerInit message and records the framebuffer
// geometry, pixel format, and desktop name.
func (c *ClientConn) readServerInit(ctx context.Context) error {
	var width, height uint16
	if err := c.readBinaryWithContext(ctx, &width); err != nil {
		return networkError("handshake", "failed to read framebuffer width", err)
	}
	if err := c.readBinaryWithContext(ctx, &height); err != nil {
		return networkError("handshake", "failed to read framebuffer height", err)
	}
	if err := validateDesktopSize(width, height); err != nil {
		return protocolError("handshake", "server sent invalid framebuffer dimensions", err)
	}

	var pixelFormat PixelFormat
	if err := c.readPixelFormatWithContext(ctx, &pixelFormat); err != nil {
		return protocolError("handshake", "failed to read pixel format", err)
	}
	if err := pixelFormat.Validate(); err != nil {
		return protocolError("handshake", "server sent invalid pixel format", err)
	}

	var nameLength uint32
	if err := c.readBinaryWithContext(ctx, &nameLength); err != nil {
		return networkError("handshake", "failed to read desktop name length", err)
	}
	if nameLength > maxDesktopNameLength {
		return protocolError("handshake",
			fmt.Sprintf("desktop name too long: %d bytes", nameLength), nil)
	}

	nameBytes := make([]uint8, nameLength)
	if err := c.readWithContext(ctx, nameBytes); err != nil {
		return networkError("handshake", "failed to read desktop name", err)
	}

	c.mu.Lock()
	c.FrameBufferWidth = width
	c.FrameBufferHeight = height
	c.PixelFormat = pixelFormat
	c.DesktopName = string(nameBytes)
	c.mu.Unlock()

	c.logger.Debug().
		Str("desktop_name", string(nameBytes)).
		Uint16("width", width).
		Uint16("height", height).
		Uint8("bpp", pixelFormat.BPP).
		Msg("handshake completed")

	return nil
}

// findAuth returns the configured auth method for the given security type.
func (c *ClientConn) findAuth(securityType uint8) ClientAuth {
	for _, auth := range c.clientAuths() {
		if auth.SecurityType() == securityType {
			return auth
		}
	}
	return nil
}

// clientAuths returns the configured auth methods, defaulting to None.
func (c *ClientConn) clientAuths() []ClientAuth {
	if c.config.Auth == nil {
		return []ClientAuth{new(ClientAuthNone)}
	}
	return c.config.Auth
}

// readErrorReason reads an error reason string from the server.
func (c *ClientConn) readErrorReason() string {
	var reasonLen uint32
	if err := binary.Read(c.c, binary.BigEndian, &reasonLen); err != nil {
		return "<failed to read error reason length>"
	}

	if reasonLen > maxErrorReasonLength {
		return "<invalid error reason length>"
	}

	reason := make([]uint8, reasonLen)
	if _, err := io.ReadFull(c.c, reason); err != nil {
		return "<failed to read error reason>"
	}

	return string(reason)
}

// Context-aware network operation helpers

// readWithContext reads data from the connection with context cancellation
// support.
func (c *ClientConn) readWithContext(ctx context.Context, buf []byte) error {
	done := make(chan error, 1)

	go func() {
		_, err := io.ReadFull(c.c, buf)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeWithContext writes data to the connection with context cancellation
// support.
func (c *ClientConn) writeWithContext(ctx context.Context, data []byte) error {
	done := make(chan error, 1)

	go func() {
		_, err := c.c.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readBinaryWithContext reads binary data with context cancellation support.
func (c *ClientConn) readBinaryWithContext(ctx context.Context, data interface{}) error {
	done := make(chan error, 1)

	go func() {
		done <- binary.Read(c.c, binary.BigEndian, data)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeBinaryWithContext writes binary data with context cancellation
// support.
func (c *ClientConn) writeBinaryWithContext(ctx context.Context, data interface{}) error {
	done := make(chan error, 1)

	go func() {
		done <- binary.Write(c.c, binary.BigEndian, data)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPixelFormatWithContext reads pixel format data with context
// cancellation support.
func (c *ClientConn) readPixelFormatWithContext(ctx context.Context, pf *PixelFormat) error {
	done := make(chan error, 1)

	go func() {
		done <- readPixelFormat(c.c, pf)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
