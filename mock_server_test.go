// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"
)

// pointerRecord is one PointerEvent as received on the wire.
type pointerRecord struct {
	mask uint8
	x, y uint16
}

// keyRecord is one KeyEvent as received on the wire.
type keyRecord struct {
	keysym uint32
	down   bool
}

// MockVNCServer is a scriptable RFB server for tests. It speaks protocol
// 3.3, 3.7, or 3.8, verifies VNC authentication against a configured
// password, records all client input messages, and answers framebuffer
// update requests from a queue of prebuilt update payloads.
type MockVNCServer struct {
	listener net.Listener
	addr     string
	wg       sync.WaitGroup
	stop     chan struct{}

	// Configuration, set before Start.
	Protocol    string // "3.3", "3.7", or "3.8"
	AuthTypes   []uint8
	Password    string
	FrameWidth  uint16
	FrameHeight uint16
	DesktopName string
	RejectAuth  bool
	FailureText string // handshake failure reason when no types are offered

	mu             sync.Mutex
	conns          []net.Conn
	updates        [][]byte
	pointerEvents  []pointerRecord
	keyEvents      []keyRecord
	cutTexts       []string
	encodings      []int32
	updateRequests int
}

// NewMockVNCServer returns a server with protocol 3.8 and no
// authentication.
func NewMockVNCServer() *MockVNCServer {
	return &MockVNCServer{
		Protocol:    "3.8",
		AuthTypes:   []uint8{SecurityTypeNone},
		FrameWidth:  800,
		FrameHeight: 600,
		DesktopName: "Mock VNC Server",
		stop:        make(chan struct{}),
	}
}

// Start listens on a random loopback port.
func (m *MockVNCServer) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}

	m.listener = listener
	m.addr = listener.Addr().String()

	m.wg.Add(1)
	go m.serve()

	return nil
}

// Stop closes the listener and all open connections.
func (m *MockVNCServer) Stop() {
	close(m.stop)
	if m.listener != nil {
		m.listener.Close()
	}
	m.mu.Lock()
	for _, c := range m.conns {
		c.Close()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Addr returns the server address.
func (m *MockVNCServer) Addr() string {
	return m.addr
}

// CloseConnections drops every open client connection while keeping the
// listener alive.
func (m *MockVNCServer) CloseConnections() {
	m.mu.Lock()
	for _, c := range m.conns {
		c.Close()
	}
	m.conns = nil
	m.mu.Unlock()
}

// QueueUpdate appends a prebuilt server message to be sent in response to
// the next framebuffer update request.
func (m *MockVNCServer) QueueUpdate(update []byte) {
	m.mu.Lock()
	m.updates = append(m.updates, update)
	m.mu.Unlock()
}

// PointerEvents returns the pointer events received so far.
func (m *MockVNCServer) PointerEvents() []pointerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pointerRecord, len(m.pointerEvents))
	copy(out, m.pointerEvents)
	return out
}

// KeyEvents returns the key events received so far.
func (m *MockVNCServer) KeyEvents() []keyRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]keyRecord, len(m.keyEvents))
	copy(out, m.keyEvents)
	return out
}

// CutTexts returns the clipboard texts received so far.
func (m *MockVNCServer) CutTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.cutTexts))
	copy(out, m.cutTexts)
	return out
}

// Encodings returns the encoding list from the last SetEncodings message.
func (m *MockVNCServer) Encodings() []int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int32, len(m.encodings))
	copy(out, m.encodings)
	return out
}

// UpdateRequests returns how many FramebufferUpdateRequest messages have
// arrived.
func (m *MockVNCServer) UpdateRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateRequests
}

func (m *MockVNCServer) serve() {
	defer m.wg.Done()

	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.stop:
				return
			default:
				continue
			}
		}

		m.mu.Lock()
		m.conns = append(m.conns, conn)
		m.mu.Unlock()

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.handleConnection(conn)
		}()
	}
}

func (m *MockVNCServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return
	}

	if err := m.handleProtocolVersion(conn); err != nil {
		return
	}
	if err := m.handleSecurity(conn); err != nil {
		return
	}
	if err := m.handleClientInit(conn); err != nil {
		return
	}
	if err := m.handleServerInit(conn); err != nil {
		return
	}

	m.handleMessages(conn)
}

func (m *MockVNCServer) handleProtocolVersion(conn net.Conn) error {
	version := "RFB 003.008\n"
	switch m.Protocol {
	case "3.3":
		version = "RFB 003.003\n"
	case "3.7":
		version = "RFB 003.007\n"
	}

	if _, err := conn.Write([]byte(version)); err != nil {
		return err
	}

	buf := make([]byte, 12)
	_, err := io.ReadFull(conn, buf)
	return err
}

func (m *MockVNCServer) handleSecurity(conn net.Conn) error {
	if m.Protocol == "3.3" {
		return m.handleSecurity33(conn)
	}
	return m.handleSecurity37(conn)
}

// handleSecurity33 dictates the security type without offering a choice.
func (m *MockVNCServer) handleSecurity33(conn net.Conn) error {
	if len(m.AuthTypes) == 0 {
		if err := binary.Write(conn, binary.BigEndian, uint32(0)); err != nil {
			return err
		}
		return m.writeReason(conn)
	}

	chosen := m.AuthTypes[0]
	if err := binary.Write(conn, binary.BigEndian, uint32(chosen)); err != nil {
		return err
	}

	if chosen == SecurityTypeVNCAuth {
		ok, err := m.runVNCAuth(conn)
		if err != nil {
			return err
		}
		return m.writeSecurityResult(conn, ok, false)
	}
	return nil
}

// handleSecurity37 offers the type list and reads the client's choice. In
// 3.8 a SecurityResult always follows; in 3.7 only after VNC auth.
func (m *MockVNCServer) handleSecurity37(conn net.Conn) error {
	if len(m.AuthTypes) == 0 {
		if err := binary.Write(conn, binary.BigEndian, uint8(0)); err != nil {
			return err
		}
		return m.writeReason(conn)
	}

	if err := binary.Write(conn, binary.BigEndian, uint8(len(m.AuthTypes))); err != nil {
		return err
	}
	for _, authType := range m.AuthTypes {
		if err := binary.Write(conn, binary.BigEndian, authType); err != nil {
			return err
		}
	}

	var chosenType uint8
	if err := binary.Read(conn, binary.BigEndian, &chosenType); err != nil {
		return err
	}

	ok := !m.RejectAuth
	if chosenType == SecurityTypeVNCAuth {
		var err error
		ok, err = m.runVNCAuth(conn)
		if err != nil {
			return err
		}
	}

	is38 := m.Protocol != "3.7"
	if is38 || chosenType == SecurityTypeVNCAuth {
		return m.writeSecurityResult(conn, ok, is38)
	}
	return nil
}

// runVNCAuth sends a fixed challenge and checks the response against the
// configured password.
func (m *MockVNCServer) runVNCAuth(conn net.Conn) (bool, error) {
	challenge := make([]byte, VNCChallengeSize)
	for i := range challenge {
		challenge[i] = byte(i)
	}

	if _, err := conn.Write(challenge); err != nil {
		return false, err
	}

	response := make([]byte, VNCChallengeSize)
	if _, err := io.ReadFull(conn, response); err != nil {
		return false, err
	}

	if m.RejectAuth {
		return false, nil
	}

	expected, err := encryptVNCChallenge(m.Password, challenge)
	if err != nil {
		return false, err
	}
	return bytes.Equal(response, expected), nil
}

func (m *MockVNCServer) writeSecurityResult(conn net.Conn, ok, reasonOnFailure bool) error {
	if ok {
		return binary.Write(conn, binary.BigEndian, uint32(0))
	}

	if err := binary.Write(conn, binary.BigEndian, uint32(1)); err != nil {
		return err
	}
	if reasonOnFailure {
		return m.writeReason(conn)
	}
	return nil
}

func (m *MockVNCServer) writeReason(conn net.Conn) error {
	reason := m.FailureText
	if reason == "" {
		reason = "access denied"
	}
	if err := binary.Write(conn, binary.BigEndian, uint32(len(reason))); err != nil {
		return err
	}
	_, err := conn.Write([]byte(reason))
	return err
}

func (m *MockVNCServer) handleClientInit(conn net.Conn) error {
	var shared uint8
	return binary.Read(conn, binary.BigEndian, &shared)
}

func (m *MockVNCServer) handleServerInit(conn net.Conn) error {
	if err := binary.Write(conn, binary.BigEndian, m.FrameWidth); err != nil {
		return err
	}
	if err := binary.Write(conn, binary.BigEndian, m.FrameHeight); err != nil {
		return err
	}

	pixelFormat := []byte{
		32, 24, 0, 1, // BPP, depth, big endian, true color
		0, 255, 0, 255, 0, 255, // red, green, blue max
		16, 8, 0, // red, green, blue shift
		0, 0, 0, // padding
	}
	if _, err := conn.Write(pixelFormat); err != nil {
		return err
	}

	nameBytes := []byte(m.DesktopName)
	if err := binary.Write(conn, binary.BigEndian, uint32(len(nameBytes))); err != nil {
		return err
	}
	_, err := conn.Write(nameBytes)
	return err
}

// handleMessages parses client messages by their exact wire sizes so the
// stream framing survives interleaved input and update traffic.
func (m *MockVNCServer) handleMessages(conn net.Conn) {
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return
	}

	for {
		var msgType uint8
		if err := binary.Read(conn, binary.BigEndian, &msgType); err != nil {
			return
		}

		switch msgType {
		case 0: // SetPixelFormat
			buf := make([]byte, 19)
			if _, err := io.ReadFull(conn, buf); err != nil {
				return
			}

		case 2: // SetEncodings
			var header [3]byte
			if _, err := io.ReadFull(conn, header[:]); err != nil {
				return
			}
			count := binary.BigEndian.Uint16(header[1:])
			encs := make([]int32, count)
			if err := binary.Read(conn, binary.BigEndian, &encs); err != nil {
				return
			}
			m.mu.Lock()
			m.encodings = encs
			m.mu.Unlock()

		case 3: // FramebufferUpdateRequest
			buf := make([]byte, 9)
			if _, err := io.ReadFull(conn, buf); err != nil {
				return
			}
			m.mu.Lock()
			m.updateRequests++
			var update []byte
			if len(m.updates) > 0 {
				update = m.updates[0]
				m.updates = m.updates[1:]
			}
			m.mu.Unlock()
			if update != nil {
				if _, err := conn.Write(update); err != nil {
					return
				}
			}

		case 4: // KeyEvent
			buf := make([]byte, 7)
			if _, err := io.ReadFull(conn, buf); err != nil {
				return
			}
			m.mu.Lock()
			m.keyEvents = append(m.keyEvents, keyRecord{
				keysym: binary.BigEndian.Uint32(buf[3:]),
				down:   buf[0] == 1,
			})
			m.mu.Unlock()

		case 5: // PointerEvent
			buf := make([]byte, 5)
			if _, err := io.ReadFull(conn, buf); err != nil {
				return
			}
			m.mu.Lock()
			m.pointerEvents = append(m.pointerEvents, pointerRecord{
				mask: buf[0],
				x:    binary.BigEndian.Uint16(buf[1:]),
				y:    binary.BigEndian.Uint16(buf[3:]),
			})
			m.mu.Unlock()

		case 6: // ClientCutText
			var header [7]byte
			if _, err := io.ReadFull(conn, header[:]); err != nil {
				return
			}
			length := binary.BigEndian.Uint32(header[3:])
			text := make([]byte, length)
			if _, err := io.ReadFull(conn, text); err != nil {
				return
			}
			m.mu.Lock()
			m.cutTexts = append(m.cutTexts, string(text))
			m.mu.Unlock()

		default:
			return
		}
	}
}

// Update payload builders shared by the session and manager tests. Pixels
// use the 32-bit little-endian true color format the client requests.

// rawPixel encodes one RGB color as a wire pixel.
func rawPixel(r, g, b uint8) []byte {
	return []byte{b, g, r, 0}
}

// buildRectHeader starts a FramebufferUpdate message.
func buildRectHeader(buf *bytes.Buffer, numRects uint16) {
	buf.WriteByte(0) // FramebufferUpdate
	buf.WriteByte(0)
	binary.Write(buf, binary.BigEndian, numRects)
}

// buildRawUpdate builds an update with one Raw rectangle of a solid color.
func buildRawUpdate(x, y, w, h uint16, r, g, b uint8) []byte {
	var buf bytes.Buffer
	buildRectHeader(&buf, 1)
	for _, v := range []uint16{x, y, w, h} {
		binary.Write(&buf, binary.BigEndian, v)
	}
	binary.Write(&buf, binary.BigEndian, EncodingRaw)

	pixel := rawPixel(r, g, b)
	for i := 0; i < int(w)*int(h); i++ {
		buf.Write(pixel)
	}
	return buf.Bytes()
}

// buildResizeUpdate builds an update with one DesktopSize pseudo-rectangle.
func buildResizeUpdate(w, h uint16) []byte {
	var buf bytes.Buffer
	buildRectHeader(&buf, 1)
	for _, v := range []uint16{0, 0, w, h} {
		binary.Write(&buf, binary.BigEndian, v)
	}
	binary.Write(&buf, binary.BigEndian, EncodingDesktopSize)
	return buf.Bytes()
}

// buildBell builds a Bell message.
func buildBell() []byte {
	return []byte{2}
}

// buildServerCutText builds a ServerCutText message.
func buildServerCutText(text string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(3)
	buf.Write([]byte{0, 0, 0})
	binary.Write(&buf, binary.BigEndian, uint32(len(text)))
	buf.WriteString(text)
	return buf.Bytes()
}
