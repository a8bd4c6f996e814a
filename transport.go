// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
)

// Endpoint describes where and how to reach an RFB server. Exactly one of
// Addr or WebSocketURL must be set.
type Endpoint struct {
	// Addr is a host:port for a direct TCP connection.
	Addr string

	// WebSocketURL is a ws:// or wss:// URL for a WebSocket-tunneled
	// connection, such as a VM console proxy endpoint.
	WebSocketURL string

	// ProxyURL optionally routes the TCP connection through a proxy,
	// typically socks5://host:port. Ignored for WebSocket endpoints.
	ProxyURL string

	// Header carries extra HTTP headers for the WebSocket upgrade, such
	// as authorization tokens.
	Header http.Header
}

// ConsoleURL builds the WebSocket console endpoint for a VM behind an API
// server, rewriting an http or https base URL to its ws form.
func ConsoleURL(base, vmID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", configurationError("ConsoleURL", "invalid base URL", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", configurationError("ConsoleURL",
			fmt.Sprintf("unsupported URL scheme: %s", u.Scheme), nil)
	}

	return u.JoinPath("api", "console", vmID, "ws").String(), nil
}

// Dial opens a transport connection to the endpoint. The returned net.Conn
// carries the raw RFB byte stream regardless of the underlying transport.
func Dial(ctx context.Context, ep Endpoint) (net.Conn, error) {
	switch {
	case ep.WebSocketURL != "":
		return dialWebSocket(ctx, ep)
	case ep.Addr != "":
		return dialTCP(ctx, ep)
	default:
		return nil, configurationError("Dial", "endpoint has neither address nor WebSocket URL", nil)
	}
}

// dialTCP connects directly or through the configured proxy.
func dialTCP(ctx context.Context, ep Endpoint) (net.Conn, error) {
	if ep.ProxyURL == "" {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", ep.Addr)
		if err != nil {
			return nil, networkError("Dial", fmt.Sprintf("failed to connect to %s", ep.Addr), err)
		}
		return conn, nil
	}

	proxyURL, err := url.Parse(ep.ProxyURL)
	if err != nil {
		return nil, configurationError("Dial", "invalid proxy URL", err)
	}

	dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
	if err != nil {
		return nil, configurationError("Dial", "failed to create proxy dialer", err)
	}

	if cd, ok := dialer.(proxy.ContextDialer); ok {
		conn, err := cd.DialContext(ctx, "tcp", ep.Addr)
		if err != nil {
			return nil, networkError("Dial",
				fmt.Sprintf("failed to connect to %s via proxy", ep.Addr), err)
		}
		return conn, nil
	}

	conn, err := dialer.Dial("tcp", ep.Addr)
	if err != nil {
		return nil, networkError("Dial",
			fmt.Sprintf("failed to connect to %s via proxy", ep.Addr), err)
	}
	return conn, nil
}

// dialWebSocket upgrades to a WebSocket and wraps it as a net.Conn.
func dialWebSocket(ctx context.Context, ep Endpoint) (net.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
		Subprotocols:     []string{"binary"},
	}

	ws, resp, err := dialer.DialContext(ctx, ep.WebSocketURL, ep.Header)
	if err != nil {
		if resp != nil {
			return nil, networkError("Dial",
				fmt.Sprintf("WebSocket upgrade failed with status %s", resp.Status), err)
		}
		return nil, networkError("Dial", "failed to connect to WebSocket endpoint", err)
	}

	return newWSConn(ws), nil
}

// wsConn adapts a WebSocket connection carrying binary messages to the
// net.Conn stream interface the protocol engine reads from. Partial reads
// buffer the remainder of the current message.
type wsConn struct {
	ws *websocket.Conn

	readMu  sync.Mutex
	writeMu sync.Mutex
	buf     []byte
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

// Read returns buffered bytes from the current message, fetching the next
// binary message when the buffer is empty.
func (c *wsConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(c.buf) == 0 {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		c.buf = data
	}

	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

// Write sends p as a single binary message.
func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame and tears down the connection.
func (c *wsConn) Close() error {
	c.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
