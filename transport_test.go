// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		vmID    string
		want    string
		wantErr bool
	}{
		{
			name: "http base",
			base: "http://api.example.com",
			vmID: "vm-42",
			want: "ws://api.example.com/api/console/vm-42/ws",
		},
		{
			name: "https base",
			base: "https://api.example.com:8443",
			vmID: "vm-42",
			want: "wss://api.example.com:8443/api/console/vm-42/ws",
		},
		{
			name: "base with trailing slash",
			base: "http://api.example.com/",
			vmID: "vm-42",
			want: "ws://api.example.com/api/console/vm-42/ws",
		},
		{
			name: "base with path prefix",
			base: "https://api.example.com/v2",
			vmID: "vm-42",
			want: "wss://api.example.com/v2/api/console/vm-42/ws",
		},
		{
			name: "vm id is escaped",
			base: "http://api.example.com",
			vmID: "vm/1 2",
			want: "ws://api.example.com/api/console/vm%2F1%202/ws",
		},
		{
			name:    "unsupported scheme",
			base:    "ftp://api.example.com",
			vmID:    "vm-42",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConsoleURL(tt.base, tt.vmID)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsVNCError(err, ErrConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDialRequiresEndpoint(t *testing.T) {
	_, err := Dial(context.Background(), Endpoint{})
	require.Error(t, err)
	assert.True(t, IsVNCError(err, ErrConfiguration))
}

func TestDialTCP(t *testing.T) {
	server := NewMockVNCServer()
	require.NoError(t, server.Start())
	defer server.Stop()

	conn, err := Dial(context.Background(), Endpoint{Addr: server.Addr()})
	require.NoError(t, err)
	defer conn.Close()

	// The mock speaks first with its version banner.
	banner := make([]byte, 12)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(conn, banner)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(banner), "RFB "))
}

func TestDialInvalidProxyURL(t *testing.T) {
	_, err := Dial(context.Background(), Endpoint{
		Addr:     "127.0.0.1:5900",
		ProxyURL: "://bad",
	})
	require.Error(t, err)
	assert.True(t, IsVNCError(err, ErrConfiguration))
}

// echoWSServer upgrades connections and echoes binary messages.
func echoWSServer(t *testing.T) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			messageType, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDialWebSocket(t *testing.T) {
	srv := echoWSServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, err := Dial(context.Background(), Endpoint{WebSocketURL: wsURL})
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte("RFB 003.008\n")
	_, err = conn.Write(payload)
	require.NoError(t, err)

	echo := make([]byte, len(payload))
	_, err = io.ReadFull(conn, echo)
	require.NoError(t, err)
	assert.Equal(t, payload, echo)
}

func TestWSConnPartialReads(t *testing.T) {
	srv := echoWSServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, err := Dial(context.Background(), Endpoint{WebSocketURL: wsURL})
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	_, err = conn.Write(payload)
	require.NoError(t, err)

	// One message consumed across several short reads.
	var got []byte
	buf := make([]byte, 3)
	for len(got) < len(payload) {
		n, err := conn.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, payload, got)
}

func TestDialWebSocketRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no console here", http.StatusForbidden)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, err := Dial(context.Background(), Endpoint{WebSocketURL: wsURL})
	require.Error(t, err)
	assert.True(t, IsVNCError(err, ErrNetwork))
	assert.Contains(t, err.Error(), "403")
}
