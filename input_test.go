// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointerMovesAreCoalesced(t *testing.T) {
	server := startAuthServer(t, 640, 480)

	m := NewManager(Config{PointerInterval: 50 * time.Millisecond})
	defer m.Close()

	s := connectSession(t, m, server)

	// A burst of moves with an unchanged button mask: the first goes out
	// immediately and the rest collapse into one trailing send.
	for i := 0; i < 100; i++ {
		require.NoError(t, s.SendPointerEvent(0, uint16(i), uint16(i)))
	}

	require.Eventually(t, func() bool {
		events := server.PointerEvents()
		return len(events) > 0 && events[len(events)-1].x == 99
	}, 2*time.Second, 10*time.Millisecond)

	events := server.PointerEvents()
	assert.LessOrEqual(t, len(events), 3)
	assert.Equal(t, uint16(0), events[0].x)
	assert.Equal(t, uint16(99), events[len(events)-1].x)
}

func TestPointerButtonChangeFlushesImmediately(t *testing.T) {
	server := startAuthServer(t, 640, 480)

	m := NewManager(Config{PointerInterval: 200 * time.Millisecond})
	defer m.Close()

	s := connectSession(t, m, server)

	require.NoError(t, s.SendPointerEvent(0, 10, 10))
	// The second move coalesces; the press and release flush immediately.
	require.NoError(t, s.SendPointerEvent(0, 11, 10))
	require.NoError(t, s.SendPointerEvent(ButtonLeft, 12, 10))
	require.NoError(t, s.SendPointerEvent(0, 12, 10))

	require.Eventually(t, func() bool {
		events := server.PointerEvents()
		if len(events) < 3 {
			return false
		}
		for _, ev := range events {
			if ev.mask == uint8(ButtonLeft) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	events := server.PointerEvents()
	assert.Equal(t, uint8(0), events[0].mask)

	// The press and release arrive without waiting for the interval.
	var press, release bool
	for _, ev := range events {
		if ev.mask == uint8(ButtonLeft) && ev.x == 12 {
			press = true
		}
		if press && ev.mask == 0 && ev.x == 12 {
			release = true
		}
	}
	assert.True(t, press)
	assert.True(t, release)
}

func TestKeyEventsAreNotThrottled(t *testing.T) {
	server := startAuthServer(t, 640, 480)

	m := NewManager(Config{PointerInterval: 500 * time.Millisecond})
	defer m.Close()

	s := connectSession(t, m, server)

	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, s.SendKeyEvent(uint32('a'), i%2 == 0))
	}

	require.Eventually(t, func() bool {
		return len(server.KeyEvents()) == 20
	}, 2*time.Second, 10*time.Millisecond)

	// All twenty events arrive well inside a single pointer interval.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestInputOrderingAcrossKinds(t *testing.T) {
	server := startAuthServer(t, 640, 480)

	m := NewManager(Config{})
	defer m.Close()

	s := connectSession(t, m, server)

	require.NoError(t, s.SendKeyEvent(uint32('x'), true))
	require.NoError(t, s.SendClipboard("one"))
	require.NoError(t, s.SendKeyEvent(uint32('x'), false))

	require.Eventually(t, func() bool {
		return len(server.KeyEvents()) == 2 && len(server.CutTexts()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	keys := server.KeyEvents()
	assert.True(t, keys[0].down)
	assert.False(t, keys[1].down)
}
