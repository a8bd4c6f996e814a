// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugRingRetainsRecentLines(t *testing.T) {
	ring := NewDebugRing(4)

	for i := 0; i < 3; i++ {
		_, err := fmt.Fprintf(ring, "line %d\n", i)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"line 0", "line 1", "line 2"}, ring.Lines())
}

func TestDebugRingWrapsAround(t *testing.T) {
	ring := NewDebugRing(3)

	for i := 0; i < 5; i++ {
		fmt.Fprintf(ring, "line %d\n", i)
	}

	// Only the newest three survive, oldest first.
	assert.Equal(t, []string{"line 2", "line 3", "line 4"}, ring.Lines())
}

func TestDebugRingSplitsMultiLineWrites(t *testing.T) {
	ring := NewDebugRing(8)

	n, err := ring.Write([]byte("first\nsecond\nthird\n"))
	require.NoError(t, err)
	assert.Equal(t, 19, n)

	assert.Equal(t, []string{"first", "second", "third"}, ring.Lines())
}

func TestDebugRingDefaultCapacity(t *testing.T) {
	ring := NewDebugRing(0)

	for i := 0; i < 300; i++ {
		fmt.Fprintf(ring, "line %d\n", i)
	}

	lines := ring.Lines()
	require.Len(t, lines, 256)
	assert.Equal(t, "line 44", lines[0])
	assert.Equal(t, "line 299", lines[255])
}

func TestDebugRingAsLogWriter(t *testing.T) {
	ring := NewDebugRing(16)
	logger := zerolog.New(ring)

	logger.Info().Str("module", "vnc").Msg("connected")
	logger.Warn().Msg("server closed connection")

	lines := ring.Lines()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "connected")
	assert.Contains(t, lines[1], "server closed connection")
}
