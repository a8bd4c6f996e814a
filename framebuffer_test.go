// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fillSequential writes a unique RGBA value per pixel so copies can be
// traced.
func fillSequential(t *testing.T, fb *Framebuffer) {
	t.Helper()
	for y := uint16(0); y < fb.Height(); y++ {
		for x := uint16(0); x < fb.Width(); x++ {
			v := uint8(int(y)*int(fb.Width()) + int(x))
			fb.SetPixel(x, y, []byte{v, v, v, 0xff})
		}
	}
}

func pixelAt(snapshot []byte, width, x, y uint16) [4]byte {
	off := (int(y)*int(width) + int(x)) * 4
	var p [4]byte
	copy(p[:], snapshot[off:off+4])
	return p
}

func TestFramebufferBlitAndSnapshot(t *testing.T) {
	fb := NewFramebuffer(8, 4)

	data := make([]byte, 2*2*4)
	for i := 0; i < 4; i++ {
		copy(data[i*4:], []byte{10, 20, 30, 0xff})
	}
	require.NoError(t, fb.BlitRGBA(3, 1, 2, 2, data))

	snap := fb.Snapshot()
	assert.Equal(t, [4]byte{10, 20, 30, 0xff}, pixelAt(snap, 8, 3, 1))
	assert.Equal(t, [4]byte{10, 20, 30, 0xff}, pixelAt(snap, 8, 4, 2))
	assert.Equal(t, [4]byte{0, 0, 0, 0}, pixelAt(snap, 8, 2, 1))

	// Snapshot is a copy, not a view.
	snap[0] = 0xaa
	assert.Equal(t, uint8(0), fb.Snapshot()[0])
}

func TestFramebufferBlitBounds(t *testing.T) {
	fb := NewFramebuffer(8, 4)

	err := fb.BlitRGBA(7, 0, 2, 1, make([]byte, 2*4))
	require.Error(t, err)
	assert.True(t, IsVNCError(err, ErrValidation))

	err = fb.BlitRGBA(0, 0, 2, 2, make([]byte, 4))
	require.Error(t, err)
}

func TestFramebufferFillRect(t *testing.T) {
	fb := NewFramebuffer(4, 4)
	require.NoError(t, fb.FillRect(1, 1, 2, 2, [4]byte{1, 2, 3, 0xff}))

	snap := fb.Snapshot()
	assert.Equal(t, [4]byte{1, 2, 3, 0xff}, pixelAt(snap, 4, 1, 1))
	assert.Equal(t, [4]byte{1, 2, 3, 0xff}, pixelAt(snap, 4, 2, 2))
	assert.Equal(t, [4]byte{0, 0, 0, 0}, pixelAt(snap, 4, 0, 0))
	assert.Equal(t, [4]byte{0, 0, 0, 0}, pixelAt(snap, 4, 3, 3))
}

func TestFramebufferCopyRectOverlap(t *testing.T) {
	fb := NewFramebuffer(8, 2)
	fillSequential(t, fb)
	before := fb.Snapshot()

	// Overlapping shift one pixel right must behave like a copy through an
	// intermediate buffer.
	require.NoError(t, fb.CopyRect(1, 0, 0, 0, 7, 2))

	after := fb.Snapshot()
	for y := uint16(0); y < 2; y++ {
		for x := uint16(1); x < 8; x++ {
			assert.Equal(t, pixelAt(before, 8, x-1, y), pixelAt(after, 8, x, y),
				"pixel (%d,%d)", x, y)
		}
	}
}

func TestFramebufferResizeDiscardsContent(t *testing.T) {
	fb := NewFramebuffer(4, 4)
	require.NoError(t, fb.FillRect(0, 0, 4, 4, [4]byte{9, 9, 9, 0xff}))

	fb.Resize(6, 3)
	assert.Equal(t, uint16(6), fb.Width())
	assert.Equal(t, uint16(3), fb.Height())

	snap := fb.Snapshot()
	assert.Len(t, snap, 6*3*4)
	for _, b := range snap {
		assert.Equal(t, uint8(0), b)
	}
}

func TestFramebufferConcurrentReadersAndWriter(t *testing.T) {
	fb := NewFramebuffer(64, 64)

	// One writer applying updates while readers take snapshots, exercising
	// the same access pattern as a read loop with concurrent Snapshot
	// callers. Run with the race detector enabled.
	var wg sync.WaitGroup
	const iterations = 200

	wg.Add(1)
	go func() {
		defer wg.Done()
		data := make([]byte, 16*16*4)
		for i := 0; i < iterations; i++ {
			assert.NoError(t, fb.BlitRGBA(8, 8, 16, 16, data))
			assert.NoError(t, fb.FillRect(0, 0, 4, 4, [4]byte{1, 2, 3, 0xff}))
			assert.NoError(t, fb.CopyRect(32, 32, 0, 0, 8, 8))
			fb.SetCursor(&Cursor{Width: 2, Height: 2, Pixels: make([]byte, 2*2*4)})
			if i == iterations/2 {
				fb.Resize(64, 64)
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				snap := fb.Snapshot()
				assert.Len(t, snap, 64*64*4)
				_, _ = fb.CopyRegion(0, 0, 8, 8)
				_ = fb.CursorShape()
				_, _ = fb.Width(), fb.Height()
			}
		}()
	}

	wg.Wait()
}

func TestFramebufferCursor(t *testing.T) {
	fb := NewFramebuffer(4, 4)
	assert.Nil(t, fb.CursorShape())

	cursor := &Cursor{
		Width:    2,
		Height:   2,
		HotspotX: 1,
		HotspotY: 0,
		Pixels:   make([]byte, 2*2*4),
	}
	fb.SetCursor(cursor)

	got := fb.CursorShape()
	require.NotNil(t, got)
	assert.Equal(t, cursor.Width, got.Width)
	assert.Equal(t, cursor.HotspotX, got.HotspotX)

	// The returned cursor is a copy.
	got.Pixels[0] = 0xff
	assert.Equal(t, uint8(0), fb.CursorShape().Pixels[0])
}
