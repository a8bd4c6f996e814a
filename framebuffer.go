// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"fmt"
	"sync"
)

// Cursor holds a decoded cursor shape from the Cursor pseudo-encoding.
// Pixels are RGBA8888, row-major, with the bitmask already applied to the
// alpha channel.
type Cursor struct {
	Width    uint16
	Height   uint16
	HotspotX uint16
	HotspotY uint16
	Pixels   []byte
}

// clone returns a deep copy of the cursor.
func (c *Cursor) clone() *Cursor {
	if c == nil {
		return nil
	}
	dup := *c
	dup.Pixels = make([]byte, len(c.Pixels))
	copy(dup.Pixels, c.Pixels)
	return &dup
}

// Framebuffer is the client-side RGBA8888 copy of the remote display.
// Decoded rectangles are applied by the session read loop while consumers
// read concurrently via Snapshot and CopyRegion; an internal lock keeps the
// copies coherent. Consumers only ever receive copies, never the buffer.
type Framebuffer struct {
	mu     sync.RWMutex
	width  uint16
	height uint16
	pixels []byte
	cursor *Cursor
}

// NewFramebuffer allocates a framebuffer of the given dimensions.
func NewFramebuffer(width, height uint16) *Framebuffer {
	return &Framebuffer{
		width:  width,
		height: height,
		pixels: make([]byte, int(width)*int(height)*4),
	}
}

// Width returns the framebuffer width in pixels.
func (fb *Framebuffer) Width() uint16 {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	return fb.width
}

// Height returns the framebuffer height in pixels.
func (fb *Framebuffer) Height() uint16 {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	return fb.height
}

// Resize reallocates the buffer for the new dimensions. Previous content is
// discarded; the caller is expected to request a full update afterwards.
func (fb *Framebuffer) Resize(width, height uint16) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.width = width
	fb.height = height
	fb.pixels = make([]byte, int(width)*int(height)*4)
}

// checkBounds verifies a rectangle lies within the framebuffer. Callers
// hold fb.mu.
func (fb *Framebuffer) checkBounds(x, y, w, h uint16) error {
	if uint32(x)+uint32(w) > uint32(fb.width) || uint32(y)+uint32(h) > uint32(fb.height) {
		return validationError("Framebuffer.checkBounds",
			fmt.Sprintf("rectangle %dx%d at (%d,%d) exceeds framebuffer %dx%d",
				w, h, x, y, fb.width, fb.height), nil)
	}
	return nil
}

// BlitRGBA copies a w*h*4 byte RGBA region into the framebuffer at (x, y).
func (fb *Framebuffer) BlitRGBA(x, y, w, h uint16, data []byte) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.blitLocked(x, y, w, h, data)
}

// blitLocked is BlitRGBA without locking. Callers hold fb.mu.
func (fb *Framebuffer) blitLocked(x, y, w, h uint16, data []byte) error {
	if err := fb.checkBounds(x, y, w, h); err != nil {
		return err
	}
	if len(data) < int(w)*int(h)*4 {
		return validationError("Framebuffer.BlitRGBA", "pixel data shorter than rectangle", nil)
	}

	rowLen := int(w) * 4
	stride := int(fb.width) * 4
	for row := 0; row < int(h); row++ {
		dst := (int(y)+row)*stride + int(x)*4
		copy(fb.pixels[dst:dst+rowLen], data[row*rowLen:(row+1)*rowLen])
	}
	return nil
}

// FillRect fills a rectangle with a single RGBA color.
func (fb *Framebuffer) FillRect(x, y, w, h uint16, rgba [4]byte) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if err := fb.checkBounds(x, y, w, h); err != nil {
		return err
	}

	stride := int(fb.width) * 4
	for row := 0; row < int(h); row++ {
		off := (int(y)+row)*stride + int(x)*4
		for col := 0; col < int(w); col++ {
			copy(fb.pixels[off:off+4], rgba[:])
			off += 4
		}
	}
	return nil
}

// SetPixel writes a single RGBA pixel. Used by decoders that produce pixels
// one at a time.
func (fb *Framebuffer) SetPixel(x, y uint16, rgba []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if x >= fb.width || y >= fb.height {
		return
	}
	off := (int(y)*int(fb.width) + int(x)) * 4
	copy(fb.pixels[off:off+4], rgba[:4])
}

// CopyRect copies a w*h region from (srcX, srcY) to (dstX, dstY) within the
// framebuffer. The copy goes through an intermediate buffer so overlapping
// regions are handled correctly.
func (fb *Framebuffer) CopyRect(dstX, dstY, srcX, srcY, w, h uint16) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if err := fb.checkBounds(dstX, dstY, w, h); err != nil {
		return err
	}

	src, err := fb.copyRegionLocked(srcX, srcY, w, h)
	if err != nil {
		return err
	}
	return fb.blitLocked(dstX, dstY, w, h, src)
}

// CopyRegion returns a copy of the RGBA pixels for a rectangle. The returned
// slice shares no memory with the framebuffer.
func (fb *Framebuffer) CopyRegion(x, y, w, h uint16) ([]byte, error) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	return fb.copyRegionLocked(x, y, w, h)
}

// copyRegionLocked is CopyRegion without locking. Callers hold fb.mu.
func (fb *Framebuffer) copyRegionLocked(x, y, w, h uint16) ([]byte, error) {
	if err := fb.checkBounds(x, y, w, h); err != nil {
		return nil, err
	}

	out := make([]byte, int(w)*int(h)*4)
	rowLen := int(w) * 4
	stride := int(fb.width) * 4
	for row := 0; row < int(h); row++ {
		src := (int(y)+row)*stride + int(x)*4
		copy(out[row*rowLen:(row+1)*rowLen], fb.pixels[src:src+rowLen])
	}
	return out, nil
}

// Snapshot returns a copy of the whole framebuffer.
func (fb *Framebuffer) Snapshot() []byte {
	fb.mu.RLock()
	defer fb.mu.RUnlock()

	out := make([]byte, len(fb.pixels))
	copy(out, fb.pixels)
	return out
}

// SetCursor stores the current cursor shape.
func (fb *Framebuffer) SetCursor(c *Cursor) {
	fb.mu.Lock()
	fb.cursor = c
	fb.mu.Unlock()
}

// CursorShape returns a copy of the current cursor shape, or nil if the
// server has not sent one.
func (fb *Framebuffer) CursorShape() *Cursor {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	return fb.cursor.clone()
}
