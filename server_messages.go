// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"fmt"
)

// Server-to-client message types from RFC 6143 Section 7.6.
const (
	serverFramebufferUpdate   = 0
	serverSetColourMapEntries = 1
	serverBell                = 2
	serverCutText             = 3
)

// Rectangle describes the position and size of a framebuffer update
// rectangle.
type Rectangle struct {
	X      uint16
	Y      uint16
	Width  uint16
	Height uint16
}

// String returns a human-readable description of the rectangle.
func (r Rectangle) String() string {
	return fmt.Sprintf("%dx%d at (%d,%d)", r.Width, r.Height, r.X, r.Y)
}

// readMessageType reads the next server message type byte.
func (c *ClientConn) readMessageType(ctx context.Context) (uint8, error) {
	var messageType uint8
	if err := c.readBinaryWithContext(ctx, &messageType); err != nil {
		return 0, networkError("readMessageType", "failed to read server message type", err)
	}
	return messageType, nil
}

// readFramebufferUpdateHeader reads the remainder of a FramebufferUpdate
// header after the message type byte and returns the rectangle count.
func (c *ClientConn) readFramebufferUpdateHeader(ctx context.Context) (uint16, error) {
	var padding uint8
	if err := c.readBinaryWithContext(ctx, &padding); err != nil {
		return 0, networkError("readFramebufferUpdateHeader", "failed to read padding", err)
	}

	var numRects uint16
	if err := c.readBinaryWithContext(ctx, &numRects); err != nil {
		return 0, networkError("readFramebufferUpdateHeader", "failed to read rectangle count", err)
	}

	if numRects > MaxRectanglesPerUpdate {
		return 0, protocolError("readFramebufferUpdateHeader",
			fmt.Sprintf("too many rectangles in update: %d (max %d)", numRects, MaxRectanglesPerUpdate), nil)
	}

	return numRects, nil
}

// readRectangleHeader reads one rectangle header and its encoding type.
func (c *ClientConn) readRectangleHeader(ctx context.Context) (*Rectangle, int32, error) {
	var rect Rectangle
	for _, v := range []*uint16{&rect.X, &rect.Y, &rect.Width, &rect.Height} {
		if err := c.readBinaryWithContext(ctx, v); err != nil {
			return nil, 0, networkError("readRectangleHeader", "failed to read rectangle geometry", err)
		}
	}

	var encodingType int32
	if err := c.readBinaryWithContext(ctx, &encodingType); err != nil {
		return nil, 0, networkError("readRectangleHeader", "failed to read rectangle encoding", err)
	}

	return &rect, encodingType, nil
}

// readSetColourMapEntries reads a SetColourMapEntries message body and
// installs the entries into the connection color map.
func (c *ClientConn) readSetColourMapEntries(ctx context.Context) (uint16, []Color, error) {
	var padding uint8
	if err := c.readBinaryWithContext(ctx, &padding); err != nil {
		return 0, nil, networkError("readSetColourMapEntries", "failed to read padding", err)
	}

	var firstColor, numColors uint16
	if err := c.readBinaryWithContext(ctx, &firstColor); err != nil {
		return 0, nil, networkError("readSetColourMapEntries", "failed to read first color index", err)
	}
	if err := c.readBinaryWithContext(ctx, &numColors); err != nil {
		return 0, nil, networkError("readSetColourMapEntries", "failed to read color count", err)
	}

	if int(firstColor)+int(numColors) > ColorMapSize {
		return 0, nil, protocolError("readSetColourMapEntries",
			fmt.Sprintf("color map entries out of range: %d+%d", firstColor, numColors), nil)
	}

	colors := make([]Color, numColors)
	for i := range colors {
		for _, v := range []*uint16{&colors[i].R, &colors[i].G, &colors[i].B} {
			if err := c.readBinaryWithContext(ctx, v); err != nil {
				return 0, nil, networkError("readSetColourMapEntries", "failed to read color map entry", err)
			}
		}
	}

	c.setColorMapEntries(firstColor, colors)
	return firstColor, colors, nil
}

// readServerCutText reads a ServerCutText message body and returns the
// clipboard text.
func (c *ClientConn) readServerCutText(ctx context.Context) (string, error) {
	var padding [3]byte
	if err := c.readWithContext(ctx, padding[:]); err != nil {
		return "", networkError("readServerCutText", "failed to read padding", err)
	}

	var textLength uint32
	if err := c.readBinaryWithContext(ctx, &textLength); err != nil {
		return "", networkError("readServerCutText", "failed to read text length", err)
	}

	if textLength > MaxServerClipboardLength {
		return "", protocolError("readServerCutText",
			fmt.Sprintf("clipboard text too long: %d bytes (max %d)", textLength, MaxServerClipboardLength), nil)
	}

	text := make([]byte, textLength)
	if err := c.readWithContext(ctx, text); err != nil {
		return "", networkError("readServerCutText", "failed to read clipboard text", err)
	}

	return string(text), nil
}
