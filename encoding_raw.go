// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"io"
)

// RawDecoder handles the Raw encoding as defined in RFC 6143 Section 7.7.1:
// width*height pixels in the negotiated pixel format, row-major.
type RawDecoder struct{}

// Type returns the encoding type identifier for Raw encoding.
func (*RawDecoder) Type() int32 {
	return EncodingRaw
}

// Decode reads the raw pixel data and blits it into the framebuffer.
func (*RawDecoder) Decode(r io.Reader, rect *Rectangle, pd *pixelDecoder, fb *Framebuffer) error {
	pixelCount := int(rect.Width) * int(rect.Height)
	wire := make([]byte, pixelCount*pd.bytesPerPixel())
	if _, err := io.ReadFull(r, wire); err != nil {
		return encodingError("RawDecoder.Decode", "failed to read raw pixel data", err)
	}

	rgba := make([]byte, pixelCount*4)
	pd.decodeRawInto(wire, rgba)

	if err := fb.BlitRGBA(rect.X, rect.Y, rect.Width, rect.Height, rgba); err != nil {
		return encodingError("RawDecoder.Decode", "failed to apply raw rectangle", err)
	}
	return nil
}
