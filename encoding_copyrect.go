// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"io"
)

// CopyRectDecoder handles the CopyRect encoding as defined in RFC 6143
// Section 7.7.2. The payload names a source position; the pixels are copied
// from elsewhere in the framebuffer. Overlapping source and destination
// regions must produce the same result as a copy through an intermediate
// buffer.
type CopyRectDecoder struct{}

// Type returns the encoding type identifier for CopyRect encoding.
func (*CopyRectDecoder) Type() int32 {
	return EncodingCopyRect
}

// Decode reads the source position and performs the intra-buffer copy.
func (*CopyRectDecoder) Decode(r io.Reader, rect *Rectangle, pd *pixelDecoder, fb *Framebuffer) error {
	var srcX, srcY uint16
	if err := binary.Read(r, binary.BigEndian, &srcX); err != nil {
		return encodingError("CopyRectDecoder.Decode", "failed to read source x position", err)
	}
	if err := binary.Read(r, binary.BigEndian, &srcY); err != nil {
		return encodingError("CopyRectDecoder.Decode", "failed to read source y position", err)
	}

	if err := fb.CopyRect(rect.X, rect.Y, srcX, srcY, rect.Width, rect.Height); err != nil {
		return encodingError("CopyRectDecoder.Decode", "invalid copy rectangle", err)
	}
	return nil
}
