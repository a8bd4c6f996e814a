// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"fmt"
	"io"
)

// readCursorShape reads a Cursor pseudo-encoding payload. The rectangle
// position carries the hotspot and the payload is width*height pixels
// followed by a 1-bit transparency mask, one padded row per cursor row.
// The mask becomes the alpha channel of the returned cursor.
func readCursorShape(r io.Reader, rect *Rectangle, pd *pixelDecoder) (*Cursor, error) {
	if rect.Width > MaxCursorDimension || rect.Height > MaxCursorDimension {
		return nil, encodingError("readCursorShape",
			fmt.Sprintf("cursor dimensions too large: %dx%d (max %d)",
				rect.Width, rect.Height, MaxCursorDimension), nil)
	}

	pixelCount := int(rect.Width) * int(rect.Height)
	rgba := make([]byte, pixelCount*4)

	if pixelCount > 0 {
		wire := make([]byte, pixelCount*pd.bytesPerPixel())
		if _, err := io.ReadFull(r, wire); err != nil {
			return nil, encodingError("readCursorShape", "failed to read cursor pixels", err)
		}
		pd.decodeRawInto(wire, rgba)

		mask := make([]byte, calculateMaskDataSize(rect.Width, rect.Height))
		if _, err := io.ReadFull(r, mask); err != nil {
			return nil, encodingError("readCursorShape", "failed to read cursor mask", err)
		}

		rowBytes := (int(rect.Width) + 7) / 8
		for y := 0; y < int(rect.Height); y++ {
			for x := 0; x < int(rect.Width); x++ {
				bit := mask[y*rowBytes+x/8] >> (7 - uint(x)%8) & 1
				if bit == 0 {
					rgba[(y*int(rect.Width)+x)*4+3] = 0
				}
			}
		}
	}

	return &Cursor{
		Width:    rect.Width,
		Height:   rect.Height,
		HotspotX: rect.X,
		HotspotY: rect.Y,
		Pixels:   rgba,
	}, nil
}
