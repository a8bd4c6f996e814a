// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxRRESubrectangles bounds the subrectangle count a server may claim in a
// single RRE rectangle.
const MaxRRESubrectangles = 1000000

// RREDecoder handles the RRE (rise-and-run-length) encoding as defined in
// RFC 6143 Section 7.7.3: a background color followed by colored
// subrectangles.
type RREDecoder struct{}

// Type returns the encoding type identifier for RRE encoding.
func (*RREDecoder) Type() int32 {
	return EncodingRRE
}

// Decode reads the background fill and subrectangles into the framebuffer.
func (*RREDecoder) Decode(r io.Reader, rect *Rectangle, pd *pixelDecoder, fb *Framebuffer) error {
	var numSubrects uint32
	if err := binary.Read(r, binary.BigEndian, &numSubrects); err != nil {
		return encodingError("RREDecoder.Decode", "failed to read subrectangle count", err)
	}

	if numSubrects > MaxRRESubrectangles {
		return encodingError("RREDecoder.Decode",
			fmt.Sprintf("too many subrectangles: %d (max %d)", numSubrects, MaxRRESubrectangles), nil)
	}

	var bg [4]byte
	if err := pd.readPixelRGBA(r, bg[:]); err != nil {
		return encodingError("RREDecoder.Decode", "failed to read background pixel", err)
	}
	if err := fb.FillRect(rect.X, rect.Y, rect.Width, rect.Height, bg); err != nil {
		return encodingError("RREDecoder.Decode", "failed to fill background", err)
	}

	var color [4]byte
	for i := uint32(0); i < numSubrects; i++ {
		if err := pd.readPixelRGBA(r, color[:]); err != nil {
			return encodingError("RREDecoder.Decode", "failed to read subrectangle pixel", err)
		}

		var x, y, w, h uint16
		for _, v := range []*uint16{&x, &y, &w, &h} {
			if err := binary.Read(r, binary.BigEndian, v); err != nil {
				return encodingError("RREDecoder.Decode", "failed to read subrectangle geometry", err)
			}
		}

		if uint32(x)+uint32(w) > uint32(rect.Width) || uint32(y)+uint32(h) > uint32(rect.Height) {
			return encodingError("RREDecoder.Decode",
				fmt.Sprintf("subrectangle %d extends outside rectangle bounds", i), nil)
		}

		if err := fb.FillRect(rect.X+x, rect.Y+y, w, h, color); err != nil {
			return encodingError("RREDecoder.Decode", "failed to fill subrectangle", err)
		}
	}

	return nil
}
