// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"io"
)

// Encoding type identifiers from RFC 6143 and the community registry.
const (
	EncodingRaw         int32 = 0
	EncodingCopyRect    int32 = 1
	EncodingRRE         int32 = 2
	EncodingHextile     int32 = 5
	EncodingZlib        int32 = 6
	EncodingZRLE        int32 = 16
	EncodingCursor      int32 = -239
	EncodingDesktopSize int32 = -223
)

// Decoder consumes exactly one rectangle's wire payload from the stream and
// applies the decoded pixels to the framebuffer. Decoders that carry
// per-connection state (the zlib streams of Zlib and ZRLE) are instantiated
// fresh for every connection by newDecoderSet.
type Decoder interface {
	// Type returns the encoding type identifier this decoder handles.
	Type() int32

	// Decode reads the rectangle payload from r, converts it with pd, and
	// writes the result into fb.
	Decode(r io.Reader, rect *Rectangle, pd *pixelDecoder, fb *Framebuffer) error
}

// newDecoderSet builds the decoders for a fresh connection, keyed by
// encoding type. Pseudo-encodings (Cursor, DesktopSize) are handled by the
// session message loop, not here, because DesktopSize must resize the
// framebuffer before later rectangles in the same update apply.
func newDecoderSet() map[int32]Decoder {
	decoders := []Decoder{
		new(RawDecoder),
		new(CopyRectDecoder),
		new(RREDecoder),
		new(HextileDecoder),
		new(ZlibDecoder),
		new(ZRLEDecoder),
	}

	set := make(map[int32]Decoder, len(decoders))
	for _, d := range decoders {
		set[d.Type()] = d
	}
	return set
}

// clientEncodings is the SetEncodings list sent after init, in preference
// order, including the pseudo-encodings for cursor shapes and desktop
// resizes.
func clientEncodings() []int32 {
	return []int32{
		EncodingRaw,
		EncodingCopyRect,
		EncodingRRE,
		EncodingHextile,
		EncodingZlib,
		EncodingZRLE,
		EncodingCursor,
		EncodingDesktopSize,
	}
}
