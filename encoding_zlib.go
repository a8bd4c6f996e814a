// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
)

// maxCompressedRectLength bounds the compressed payload a server may claim
// for a single Zlib or ZRLE rectangle.
const maxCompressedRectLength = 64 * 1024 * 1024

// zlibStream is the persistent per-connection inflate state shared by the
// Zlib and ZRLE encodings. Each rectangle carries a 4-byte compressed length
// and that many bytes of one continuous zlib stream, so the reader is
// created on the first rectangle and reused for the rest of the connection.
type zlibStream struct {
	compressed bytes.Buffer
	inflater   io.ReadCloser
}

// chunkReader consumes the length-prefixed compressed chunk from r into the
// stream buffer and returns a reader over the inflated bytes.
func (zs *zlibStream) chunkReader(r io.Reader, op string) (io.Reader, error) {
	var compressedLen uint32
	if err := binary.Read(r, binary.BigEndian, &compressedLen); err != nil {
		return nil, encodingError(op, "failed to read compressed length", err)
	}

	if compressedLen > maxCompressedRectLength {
		return nil, encodingError(op,
			fmt.Sprintf("compressed payload too large: %d", compressedLen), nil)
	}

	if _, err := io.CopyN(&zs.compressed, r, int64(compressedLen)); err != nil {
		return nil, encodingError(op, "failed to read compressed payload", err)
	}

	if zs.inflater == nil {
		z, err := zlib.NewReader(&zs.compressed)
		if err != nil {
			return nil, encodingError(op, "failed to initialize zlib stream", err)
		}
		zs.inflater = z
	}

	return zs.inflater, nil
}

// ZlibDecoder handles the Zlib encoding (type 6). The inflated payload is
// Raw pixel data for the rectangle.
type ZlibDecoder struct {
	stream zlibStream
}

// Type returns the encoding type identifier for Zlib encoding.
func (*ZlibDecoder) Type() int32 {
	return EncodingZlib
}

// Decode reads the compressed chunk, inflates it through the persistent
// stream, and applies the pixels like a Raw rectangle.
func (d *ZlibDecoder) Decode(r io.Reader, rect *Rectangle, pd *pixelDecoder, fb *Framebuffer) error {
	z, err := d.stream.chunkReader(r, "ZlibDecoder.Decode")
	if err != nil {
		return err
	}

	pixelCount := int(rect.Width) * int(rect.Height)
	wire := make([]byte, pixelCount*pd.bytesPerPixel())
	if _, err := io.ReadFull(z, wire); err != nil {
		return encodingError("ZlibDecoder.Decode", "failed to inflate pixel data", err)
	}

	rgba := make([]byte, pixelCount*4)
	pd.decodeRawInto(wire, rgba)

	if err := fb.BlitRGBA(rect.X, rect.Y, rect.Width, rect.Height, rgba); err != nil {
		return encodingError("ZlibDecoder.Decode", "failed to apply zlib rectangle", err)
	}
	return nil
}
