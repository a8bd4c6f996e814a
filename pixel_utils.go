// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"io"
)

// pixelDecoder converts wire-format pixels in a negotiated PixelFormat into
// RGBA8888. One instance exists per connection; the color map pointer is
// shared with the connection so SetColourMapEntries updates take effect on
// subsequent decodes.
type pixelDecoder struct {
	pf        PixelFormat
	colorMap  *[ColorMapSize]Color
	byteOrder binary.ByteOrder
}

func newPixelDecoder(pf PixelFormat, colorMap *[ColorMapSize]Color) *pixelDecoder {
	var byteOrder binary.ByteOrder = binary.LittleEndian
	if pf.BigEndian {
		byteOrder = binary.BigEndian
	}

	return &pixelDecoder{
		pf:        pf,
		colorMap:  colorMap,
		byteOrder: byteOrder,
	}
}

// bytesPerPixel returns the number of bytes per wire pixel.
func (pd *pixelDecoder) bytesPerPixel() int {
	return int(pd.pf.BPP / 8)
}

// bytesToPixel converts wire pixel bytes to a raw pixel value.
func (pd *pixelDecoder) bytesToPixel(b []byte) uint32 {
	switch pd.pf.BPP {
	case 8:
		return uint32(b[0])
	case 16:
		return uint32(pd.byteOrder.Uint16(b))
	case 32:
		return pd.byteOrder.Uint32(b)
	default:
		return 0
	}
}

// pixelToRGBA writes the RGBA representation of a raw pixel value into dst,
// which must be at least 4 bytes. Components with a channel maximum other
// than 255 are scaled up; alpha is always opaque.
func (pd *pixelDecoder) pixelToRGBA(raw uint32, dst []byte) {
	if !pd.pf.TrueColor {
		c := pd.colorMap[raw&0xff].rgba8()
		copy(dst[:4], c[:])
		return
	}

	r := (raw >> pd.pf.RedShift) & uint32(pd.pf.RedMax)
	g := (raw >> pd.pf.GreenShift) & uint32(pd.pf.GreenMax)
	b := (raw >> pd.pf.BlueShift) & uint32(pd.pf.BlueMax)

	if pd.pf.RedMax != 255 && pd.pf.RedMax != 0 {
		r = r * 255 / uint32(pd.pf.RedMax)
	}
	if pd.pf.GreenMax != 255 && pd.pf.GreenMax != 0 {
		g = g * 255 / uint32(pd.pf.GreenMax)
	}
	if pd.pf.BlueMax != 255 && pd.pf.BlueMax != 0 {
		b = b * 255 / uint32(pd.pf.BlueMax)
	}

	dst[0] = uint8(r)
	dst[1] = uint8(g)
	dst[2] = uint8(b)
	dst[3] = 0xff
}

// readPixelRGBA reads one wire pixel from r and writes its RGBA value to dst.
func (pd *pixelDecoder) readPixelRGBA(r io.Reader, dst []byte) error {
	var buf [4]byte
	n := pd.bytesPerPixel()
	if _, err := io.ReadFull(r, buf[:n]); err != nil {
		return err
	}
	pd.pixelToRGBA(pd.bytesToPixel(buf[:n]), dst)
	return nil
}

// decodeRawInto converts a buffer of consecutive wire pixels into RGBA,
// writing 4 bytes per pixel into dst. src length must be a multiple of the
// wire pixel size and dst must hold len(src)/bpp*4 bytes.
func (pd *pixelDecoder) decodeRawInto(src, dst []byte) {
	n := pd.bytesPerPixel()
	for i, j := 0, 0; i+n <= len(src); i, j = i+n, j+4 {
		pd.pixelToRGBA(pd.bytesToPixel(src[i:i+n]), dst[j:j+4])
	}
}

// cpixelLen returns the compressed pixel size used by ZRLE. When the format
// is 32 bpp true color with depth 24 or less and the color components fit in
// three bytes, pixels are sent as 3 bytes on the wire.
func (pd *pixelDecoder) cpixelLen() int {
	pf := pd.pf
	if pf.BPP == 32 && pf.TrueColor && pf.Depth <= 24 {
		used := uint32(pf.RedMax)<<pf.RedShift |
			uint32(pf.GreenMax)<<pf.GreenShift |
			uint32(pf.BlueMax)<<pf.BlueShift
		if used&0xff000000 == 0 || used&0x000000ff == 0 {
			return 3
		}
	}
	return pd.bytesPerPixel()
}

// cpixelToPixel converts a compressed pixel (as produced for cpixelLen) to a
// raw pixel value.
func (pd *pixelDecoder) cpixelToPixel(b []byte) uint32 {
	if len(b) == 3 {
		if pd.pf.BigEndian {
			return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
		}
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	}
	return pd.bytesToPixel(b)
}

// readCPixelRGBA reads one ZRLE compressed pixel from r and writes its RGBA
// value to dst.
func (pd *pixelDecoder) readCPixelRGBA(r io.Reader, dst []byte) error {
	var buf [4]byte
	n := pd.cpixelLen()
	if _, err := io.ReadFull(r, buf[:n]); err != nil {
		return err
	}
	pd.pixelToRGBA(pd.cpixelToPixel(buf[:n]), dst)
	return nil
}

// calculateMaskDataSize returns the size of a cursor bitmask for the given
// dimensions, with rows padded to a byte boundary.
func calculateMaskDataSize(width, height uint16) int {
	bytesPerRow := (int(width) + 7) / 8
	return bytesPerRow * int(height)
}
