// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"fmt"
	"io"
)

// ZRLE subencoding values and tile geometry from RFC 6143 Section 7.7.6.
const (
	zrleTileSize = 64

	zrleRawSubencoding      = 0
	zrleSolidSubencoding    = 1
	zrlePlainRLESubencoding = 128
)

// ZRLEDecoder handles the ZRLE encoding (type 16): a single zlib stream per
// connection carrying 64x64 tiles, each tile raw, solid, packed palette, or
// run-length encoded. Pixels inside the stream use the compressed CPIXEL
// format when the negotiated pixel format allows it.
type ZRLEDecoder struct {
	stream zlibStream
}

// Type returns the encoding type identifier for ZRLE encoding.
func (*ZRLEDecoder) Type() int32 {
	return EncodingZRLE
}

// Decode inflates the rectangle payload and applies each tile.
func (d *ZRLEDecoder) Decode(r io.Reader, rect *Rectangle, pd *pixelDecoder, fb *Framebuffer) error {
	z, err := d.stream.chunkReader(r, "ZRLEDecoder.Decode")
	if err != nil {
		return err
	}

	for tileY := uint16(0); tileY < rect.Height; tileY += zrleTileSize {
		tileHeight := uint16(zrleTileSize)
		if tileY+tileHeight > rect.Height {
			tileHeight = rect.Height - tileY
		}

		for tileX := uint16(0); tileX < rect.Width; tileX += zrleTileSize {
			tileWidth := uint16(zrleTileSize)
			if tileX+tileWidth > rect.Width {
				tileWidth = rect.Width - tileX
			}

			if err := decodeZRLETile(z, pd, fb, rect.X+tileX, rect.Y+tileY, tileWidth, tileHeight); err != nil {
				return err
			}
		}
	}

	return nil
}

// decodeZRLETile reads one tile from the inflated stream and blits it at the
// given absolute framebuffer position.
func decodeZRLETile(z io.Reader, pd *pixelDecoder, fb *Framebuffer, absX, absY, width, height uint16) error {
	var subencoding [1]byte
	if _, err := io.ReadFull(z, subencoding[:]); err != nil {
		return encodingError("ZRLEDecoder.Decode", "failed to read tile subencoding", err)
	}
	sub := subencoding[0]

	pixelCount := int(width) * int(height)
	rgba := make([]byte, pixelCount*4)

	switch {
	case sub == zrleRawSubencoding:
		for i := 0; i < pixelCount; i++ {
			if err := pd.readCPixelRGBA(z, rgba[i*4:i*4+4]); err != nil {
				return encodingError("ZRLEDecoder.Decode", "failed to read raw tile pixel", err)
			}
		}

	case sub == zrleSolidSubencoding:
		var solid [4]byte
		if err := pd.readCPixelRGBA(z, solid[:]); err != nil {
			return encodingError("ZRLEDecoder.Decode", "failed to read solid tile color", err)
		}
		if err := fb.FillRect(absX, absY, width, height, solid); err != nil {
			return encodingError("ZRLEDecoder.Decode", "failed to fill solid tile", err)
		}
		return nil

	case sub >= 2 && sub <= 16:
		palette, err := readZRLEPalette(z, pd, int(sub))
		if err != nil {
			return err
		}
		if err := decodeZRLEPackedPixels(z, palette, rgba, int(width), int(height)); err != nil {
			return err
		}

	case sub == zrlePlainRLESubencoding:
		if err := decodeZRLEPlainRLE(z, pd, rgba, pixelCount); err != nil {
			return err
		}

	case sub >= 130:
		palette, err := readZRLEPalette(z, pd, int(sub)-128)
		if err != nil {
			return err
		}
		if err := decodeZRLEPaletteRLE(z, palette, rgba, pixelCount); err != nil {
			return err
		}

	default:
		return encodingError("ZRLEDecoder.Decode",
			fmt.Sprintf("invalid tile subencoding: %d", sub), nil)
	}

	if err := fb.BlitRGBA(absX, absY, width, height, rgba); err != nil {
		return encodingError("ZRLEDecoder.Decode", "failed to apply tile", err)
	}
	return nil
}

// readZRLEPalette reads size CPIXEL palette entries as RGBA.
func readZRLEPalette(z io.Reader, pd *pixelDecoder, size int) ([][4]byte, error) {
	palette := make([][4]byte, size)
	for i := range palette {
		if err := pd.readCPixelRGBA(z, palette[i][:]); err != nil {
			return nil, encodingError("ZRLEDecoder.Decode", "failed to read palette entry", err)
		}
	}
	return palette, nil
}

// decodeZRLEPackedPixels reads bit-packed palette indices. The index width
// depends on the palette size and each row is padded to a byte boundary.
func decodeZRLEPackedPixels(z io.Reader, palette [][4]byte, rgba []byte, width, height int) error {
	var bits int
	switch {
	case len(palette) <= 2:
		bits = 1
	case len(palette) <= 4:
		bits = 2
	default:
		bits = 4
	}

	rowBytes := (width*bits + 7) / 8
	row := make([]byte, rowBytes)

	for y := 0; y < height; y++ {
		if _, err := io.ReadFull(z, row); err != nil {
			return encodingError("ZRLEDecoder.Decode", "failed to read packed pixel row", err)
		}

		for x := 0; x < width; x++ {
			shift := 8 - bits - (x*bits)%8
			index := int(row[(x*bits)/8]>>shift) & ((1 << bits) - 1)
			if index >= len(palette) {
				return encodingError("ZRLEDecoder.Decode",
					fmt.Sprintf("palette index out of range: %d", index), nil)
			}
			copy(rgba[(y*width+x)*4:], palette[index][:])
		}
	}

	return nil
}

// decodeZRLEPlainRLE reads runs of CPIXEL plus length bytes, where each 255
// length byte continues the run.
func decodeZRLEPlainRLE(z io.Reader, pd *pixelDecoder, rgba []byte, pixelCount int) error {
	var color [4]byte
	pos := 0

	for pos < pixelCount {
		if err := pd.readCPixelRGBA(z, color[:]); err != nil {
			return encodingError("ZRLEDecoder.Decode", "failed to read run color", err)
		}

		runLen, err := readZRLERunLength(z)
		if err != nil {
			return err
		}
		if pos+runLen > pixelCount {
			return encodingError("ZRLEDecoder.Decode", "run extends past end of tile", nil)
		}

		for i := 0; i < runLen; i++ {
			copy(rgba[(pos+i)*4:], color[:])
		}
		pos += runLen
	}

	return nil
}

// decodeZRLEPaletteRLE reads palette indices where the high bit of the index
// byte marks a run with explicit length bytes.
func decodeZRLEPaletteRLE(z io.Reader, palette [][4]byte, rgba []byte, pixelCount int) error {
	var b [1]byte
	pos := 0

	for pos < pixelCount {
		if _, err := io.ReadFull(z, b[:]); err != nil {
			return encodingError("ZRLEDecoder.Decode", "failed to read palette run index", err)
		}

		index := int(b[0] & 0x7f)
		if index >= len(palette) {
			return encodingError("ZRLEDecoder.Decode",
				fmt.Sprintf("palette index out of range: %d", index), nil)
		}

		runLen := 1
		if b[0]&0x80 != 0 {
			var err error
			runLen, err = readZRLERunLength(z)
			if err != nil {
				return err
			}
		}
		if pos+runLen > pixelCount {
			return encodingError("ZRLEDecoder.Decode", "run extends past end of tile", nil)
		}

		for i := 0; i < runLen; i++ {
			copy(rgba[(pos+i)*4:], palette[index][:])
		}
		pos += runLen
	}

	return nil
}

// readZRLERunLength reads a run length encoded as length bytes summed plus
// one, where a 255 byte continues the sequence.
func readZRLERunLength(z io.Reader) (int, error) {
	length := 1
	var b [1]byte
	for {
		if _, err := io.ReadFull(z, b[:]); err != nil {
			return 0, encodingError("ZRLEDecoder.Decode", "failed to read run length", err)
		}
		length += int(b[0])
		if b[0] != 0xff {
			return length, nil
		}
	}
}
