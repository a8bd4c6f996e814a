// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"io"
)

// Hextile subencoding flags and tile geometry from RFC 6143 Section 7.7.4.
const (
	HextileRaw                 = 1
	HextileBackgroundSpecified = 2
	HextileForegroundSpecified = 4
	HextileAnySubrects         = 8
	HextileSubrectsColoured    = 16

	HextileTileSize = 16
)

// HextileDecoder handles the Hextile encoding: the rectangle is split into
// 16x16 tiles, each either raw or described by a background, an optional
// foreground, and subrectangles. Background and foreground colors carry
// forward from tile to tile until respecified.
type HextileDecoder struct{}

// Type returns the encoding type identifier for Hextile encoding.
func (*HextileDecoder) Type() int32 {
	return EncodingHextile
}

// Decode reads and applies all tiles of the rectangle.
func (*HextileDecoder) Decode(r io.Reader, rect *Rectangle, pd *pixelDecoder, fb *Framebuffer) error {
	var background, foreground [4]byte

	for tileY := uint16(0); tileY < rect.Height; tileY += HextileTileSize {
		tileHeight := uint16(HextileTileSize)
		if tileY+tileHeight > rect.Height {
			tileHeight = rect.Height - tileY
		}

		for tileX := uint16(0); tileX < rect.Width; tileX += HextileTileSize {
			tileWidth := uint16(HextileTileSize)
			if tileX+tileWidth > rect.Width {
				tileWidth = rect.Width - tileX
			}

			absX := rect.X + tileX
			absY := rect.Y + tileY

			var subencoding uint8
			if err := binary.Read(r, binary.BigEndian, &subencoding); err != nil {
				return encodingError("HextileDecoder.Decode", "failed to read tile subencoding", err)
			}

			if subencoding&HextileRaw != 0 {
				pixelCount := int(tileWidth) * int(tileHeight)
				wire := make([]byte, pixelCount*pd.bytesPerPixel())
				if _, err := io.ReadFull(r, wire); err != nil {
					return encodingError("HextileDecoder.Decode", "failed to read raw tile pixels", err)
				}

				rgba := make([]byte, pixelCount*4)
				pd.decodeRawInto(wire, rgba)
				if err := fb.BlitRGBA(absX, absY, tileWidth, tileHeight, rgba); err != nil {
					return encodingError("HextileDecoder.Decode", "failed to apply raw tile", err)
				}
				continue
			}

			if subencoding&HextileBackgroundSpecified != 0 {
				if err := pd.readPixelRGBA(r, background[:]); err != nil {
					return encodingError("HextileDecoder.Decode", "failed to read background color", err)
				}
			}
			if err := fb.FillRect(absX, absY, tileWidth, tileHeight, background); err != nil {
				return encodingError("HextileDecoder.Decode", "failed to fill tile background", err)
			}

			if subencoding&HextileForegroundSpecified != 0 {
				if err := pd.readPixelRGBA(r, foreground[:]); err != nil {
					return encodingError("HextileDecoder.Decode", "failed to read foreground color", err)
				}
			}

			if subencoding&HextileAnySubrects == 0 {
				continue
			}

			var numSubrects uint8
			if err := binary.Read(r, binary.BigEndian, &numSubrects); err != nil {
				return encodingError("HextileDecoder.Decode", "failed to read subrectangle count", err)
			}

			for i := uint8(0); i < numSubrects; i++ {
				color := foreground
				if subencoding&HextileSubrectsColoured != 0 {
					if err := pd.readPixelRGBA(r, color[:]); err != nil {
						return encodingError("HextileDecoder.Decode", "failed to read subrectangle color", err)
					}
				}

				var xyData, whData uint8
				if err := binary.Read(r, binary.BigEndian, &xyData); err != nil {
					return encodingError("HextileDecoder.Decode", "failed to read subrectangle position", err)
				}
				if err := binary.Read(r, binary.BigEndian, &whData); err != nil {
					return encodingError("HextileDecoder.Decode", "failed to read subrectangle dimensions", err)
				}

				sx := uint16((xyData >> 4) & 0x0f)
				sy := uint16(xyData & 0x0f)
				sw := uint16((whData>>4)&0x0f) + 1
				sh := uint16(whData&0x0f) + 1

				if sx+sw > tileWidth || sy+sh > tileHeight {
					return encodingError("HextileDecoder.Decode", "subrectangle extends outside tile bounds", nil)
				}

				if err := fb.FillRect(absX+sx, absY+sy, sw, sh, color); err != nil {
					return encodingError("HextileDecoder.Decode", "failed to fill subrectangle", err)
				}
			}
		}
	}

	return nil
}
