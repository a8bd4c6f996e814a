// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// PixelFormat describes how pixel color data is encoded and interpreted in a VNC connection.
type PixelFormat struct {
	// BPP (bits-per-pixel) specifies how many bits are used to represent each pixel.
	BPP uint8

	// Depth specifies the number of useful bits within each pixel value.
	Depth uint8

	// BigEndian determines the byte order for multi-byte pixel values.
	BigEndian bool

	// TrueColor determines whether pixels represent direct RGB values (true)
	// or indices into a color map (false).
	TrueColor bool

	// RedMax specifies the maximum value for the red color component.
	RedMax uint16

	// GreenMax specifies the maximum value for the green color component.
	GreenMax uint16

	// BlueMax specifies the maximum value for the blue color component.
	BlueMax uint16

	// RedShift specifies how many bits to right-shift a pixel value
	// to position the red color component at the least significant bits.
	RedShift uint8

	// GreenShift specifies how many bits to right-shift a pixel value
	// to position the green color component at the least significant bits.
	GreenShift uint8

	// BlueShift specifies how many bits to right-shift a pixel value
	// to position the blue color component at the least significant bits.
	BlueShift uint8
}

// readPixelFormat reads a VNC pixel format from the wire format.
// Parses the 16-byte pixel format structure as defined in RFC 6143.
func readPixelFormat(r io.Reader, result *PixelFormat) error {
	var rawPixelFormat [16]byte
	if _, err := io.ReadFull(r, rawPixelFormat[:]); err != nil {
		return networkError("readPixelFormat", "failed to read pixel format data", err)
	}

	var pfBoolByte uint8
	brPF := bytes.NewReader(rawPixelFormat[:])
	if err := binary.Read(brPF, binary.BigEndian, &result.BPP); err != nil {
		return protocolError("readPixelFormat", "failed to read BPP field", err)
	}

	if err := binary.Read(brPF, binary.BigEndian, &result.Depth); err != nil {
		return protocolError("readPixelFormat", "failed to read depth field", err)
	}

	if err := binary.Read(brPF, binary.BigEndian, &pfBoolByte); err != nil {
		return protocolError("readPixelFormat", "failed to read big endian flag", err)
	}
	result.BigEndian = pfBoolByte != 0

	if err := binary.Read(brPF, binary.BigEndian, &pfBoolByte); err != nil {
		return protocolError("readPixelFormat", "failed to read true color flag", err)
	}

	if pfBoolByte != 0 {
		// True color, so the color max & shift fields are meaningful.
		result.TrueColor = true

		if err := binary.Read(brPF, binary.BigEndian, &result.RedMax); err != nil {
			return protocolError("readPixelFormat", "failed to read red max value", err)
		}

		if err := binary.Read(brPF, binary.BigEndian, &result.GreenMax); err != nil {
			return protocolError("readPixelFormat", "failed to read green max value", err)
		}

		if err := binary.Read(brPF, binary.BigEndian, &result.BlueMax); err != nil {
			return protocolError("readPixelFormat", "failed to read blue max value", err)
		}

		if err := binary.Read(brPF, binary.BigEndian, &result.RedShift); err != nil {
			return protocolError("readPixelFormat", "failed to read red shift value", err)
		}

		if err := binary.Read(brPF, binary.BigEndian, &result.GreenShift); err != nil {
			return protocolError("readPixelFormat", "failed to read green shift value", err)
		}

		if err := binary.Read(brPF, binary.BigEndian, &result.BlueShift); err != nil {
			return protocolError("readPixelFormat", "failed to read blue shift value", err)
		}
	}

	return nil
}

// writePixelFormat converts a PixelFormat to its wire format representation.
// Returns the 16-byte pixel format structure as defined in RFC 6143.
func writePixelFormat(format *PixelFormat) ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.BigEndian, format.BPP); err != nil {
		return nil, encodingError("writePixelFormat", "failed to write BPP field", err)
	}

	if err := binary.Write(&buf, binary.BigEndian, format.Depth); err != nil {
		return nil, encodingError("writePixelFormat", "failed to write depth field", err)
	}

	var boolByte byte
	if format.BigEndian {
		boolByte = 1
	}
	if err := binary.Write(&buf, binary.BigEndian, boolByte); err != nil {
		return nil, encodingError("writePixelFormat", "failed to write big endian flag", err)
	}

	boolByte = 0
	if format.TrueColor {
		boolByte = 1
	}
	if err := binary.Write(&buf, binary.BigEndian, boolByte); err != nil {
		return nil, encodingError("writePixelFormat", "failed to write true color flag", err)
	}

	if format.TrueColor {
		if err := binary.Write(&buf, binary.BigEndian, format.RedMax); err != nil {
			return nil, encodingError("writePixelFormat", "failed to write red max value", err)
		}

		if err := binary.Write(&buf, binary.BigEndian, format.GreenMax); err != nil {
			return nil, encodingError("writePixelFormat", "failed to write green max value", err)
		}

		if err := binary.Write(&buf, binary.BigEndian, format.BlueMax); err != nil {
			return nil, encodingError("writePixelFormat", "failed to write blue max value", err)
		}

		if err := binary.Write(&buf, binary.BigEndian, format.RedShift); err != nil {
			return nil, encodingError("writePixelFormat", "failed to write red shift value", err)
		}

		if err := binary.Write(&buf, binary.BigEndian, format.GreenShift); err != nil {
			return nil, encodingError("writePixelFormat", "failed to write green shift value", err)
		}

		if err := binary.Write(&buf, binary.BigEndian, format.BlueShift); err != nil {
			return nil, encodingError("writePixelFormat", "failed to write blue shift value", err)
		}
	}

	// Pad out to 16 bytes.
	padded := make([]byte, 16)
	copy(padded, buf.Bytes())
	return padded, nil
}

// Validate checks the pixel format for internal consistency per RFC 6143.
func (pf *PixelFormat) Validate() error {
	if pf.BPP != 8 && pf.BPP != 16 && pf.BPP != 32 {
		return validationError("PixelFormat.Validate",
			fmt.Sprintf("bits per pixel must be 8, 16, or 32, got %d", pf.BPP), nil)
	}

	if pf.Depth == 0 || pf.Depth > pf.BPP {
		return validationError("PixelFormat.Validate",
			fmt.Sprintf("depth %d invalid for %d-bit pixels", pf.Depth, pf.BPP), nil)
	}

	if pf.TrueColor {
		if pf.RedMax == 0 && pf.GreenMax == 0 && pf.BlueMax == 0 {
			return validationError("PixelFormat.Validate",
				"all color maximums are zero in true color mode", nil)
		}

		maxShift := pf.BPP - 1
		if pf.RedShift > maxShift || pf.GreenShift > maxShift || pf.BlueShift > maxShift {
			return validationError("PixelFormat.Validate",
				fmt.Sprintf("color shift exceeds maximum for %d-bit pixels", pf.BPP), nil)
		}
	}

	return nil
}

// Common pixel format presets.
var (
	// PixelFormat32BitRGBA is the format the client requests after init:
	// 32 bpp, depth 24, true color, little endian, 8 bits per channel.
	PixelFormat32BitRGBA = &PixelFormat{
		BPP:        32,
		Depth:      24,
		BigEndian:  false,
		TrueColor:  true,
		RedMax:     255,
		GreenMax:   255,
		BlueMax:    255,
		RedShift:   16,
		GreenShift: 8,
		BlueShift:  0,
	}

	// PixelFormat16BitRGB565 represents 16-bit RGB565 true color format.
	PixelFormat16BitRGB565 = &PixelFormat{
		BPP:        16,
		Depth:      16,
		BigEndian:  false,
		TrueColor:  true,
		RedMax:     31,
		GreenMax:   63,
		BlueMax:    31,
		RedShift:   11,
		GreenShift: 5,
		BlueShift:  0,
	}

	// PixelFormat8BitIndexed represents 8-bit indexed color using the color map.
	PixelFormat8BitIndexed = &PixelFormat{
		BPP:       8,
		Depth:     8,
		BigEndian: false,
		TrueColor: false,
	}
)
