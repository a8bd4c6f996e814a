// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

// ColorMapSize is the number of entries in an indexed color map.
const ColorMapSize = 256

// Color represents an RGB color value used in VNC color maps.
// Components are 16-bit as transmitted by SetColourMapEntries.
type Color struct {
	// R is the red color component value (0-65535).
	R uint16

	// G is the green color component value (0-65535).
	G uint16

	// B is the blue color component value (0-65535).
	B uint16
}

// rgba8 converts the 16-bit color components to 8-bit RGBA.
func (c Color) rgba8() [4]byte {
	return [4]byte{uint8(c.R >> 8), uint8(c.G >> 8), uint8(c.B >> 8), 0xff}
}
