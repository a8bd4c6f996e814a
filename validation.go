// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"fmt"
)

// Protocol sanity limits. These bound what the client will accept from a
// server before treating the stream as malformed.
const (
	MaxRectanglesPerUpdate   = 10000
	MaxClipboardLength       = 1024 * 1024
	MaxServerClipboardLength = 10 * 1024 * 1024
	MaxFramebufferDimension  = 32767
	MaxCursorDimension       = 256

	maxDesktopNameLength = 1024 * 1024
	maxErrorReasonLength = 64 * 1024
	maxFramebufferPixels = 100 * 1024 * 1024
)

// validateRectangle verifies a rectangle lies within the framebuffer bounds.
func validateRectangle(x, y, w, h, fbWidth, fbHeight uint16) error {
	if uint32(x)+uint32(w) > uint32(fbWidth) || uint32(y)+uint32(h) > uint32(fbHeight) {
		return validationError("validateRectangle",
			fmt.Sprintf("rectangle %dx%d at (%d,%d) exceeds framebuffer %dx%d",
				w, h, x, y, fbWidth, fbHeight), nil)
	}
	return nil
}

// validateDesktopSize verifies dimensions announced by the server.
func validateDesktopSize(width, height uint16) error {
	if width == 0 || height == 0 {
		return validationError("validateDesktopSize", "desktop dimensions cannot be zero", nil)
	}
	if width > MaxFramebufferDimension || height > MaxFramebufferDimension {
		return validationError("validateDesktopSize", "desktop dimensions too large", nil)
	}
	if uint64(width)*uint64(height) > maxFramebufferPixels {
		return validationError("validateDesktopSize", "desktop size would require too much memory", nil)
	}
	return nil
}
