// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

// X11 keysym values for keys commonly sent to VM consoles, from
// X11/keysymdef.h. Printable ASCII characters map directly to their code
// points and need no constants here.
const (
	XKBackSpace uint32 = 0xff08
	XKTab       uint32 = 0xff09
	XKReturn    uint32 = 0xff0d
	XKEscape    uint32 = 0xff1b
	XKInsert    uint32 = 0xff63
	XKDelete    uint32 = 0xffff

	XKHome     uint32 = 0xff50
	XKLeft     uint32 = 0xff51
	XKUp       uint32 = 0xff52
	XKRight    uint32 = 0xff53
	XKDown     uint32 = 0xff54
	XKPageUp   uint32 = 0xff55
	XKPageDown uint32 = 0xff56
	XKEnd      uint32 = 0xff57

	XKF1  uint32 = 0xffbe
	XKF2  uint32 = 0xffbf
	XKF3  uint32 = 0xffc0
	XKF4  uint32 = 0xffc1
	XKF5  uint32 = 0xffc2
	XKF6  uint32 = 0xffc3
	XKF7  uint32 = 0xffc4
	XKF8  uint32 = 0xffc5
	XKF9  uint32 = 0xffc6
	XKF10 uint32 = 0xffc7
	XKF11 uint32 = 0xffc8
	XKF12 uint32 = 0xffc9

	XKShiftL   uint32 = 0xffe1
	XKShiftR   uint32 = 0xffe2
	XKControlL uint32 = 0xffe3
	XKControlR uint32 = 0xffe4
	XKAltL     uint32 = 0xffe9
	XKAltR     uint32 = 0xffea
	XKSuperL   uint32 = 0xffeb
	XKSuperR   uint32 = 0xffec
)
