// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package vnc implements an RFB (remote framebuffer) client engine and a
// multi-session connection manager for VM console access.
//
// The protocol engine speaks RFB 3.3, 3.7, and 3.8 as defined in RFC 6143,
// with the Raw, CopyRect, RRE, Hextile, Zlib, and ZRLE encodings plus the
// Cursor and DesktopSize pseudo-encodings. Connections run over plain TCP,
// a SOCKS5 proxy, or a WebSocket console endpoint.
//
// Most applications use the Manager, which maintains independent sessions
// and fans their framebuffer, lifecycle, and clipboard events into a single
// channel:
//
//	m := vnc.NewManager(vnc.Config{})
//	defer m.Close()
//
//	s, err := m.Connect(ctx, vnc.Endpoint{Addr: "10.0.0.5:5900"},
//		[]vnc.ClientAuth{&vnc.PasswordAuth{Password: "secret"}})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	for ev := range m.Events() {
//		switch ev := ev.(type) {
//		case vnc.FramebufferUpdateEvent:
//			render(ev.Rect, ev.Pixels)
//		case vnc.StateChangeEvent:
//			log.Printf("%s: %s -> %s", ev.Session, ev.Old, ev.New)
//		}
//	}
//
// The lower-level ClientConn is available directly for callers that manage
// their own connection lifecycle.
package vnc
