// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bytes"
	"sync"
)

// DebugRing is a fixed-capacity ring buffer of log lines. It implements
// io.Writer so it can be attached as a zerolog output, keeping the most
// recent protocol activity available for diagnostics without unbounded
// memory growth.
type DebugRing struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewDebugRing returns a ring that retains the last capacity lines.
func NewDebugRing(capacity int) *DebugRing {
	if capacity <= 0 {
		capacity = 256
	}
	return &DebugRing{lines: make([]string, capacity)}
}

// Write records p as one or more log lines. It never fails.
func (d *DebugRing) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		d.lines[d.next] = string(line)
		d.next = (d.next + 1) % len(d.lines)
		if d.next == 0 {
			d.full = true
		}
	}

	return len(p), nil
}

// Lines returns the retained lines, oldest first.
func (d *DebugRing) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]string, 0, len(d.lines))
	if d.full {
		out = append(out, d.lines[d.next:]...)
	}
	return append(out, d.lines[:d.next]...)
}
