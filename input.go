// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"sync"
	"time"
)

// defaultPointerInterval is the minimum spacing between pointer move
// messages on the wire. Moves arriving faster are coalesced to the most
// recent position.
const defaultPointerInterval = 30 * time.Millisecond

// inputQueueSize bounds the number of input events waiting for dispatch.
const inputQueueSize = 128

type inputKind int

const (
	inputKey inputKind = iota
	inputPointer
	inputClipboard
)

type inputEvent struct {
	kind inputKind

	keysym uint32
	down   bool

	mask ButtonMask
	x, y uint16

	text string
}

// inputDispatcher serializes input delivery for one session. Key and
// clipboard events go out in arrival order; pointer moves are throttled so
// a fast-moving pointer sends the first position immediately and the
// latest position at the end of each interval. Button state changes are
// never delayed.
type inputDispatcher struct {
	session  *Session
	interval time.Duration

	queue chan inputEvent
	stopc chan struct{}
	once  sync.Once
}

func newInputDispatcher(s *Session, interval time.Duration) *inputDispatcher {
	if interval <= 0 {
		interval = defaultPointerInterval
	}

	d := &inputDispatcher{
		session:  s,
		interval: interval,
		queue:    make(chan inputEvent, inputQueueSize),
		stopc:    make(chan struct{}),
	}
	go d.run()
	return d
}

// stop shuts the dispatcher down. Queued events are discarded.
func (d *inputDispatcher) stop() {
	d.once.Do(func() {
		close(d.stopc)
	})
}

func (d *inputDispatcher) queueKey(keysym uint32, down bool) error {
	return d.enqueue(inputEvent{kind: inputKey, keysym: keysym, down: down})
}

func (d *inputDispatcher) queuePointer(mask ButtonMask, x, y uint16) error {
	return d.enqueue(inputEvent{kind: inputPointer, mask: mask, x: x, y: y})
}

func (d *inputDispatcher) queueClipboard(text string) error {
	return d.enqueue(inputEvent{kind: inputClipboard, text: text})
}

func (d *inputDispatcher) enqueue(ev inputEvent) error {
	select {
	case <-d.stopc:
		return sessionError("enqueue", "input dispatcher stopped", nil)
	default:
	}

	select {
	case d.queue <- ev:
		return nil
	default:
		return sessionError("enqueue", "input queue full", nil)
	}
}

// run is the dispatch loop. The timer is armed only while a coalesced
// pointer position is waiting for the end of its interval.
func (d *inputDispatcher) run() {
	var (
		lastSent    time.Time
		lastMask    ButtonMask
		maskValid   bool
		pending     *inputEvent
		timer       = time.NewTimer(d.interval)
		timerActive = false
	)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	flush := func(ev inputEvent) bool {
		if err := d.session.conn.PointerEvent(ev.mask, ev.x, ev.y); err != nil {
			d.session.disconnect(err)
			return false
		}
		lastSent = time.Now()
		lastMask = ev.mask
		maskValid = true
		return true
	}

	for {
		select {
		case <-d.stopc:
			return

		case <-timer.C:
			timerActive = false
			if pending != nil {
				ev := *pending
				pending = nil
				if !flush(ev) {
					return
				}
			}

		case ev := <-d.queue:
			switch ev.kind {
			case inputKey:
				if err := d.session.conn.KeyEvent(ev.keysym, ev.down); err != nil {
					d.session.disconnect(err)
					return
				}

			case inputClipboard:
				if err := d.session.conn.CutText(ev.text); err != nil {
					d.session.disconnect(err)
					return
				}

			case inputPointer:
				buttonChange := maskValid && ev.mask != lastMask
				elapsed := time.Since(lastSent)

				if buttonChange || pending == nil && elapsed >= d.interval {
					pending = nil
					if timerActive {
						if !timer.Stop() {
							select {
							case <-timer.C:
							default:
							}
						}
						timerActive = false
					}
					if !flush(ev) {
						return
					}
					continue
				}

				pending = &ev
				if !timerActive {
					wait := d.interval - elapsed
					if wait <= 0 {
						wait = time.Millisecond
					}
					timer.Reset(wait)
					timerActive = true
				}
			}
		}
	}
}
