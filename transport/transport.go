// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrUnknownConnection is returned by Send for a link that does
	// not exist or has gone away.
	ErrUnknownConnection = errors.New("transport: unknown connection")
)

// ConnID identifies one link of a transport.
type ConnID string

// EventKind distinguishes transport events.
type EventKind int

const (
	// EventConnect reports a new link, opened by either side.
	EventConnect EventKind = iota

	// EventDisconnect reports that a link went away. No further events
	// arrive for it.
	EventDisconnect

	// EventMessage carries one message received on a link.
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is one transport notification.
type Event struct {
	Kind EventKind
	Conn ConnID

	// Peer is the transport-level name of the remote side.
	Peer string

	// Data is the message payload for EventMessage.
	Data []byte
}

// Transport is a set of message links to peers.
type Transport interface {
	// Connect opens a link to peer, or returns the existing one.
	Connect(ctx context.Context, peer string) (ConnID, error)

	// Send writes one message on a link.
	Send(ctx context.Context, conn ConnID, data []byte) error

	// Events delivers events for every link. The channel is closed by
	// Close.
	Events() <-chan Event

	// Close tears down every link.
	Close() error
}

// eventQueue is an unbounded FIFO in front of an event channel, so a
// producer never blocks on a slow consumer.
type eventQueue struct {
	out    chan Event
	signal chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	pending   []Event
	closeOnce sync.Once
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		out:    make(chan Event),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.pump()
	return q
}

// push enqueues e. Returns false after close.
func (q *eventQueue) push(e Event) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	q.mu.Lock()
	q.pending = append(q.pending, e)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// close stops delivery and closes the output channel. Undelivered
// events are dropped.
func (q *eventQueue) close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *eventQueue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			select {
			case <-q.signal:
				continue
			case <-q.done:
				return
			}
		}
		next := q.pending[0]
		q.pending[0] = Event{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		select {
		case q.out <- next:
		case <-q.done:
			return
		}
	}
}
