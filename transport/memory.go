// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
)

// Compile-time interface check.
var _ Transport = (*MemoryTransport)(nil)

// FrameFilter decides whether a message from one peer to another is
// delivered. Returning false drops it silently.
type FrameFilter func(from, to string, data []byte) bool

// MemoryNetwork connects MemoryTransports in-process.
type MemoryNetwork struct {
	mu     sync.Mutex
	nodes  map[string]*MemoryTransport
	links  map[ConnID]*memoryLink
	next   uint64
	filter FrameFilter
}

type memoryLink struct {
	id   ConnID
	a, b *MemoryTransport
}

func (l *memoryLink) other(t *MemoryTransport) *MemoryTransport {
	if l.a == t {
		return l.b
	}
	return l.a
}

// NewMemoryNetwork returns an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		nodes: make(map[string]*MemoryTransport),
		links: make(map[ConnID]*memoryLink),
	}
}

// Join adds a transport named peer. Names must be unique among the
// transports currently joined.
func (n *MemoryNetwork) Join(peer string) (*MemoryTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.nodes[peer]; exists {
		return nil, fmt.Errorf("transport: peer %q already joined", peer)
	}
	t := &MemoryTransport{network: n, peer: peer, events: newEventQueue()}
	n.nodes[peer] = t
	return t, nil
}

// Peers returns the names of the joined transports, sorted.
func (n *MemoryNetwork) Peers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	names := make([]string, 0, len(n.nodes))
	for name := range n.nodes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SetFilter installs a delivery filter. A nil filter delivers
// everything.
func (n *MemoryNetwork) SetFilter(filter FrameFilter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filter = filter
}

// Disconnect severs the link between a and b, reporting Disconnect to
// both sides. Returns false if they were not linked.
func (n *MemoryNetwork) Disconnect(a, b string) bool {
	n.mu.Lock()
	link := n.linkBetweenLocked(a, b)
	if link != nil {
		delete(n.links, link.id)
	}
	n.mu.Unlock()

	if link == nil {
		return false
	}
	link.a.events.push(Event{Kind: EventDisconnect, Conn: link.id, Peer: link.b.peer})
	link.b.events.push(Event{Kind: EventDisconnect, Conn: link.id, Peer: link.a.peer})
	return true
}

func (n *MemoryNetwork) linkBetweenLocked(a, b string) *memoryLink {
	for _, link := range n.links {
		if (link.a.peer == a && link.b.peer == b) || (link.a.peer == b && link.b.peer == a) {
			return link
		}
	}
	return nil
}

// MemoryTransport is one participant's endpoint on a MemoryNetwork.
type MemoryTransport struct {
	network *MemoryNetwork
	peer    string
	events  *eventQueue
	closed  bool // guarded by network.mu
}

// Peer returns the name the transport joined with.
func (t *MemoryTransport) Peer() string { return t.peer }

// Connect links t to peer. Both sides receive EventConnect.
func (t *MemoryTransport) Connect(_ context.Context, peer string) (ConnID, error) {
	n := t.network
	n.mu.Lock()
	if t.closed {
		n.mu.Unlock()
		return "", ErrClosed
	}
	remote, ok := n.nodes[peer]
	if !ok || remote == t {
		n.mu.Unlock()
		return "", fmt.Errorf("transport: no peer %q on the network", peer)
	}
	if link := n.linkBetweenLocked(t.peer, peer); link != nil {
		n.mu.Unlock()
		return link.id, nil
	}
	n.next++
	link := &memoryLink{id: ConnID(fmt.Sprintf("mem-%d", n.next)), a: t, b: remote}
	n.links[link.id] = link
	n.mu.Unlock()

	t.events.push(Event{Kind: EventConnect, Conn: link.id, Peer: remote.peer})
	remote.events.push(Event{Kind: EventConnect, Conn: link.id, Peer: t.peer})
	return link.id, nil
}

// Send delivers a copy of data to the other side of conn.
func (t *MemoryTransport) Send(_ context.Context, conn ConnID, data []byte) error {
	n := t.network
	n.mu.Lock()
	if t.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	link, ok := n.links[conn]
	if !ok || (link.a != t && link.b != t) {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownConnection, conn)
	}
	remote := link.other(t)
	filter := n.filter
	n.mu.Unlock()

	if filter != nil && !filter(t.peer, remote.peer, data) {
		return nil
	}
	remote.events.push(Event{Kind: EventMessage, Conn: conn, Peer: t.peer, Data: bytes.Clone(data)})
	return nil
}

// Events returns the event channel.
func (t *MemoryTransport) Events() <-chan Event { return t.events.out }

// Close leaves the network. Every linked peer receives EventDisconnect.
func (t *MemoryTransport) Close() error {
	n := t.network
	n.mu.Lock()
	if t.closed {
		n.mu.Unlock()
		return nil
	}
	t.closed = true
	delete(n.nodes, t.peer)
	var severed []*memoryLink
	for id, link := range n.links {
		if link.a == t || link.b == t {
			severed = append(severed, link)
			delete(n.links, id)
		}
	}
	n.mu.Unlock()

	for _, link := range severed {
		link.other(t).events.push(Event{Kind: EventDisconnect, Conn: link.id, Peer: t.peer})
	}
	t.events.close()
	return nil
}
