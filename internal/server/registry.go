// Package server keeps the nickname registry: which connection owns which
// nickname, and who must hear about joins and departures.
package server

import (
	"log"
	"sort"

	"github.com/Bryght7/TIRC/internal/protocol"
)

// Peer is the part of a connection the registry and its users deliver to.
type Peer interface {
	// Enqueue queues frame for sending and reports false when the peer's
	// outgoing queue is full or closed. The frame must not be modified afterwards.
	Enqueue(frame []byte) bool
}

// Registry maps nicknames to their connections. It is confined to the reactor
// goroutine; every method must be called from there.
type Registry struct {
	clients         map[string]Peer
	numberConnected int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Peer)}
}

// Register binds nickname to peer unless the nickname is already held. On
// success every other registered peer is told that nickname joined.
func (r *Registry) Register(nickname string, peer Peer) bool {
	if _, taken := r.clients[nickname]; taken {
		return false
	}
	r.clients[nickname] = peer
	r.numberConnected++
	r.fanOut(protocol.Joined(nickname), nickname)
	log.Printf("Client %q registered. Total clients: %d", nickname, r.numberConnected)
	return true
}

// Unregister releases nickname and tells every remaining peer it left. It is a
// no-op when nickname is not registered.
func (r *Registry) Unregister(nickname string) {
	if _, ok := r.clients[nickname]; !ok {
		return
	}
	delete(r.clients, nickname)
	r.numberConnected--
	r.fanOut(protocol.Left(nickname), "")
	log.Printf("Client %q unregistered. Total clients: %d", nickname, r.numberConnected)
}

// ConnectedCount returns the number of registered clients.
func (r *Registry) ConnectedCount() int {
	return r.numberConnected
}

// Lookup returns the peer registered under nickname.
func (r *Registry) Lookup(nickname string) (Peer, bool) {
	peer, ok := r.clients[nickname]
	return peer, ok
}

// Nicknames returns the registered nicknames in sorted order.
func (r *Registry) Nicknames() []string {
	nicknames := make([]string, 0, len(r.clients))
	for nickname := range r.clients {
		nicknames = append(nicknames, nickname)
	}
	sort.Strings(nicknames)
	return nicknames
}

// Reset forgets every client without notifying anyone.
func (r *Registry) Reset() {
	clear(r.clients)
	r.numberConnected = 0
}

// fanOut enqueues frame on every registered peer except the one named except
// and returns how many peers accepted it.
func (r *Registry) fanOut(frame []byte, except string) int {
	delivered := 0
	for nickname, peer := range r.clients {
		if nickname == except {
			continue
		}
		if deliver(peer, nickname, frame) {
			delivered++
		}
	}
	return delivered
}

// deliver enqueues frame on peer, logging a backpressure drop.
func deliver(peer Peer, nickname string, frame []byte) bool {
	if peer.Enqueue(frame) {
		return true
	}
	log.Printf("Outgoing queue of %q is full; dropping %s frame", nickname, protocol.Opcode(frame[0]))
	return false
}
