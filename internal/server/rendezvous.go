package server

import (
	"log"
	"net/netip"

	"github.com/Bryght7/TIRC/internal/protocol"
)

// Rendezvous forwards the ask, accept and refuse steps that let two clients
// open a direct connection with each other. It keeps no state of its own: a
// negotiation exists only as the frames in flight, and lapses silently if
// either side disconnects.
type Rendezvous struct {
	registry *Registry
}

// NewRendezvous returns a Rendezvous resolving nicknames through registry.
func NewRendezvous(registry *Registry) *Rendezvous {
	return &Rendezvous{registry: registry}
}

// Request forwards from's private connection ask to to. An unknown target is
// logged and dropped; from is not told.
func (rv *Rendezvous) Request(from, to string) bool {
	peer, ok := rv.registry.Lookup(to)
	if !ok {
		log.Printf("Private connection asked by %q for unknown client %q", from, to)
		return false
	}
	return deliver(peer, to, protocol.PrivateAsk(from, to))
}

// Accept tells to, the original requester, that from listens on addr:port and
// expects token. The token is passed through untouched.
func (rv *Rendezvous) Accept(from, to string, addr netip.Addr, port uint16, token uint64) bool {
	peer, ok := rv.registry.Lookup(to)
	if !ok {
		log.Printf("Private connection accepted by %q for unknown client %q", from, to)
		return false
	}
	return deliver(peer, to, protocol.PrivateAccept(from, to, addr, port, token))
}

// Refuse tells to that from declined its ask.
func (rv *Rendezvous) Refuse(from, to string) bool {
	peer, ok := rv.registry.Lookup(to)
	if !ok {
		log.Printf("Private connection refused by %q for unknown client %q", from, to)
		return false
	}
	return deliver(peer, to, protocol.PrivateRefuse(from, to))
}
