package server

import (
	"bytes"
	"log"

	"github.com/Bryght7/TIRC/internal/protocol"
)

// Broadcaster fans frames out to every registered client and answers roster
// queries.
type Broadcaster struct {
	registry *Registry
}

// NewBroadcaster returns a Broadcaster over registry.
func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// Broadcast enqueues a copy of frame on every registered client except sender,
// which may be empty. A client whose queue is full misses the frame; the others
// are unaffected. It returns how many clients accepted the frame.
func (b *Broadcaster) Broadcast(frame []byte, sender string) int {
	if len(frame) == 0 {
		return 0
	}
	frame = bytes.Clone(frame)
	delivered := b.registry.fanOut(frame, sender)
	log.Printf("Broadcast %s frame to %d clients", protocol.Opcode(frame[0]), delivered)
	return delivered
}

// Roster builds the roster response for the clients registered right now.
func (b *Broadcaster) Roster() []byte {
	return protocol.Roster(b.registry.Nicknames())
}
