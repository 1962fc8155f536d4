// Package server coordinates client registration, message broadcast, and
// private connection brokering for the relay via the Hub type.
package server

// Hub groups the registry with the services built on it. Connections call
// into the Hub once they have decoded a request.
type Hub struct {
	Registry    *Registry
	Broadcaster *Broadcaster
	Rendezvous  *Rendezvous
}

// NewHub creates a Hub with an empty registry.
func NewHub() *Hub {
	registry := NewRegistry()
	return &Hub{
		Registry:    registry,
		Broadcaster: NewBroadcaster(registry),
		Rendezvous:  NewRendezvous(registry),
	}
}
