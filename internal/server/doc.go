// Package server implements the TIRC relay.
//
// A Reactor owns the TCP listener and every accepted Connection. One goroutine,
// the one executing Reactor.Run, processes all readiness events, so the Hub
// (nickname Registry, Broadcaster and Rendezvous) needs no locking. Small pump
// goroutines per connection do the blocking reads and writes and post what
// they observed back to that goroutine. The Gateway feeds WebSocket clients
// into the same Reactor.
package server
