// Package server wires the gateway handlers into a ServeMux.
package server

import "net/http"

// maxWebSocketMessage caps a single inbound WebSocket message. Requests may be
// split across messages, so this only bounds one read.
const maxWebSocketMessage = 64 * 1024

// Routes returns an HTTP ServeMux with the health check and the WebSocket endpoint.
func (g *Gateway) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", g.WebSocketHandler)
	return mux
}
