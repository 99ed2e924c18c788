// Package relay implements the TCP relay: a Listener that binds an endpoint
// under an explicit port policy and accepts connections in a loop, a Handler
// that serves each connection on its own goroutine in echo, reply, broadcast
// or http-hello mode, and the Registry that backs broadcast fan-out for both
// TCP and WebSocket clients.
package relay
