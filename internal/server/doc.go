// Package server implements the leaf-proxy host process: configuration, the
// HTTP routes, the /ws broadcast endpoint, and the startup hooks that launch
// the TCP relays.
//
// The implementation is organized into specialized files for configuration,
// WebSocket clients, routing, HTTP handlers and host lifecycle.
package server
