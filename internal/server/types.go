// Package server defines the JSON payloads of the HTTP routes and shared
// helpers reused across client and handler logic.
package server

import (
	"errors"

	"github.com/gorilla/websocket"

	"github.com/kefeimo/leaf-proxy/internal/relay"
)

// RootResponse is returned by GET /.
type RootResponse struct {
	Message string `json:"message"`
}

// EchoGetResponse is returned by GET /echo. Data is null when the query
// parameter is absent.
type EchoGetResponse struct {
	Data *string `json:"received_data_get"`
}

// EchoPostResponse is returned by POST /echo.
type EchoPostResponse struct {
	Data string `json:"received_data_post"`
}

// RelayStatus describes one TCP relay in GET /relays.
type RelayStatus struct {
	Name              string `json:"name"`
	Mode              string `json:"mode"`
	PortPolicy        string `json:"port_policy"`
	Host              string `json:"host"`
	ConfiguredPort    int    `json:"configured_port"`
	Port              int    `json:"port"`
	Ready             bool   `json:"ready"`
	ActiveConnections int    `json:"active_connections"`
}

// isExpectedCloseError reports whether err is a normal consequence of a
// connection going away.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, websocket.ErrCloseSent) || relay.IsPeerDisconnect(err)
}
