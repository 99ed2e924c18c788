// Package server wires HTTP handlers into a gorilla/mux router for the
// leaf-proxy host via routing helpers.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures and returns the router with all application routes.
// /metrics is only mounted when gatherer is non-nil.
func (s *Server) SetupRoutes(gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.RootHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", HealthHandler).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/echo", s.EchoGetHandler).Methods(http.MethodGet)
	r.HandleFunc("/echo", s.EchoPostHandler).Methods(http.MethodPost)
	r.HandleFunc("/relays", s.RelaysHandler).Methods(http.MethodGet)
	r.HandleFunc("/test", s.TestPageHandler).Methods(http.MethodGet)
	r.HandleFunc(s.cfg.WebSocket.Path, s.WebSocketHandler).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}
