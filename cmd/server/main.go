package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/kefeimo/leaf-proxy/internal/logging"
	"github.com/kefeimo/leaf-proxy/internal/relay"
	"github.com/kefeimo/leaf-proxy/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "leaf-proxy: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "leaf-proxy: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting leaf-proxy server...")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := relay.NewMetrics(reg)

	listeners := make([]*relay.Listener, 0, len(cfg.Relays))
	for _, rc := range cfg.Relays {
		l, err := relay.NewListener(rc.ListenerConfig(), log, metrics)
		if err != nil {
			log.Fatal("Invalid relay configuration", zap.Error(err))
		}
		listeners = append(listeners, l)
	}

	s := server.NewServer(cfg, log, metrics, listeners)
	httpServer := server.CreateServer(cfg.HTTP, s.SetupRoutes(reg))
	httpServer.RegisterOnShutdown(s.CloseClients)

	host := server.NewHost(httpServer, cfg.ShutdownTimeout, log)
	for _, l := range listeners {
		host.OnStartup(l.Start)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := host.Run(ctx); err != nil {
		log.Fatal("Server stopped with error", zap.Error(err))
	}
	log.Info("Server stopped")
}
