// Command client is an interactive line client for the TCP relays. It starts
// at -port and moves to the next port while connections are refused, so it
// finds a relay that fell back from a busy port.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kefeimo/leaf-proxy/internal/logging"
	"github.com/kefeimo/leaf-proxy/internal/relay"
)

func main() {
	host := flag.String("host", "127.0.0.1", "relay host")
	port := flag.Int("port", 65432, "first relay port to try")
	attempts := flag.Int("attempts", 0, "ports to try before giving up (0 = until 65535)")
	timeout := flag.Duration("timeout", 2*time.Second, "per-attempt dial timeout")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	log, err := logging.New(*logLevel, logging.FormatConsole)
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := relay.DialWithRetry(ctx, relay.DialConfig{
		Host:        *host,
		Port:        *port,
		MaxAttempts: *attempts,
		Timeout:     *timeout,
	}, log)
	if err != nil {
		log.Fatal("Could not connect", zap.Error(err))
	}

	if err := run(ctx, conn, os.Stdin, os.Stdout, log); err != nil {
		log.Fatal("Client stopped with error", zap.Error(err))
	}
}

// run sends each input line to conn and prints whatever the relay sends back
// until the user types "exit", input ends, ctx is cancelled or the relay
// closes the connection.
func run(ctx context.Context, conn net.Conn, in io.Reader, out io.Writer, log *zap.Logger) error {
	defer conn.Close()

	received := make(chan error, 1)
	go func() {
		buf := make([]byte, relay.DefaultReadBufferSize)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				fmt.Fprintf(out, "%s\n", logging.Printable(buf[:n]))
			}
			if err != nil {
				received <- err
				return
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Fprintln(out, `Type a message and press Enter, "exit" to quit.`)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-received:
			if relay.IsPeerDisconnect(err) {
				log.Info("Relay closed the connection")
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "exit" {
				return nil
			}
			if line == "" {
				continue
			}
			if _, err := conn.Write([]byte(line)); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}
