package relay

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// DialConfig describes where a client starts looking for a relay.
type DialConfig struct {
	Host        string
	Port        int
	MaxAttempts int // 0 means keep advancing until the port range runs out
	Timeout     time.Duration
}

// DialWithRetry connects to the relay at cfg.Host, starting at cfg.Port and
// moving to the next port whenever the attempt is refused or reports the
// address in use. This mirrors the retry port policy so a client can find a
// relay that fell back to a later port. It returns the connection and the
// port it reached.
func DialWithRetry(ctx context.Context, cfg DialConfig, log *zap.Logger) (net.Conn, int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	d := net.Dialer{Timeout: cfg.Timeout}

	port := cfg.Port
	for attempt := 1; ; attempt++ {
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			log.Info("Connected to relay", zap.String("addr", addr), zap.Int("attempts", attempt))
			return conn, port, nil
		}
		if !IsConnRefused(err) && !IsAddrInUse(err) {
			return nil, port, fmt.Errorf("dial %s: %w", addr, err)
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return nil, port, fmt.Errorf("no relay found on ports %d-%d: %w", cfg.Port, port, err)
		}
		if port >= maxPort {
			return nil, port, fmt.Errorf("no relay found on ports %d-%d: %w", cfg.Port, port, err)
		}
		if ctx.Err() != nil {
			return nil, port, ctx.Err()
		}
		log.Info("Connection refused, trying next port",
			zap.Int("port", port),
			zap.Int("next_port", port+1))
		port++
	}
}
