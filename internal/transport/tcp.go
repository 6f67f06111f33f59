// Package transport accepts client streams over TCP, QUIC, and WebSocket and
// hands each one to the chat server.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/dmh2000/linechat/internal/chat"
)

// ListenTCP opens the plain TCP listener.
func ListenTCP(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return ln, nil
}

// ServeTCP accepts connections until ctx is cancelled, then closes ln and
// returns nil. Each connection is served on its own goroutine.
func ServeTCP(ctx context.Context, ln net.Listener, srv *chat.Server, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	logger.Info("tcp listener started", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				logger.Info("tcp accept loop shutting down")
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Error("failed to accept tcp connection", "error", err)
			continue
		}

		logger.Debug("new tcp connection", "remote", conn.RemoteAddr().String())
		go srv.Serve(ctx, conn, conn.RemoteAddr().String())
	}
}
