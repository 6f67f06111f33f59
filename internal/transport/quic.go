package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dmh2000/linechat/internal/chat"
	"github.com/dmh2000/linechat/internal/tlsutil"
	"github.com/quic-go/quic-go"
)

// MaxIdleTimeout is the QUIC connection idle timeout used by both client and server.
const MaxIdleTimeout = 5 * time.Minute

// abortCode is the application error code sent when a session is dropped.
const abortCode quic.ApplicationErrorCode = 1

// closeGrace bounds how long Close waits for the peer to hang up before
// tearing the connection down, so queued stream data is not discarded.
const closeGrace = time.Second

// QUICConfig returns the QUIC settings shared by client and server. Keep-alives
// hold quiet chat sessions open past the idle timeout.
func QUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  MaxIdleTimeout,
		KeepAlivePeriod: 30 * time.Second,
	}
}

// ListenQUIC opens a QUIC listener with a fresh self-signed certificate for host.
func ListenQUIC(addr, host string) (*quic.Listener, error) {
	tlsConfig, err := tlsutil.ServerConfig(host)
	if err != nil {
		return nil, fmt.Errorf("generate tls certificate: %w", err)
	}
	ln, err := quic.ListenAddr(addr, tlsConfig, QUICConfig())
	if err != nil {
		return nil, fmt.Errorf("listen quic %s: %w", addr, err)
	}
	return ln, nil
}

// ServeQUIC accepts QUIC connections until ctx is cancelled. Each connection
// carries one bidirectional stream, which the client opens. A QUIC stream is
// only announced once the client writes to it, so clients send an empty
// line right after opening it.
func ServeQUIC(ctx context.Context, ln *quic.Listener, srv *chat.Server, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	defer ln.Close()

	logger.Info("quic listener started", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				logger.Info("quic accept loop shutting down")
				return nil
			default:
			}
			if errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			logger.Error("failed to accept quic connection", "error", err)
			continue
		}

		logger.Debug("new quic connection", "remote", conn.RemoteAddr().String())
		go serveQUICConn(ctx, conn, srv, logger)
	}
}

func serveQUICConn(ctx context.Context, conn *quic.Conn, srv *chat.Server, logger *slog.Logger) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		logger.Debug("failed to accept quic stream", "remote", conn.RemoteAddr().String(), "error", err)
		_ = conn.CloseWithError(0, "no stream")
		return
	}
	srv.Serve(ctx, &QUICStream{Stream: stream, conn: conn}, conn.RemoteAddr().String())
}

// DialQUIC connects to a QUIC chat server and opens the session stream.
func DialQUIC(ctx context.Context, addr string) (*QUICStream, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsutil.ClientConfig(), QUICConfig())
	if err != nil {
		return nil, fmt.Errorf("dial quic %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "failed to open stream")
		return nil, fmt.Errorf("open quic stream: %w", err)
	}
	return &QUICStream{Stream: stream, conn: conn}, nil
}

// QUICStream adapts a QUIC stream and its connection to chat.Stream.
type QUICStream struct {
	*quic.Stream
	conn *quic.Conn
}

// Read reports a peer's application close with code 0 as io.EOF, so it is
// treated like an orderly TCP close.
func (s *QUICStream) Read(p []byte) (int, error) {
	n, err := s.Stream.Read(p)
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.ErrorCode == 0 {
		return n, io.EOF
	}
	return n, err
}

// Close closes the send side of the stream and then the whole connection.
func (s *QUICStream) Close() error {
	err := s.Stream.Close()
	select {
	case <-s.conn.Context().Done():
	case <-time.After(closeGrace):
	}
	if cerr := s.conn.CloseWithError(0, "closed"); err == nil {
		err = cerr
	}
	return err
}

// Abort closes the connection at once with abortCode, discarding unsent data.
func (s *QUICStream) Abort() error {
	return s.conn.CloseWithError(abortCode, "session aborted")
}
