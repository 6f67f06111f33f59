package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmh2000/linechat/internal/chat"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// The gateway serves a trusted LAN; any origin may connect.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewGateway returns the HTTP handler of the WebSocket gateway:
//
//	GET /ws      upgrade; every text frame is one chat line
//	GET /health  JSON with connection counts
func NewGateway(ctx context.Context, srv *chat.Server, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Get("/ws", wsHandler(ctx, srv, logger))
	r.Get("/health", healthHandler(srv))
	return r
}

func wsHandler(serverCtx context.Context, srv *chat.Server, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		logger.Debug("new websocket connection", "remote", r.RemoteAddr)
		go srv.Serve(serverCtx, NewWSStream(conn), r.RemoteAddr)
	}
}

type healthStatus struct {
	Connections int `json:"connections"`
	InChat      int `json:"in_chat"`
}

func healthHandler(srv *chat.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var status healthStatus
		for _, s := range srv.Registry().Snapshot() {
			status.Connections++
			if s.InChat() {
				status.InChat++
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	}
}

// ServeWebSocket runs the gateway on addr until ctx is cancelled.
func ServeWebSocket(ctx context.Context, addr string, srv *chat.Server, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           NewGateway(ctx, srv, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("websocket gateway started", "addr", addr)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("websocket gateway stopped")
	return nil
}

// WSStream adapts a WebSocket connection to chat.Stream. Inbound frames are
// read back to back with a newline after each; every Write becomes one text
// frame without its trailing newline.
type WSStream struct {
	conn    *websocket.Conn
	cur     io.Reader
	newline bool
}

// NewWSStream wraps conn.
func NewWSStream(conn *websocket.Conn) *WSStream {
	return &WSStream{conn: conn}
}

func (s *WSStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if s.cur == nil {
			if s.newline {
				s.newline = false
				p[0] = '\n'
				return 1, nil
			}
			_, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			s.cur = r
		}

		n, err := s.cur.Read(p)
		if errors.Is(err, io.EOF) {
			s.cur = nil
			s.newline = true
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *WSStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.TextMessage, bytes.TrimSuffix(p, []byte("\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetWriteDeadline bounds the next frame write.
func (s *WSStream) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}

// Close sends a normal close frame and closes the connection.
func (s *WSStream) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}

// Abort closes the connection without a close handshake.
func (s *WSStream) Abort() error {
	return s.conn.Close()
}
