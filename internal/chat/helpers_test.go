package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dmh2000/linechat/internal/framing"
	"github.com/dmh2000/linechat/internal/journal"
)

const readTimeout = 2 * time.Second

// quietLogger keeps test output readable; set CHAT_TEST_LOG=1 to see it.
func quietLogger() *slog.Logger {
	if os.Getenv("CHAT_TEST_LOG") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	t   *testing.T
	srv *Server
	ctx context.Context
}

func startTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &testServer{t: t, srv: NewServer(opts), ctx: ctx}
}

// testClient is the far end of a net.Pipe whose near end is served by the
// chat server.
type testClient struct {
	t      *testing.T
	id     int
	conn   net.Conn
	server net.Conn
	lr     *framing.LineReader
	done   chan struct{}
}

// connect attaches a new client and consumes its welcome block.
func (ts *testServer) connect() *testClient {
	ts.t.Helper()
	return ts.connectWrapped(nil)
}

// connectWrapped is connect with the server's end of the pipe wrapped by wrap.
func (ts *testServer) connectWrapped(wrap func(net.Conn) Stream) *testClient {
	ts.t.Helper()
	clientSide, serverSide := net.Pipe()
	c := &testClient{
		t:      ts.t,
		conn:   clientSide,
		server: serverSide,
		lr:     framing.NewLineReader(clientSide, 0),
		done:   make(chan struct{}),
	}
	ts.t.Cleanup(func() { _ = clientSide.Close() })

	go func() {
		defer close(c.done)
		var stream Stream = serverSide
		if wrap != nil {
			stream = wrap(serverSide)
		}
		ts.srv.Serve(ts.ctx, stream, fmt.Sprintf("pipe-%p", serverSide))
	}()

	first := c.read()
	if _, err := fmt.Sscanf(first, "Welcome to the chat server! Your ID is #%d", &c.id); err != nil {
		ts.t.Fatalf("Unexpected welcome line %q: %v", first, err)
	}
	c.read() // client count
	for range helpLines {
		c.read()
	}
	return c
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(readTimeout))
	if err := framing.WriteLine(c.conn, line); err != nil {
		c.t.Fatalf("client #%d: send %q failed: %v", c.id, line, err)
	}
}

func (c *testClient) read() string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	line, err := c.lr.ReadLine()
	if err != nil {
		c.t.Fatalf("client #%d: read failed: %v", c.id, err)
	}
	return line
}

func (c *testClient) expect(want string) {
	c.t.Helper()
	if got := c.read(); got != want {
		c.t.Fatalf("client #%d: expected %q, got %q", c.id, want, got)
	}
}

// expectNothing asserts that no line arrives within a short window.
func (c *testClient) expectNothing() {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	line, err := c.lr.ReadLine()
	if err == nil {
		c.t.Fatalf("client #%d: expected no message, got %q", c.id, line)
	}
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		c.t.Fatalf("client #%d: expected read timeout, got %v", c.id, err)
	}
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	line, err := c.lr.ReadLine()
	if err == nil {
		c.t.Fatalf("client #%d: expected closed stream, got %q", c.id, line)
	}
	if !errors.Is(err, io.EOF) {
		c.t.Fatalf("client #%d: expected io.EOF, got %v", c.id, err)
	}
}

func (c *testClient) join() {
	c.t.Helper()
	c.send("/join")
	c.expect(replyEntered)
}

func (c *testClient) close() {
	_ = c.conn.Close()
}

// waitServed blocks until Serve has returned for this client.
func (c *testClient) waitServed() {
	c.t.Helper()
	select {
	case <-c.done:
	case <-time.After(readTimeout):
		c.t.Fatalf("client #%d: session did not finish", c.id)
	}
}

// memJournal records events in memory.
type memJournal struct {
	mu     sync.Mutex
	events []journal.Event
}

func (m *memJournal) Record(ev journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memJournal) kinds() []journal.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]journal.Kind, len(m.events))
	for i, ev := range m.events {
		kinds[i] = ev.Kind
	}
	return kinds
}
