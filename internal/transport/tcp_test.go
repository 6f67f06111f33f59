package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/dmh2000/linechat/internal/chat"
	"github.com/dmh2000/linechat/internal/framing"
)

const ioTimeout = 3 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startTestServer starts a chat server behind a TCP listener on a random port
func startTestServer(t *testing.T) (addr string, srv *chat.Server, shutdown func()) {
	t.Helper()

	srv = chat.NewServer(chat.Options{Logger: testLogger()})
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeTCP(ctx, ln, srv, testLogger()) }()

	shutdown = func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("ServeTCP returned error: %v", err)
		}
		_ = srv.Shutdown(ioTimeout)
	}
	return ln.Addr().String(), srv, shutdown
}

type tcpClient struct {
	t    *testing.T
	conn net.Conn
	lr   *framing.LineReader
}

// connectClient dials the server and skips past the welcome block
func connectClient(t *testing.T, addr string) *tcpClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, ioTimeout)
	if err != nil {
		t.Fatalf("Failed to dial server: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	c := &tcpClient{t: t, conn: conn, lr: framing.NewLineReader(conn, 0)}
	if line := c.read(); !strings.HasPrefix(line, "Welcome to the chat server!") {
		t.Fatalf("Expected welcome line, got %q", line)
	}
	for {
		if line := c.read(); line == "Disconnect with: /quit" {
			break
		}
	}
	return c
}

func (c *tcpClient) write(raw string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(raw)); err != nil {
		c.t.Fatalf("Failed to write: %v", err)
	}
}

func (c *tcpClient) read() string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(ioTimeout))
	line, err := c.lr.ReadLine()
	if err != nil {
		c.t.Fatalf("Failed to read line: %v", err)
	}
	return line
}

func (c *tcpClient) expect(want string) {
	c.t.Helper()
	if got := c.read(); got != want {
		c.t.Fatalf("Expected %q, got %q", want, got)
	}
}

// TestTCPScenario runs the three-client walkthrough over real sockets
func TestTCPScenario(t *testing.T) {
	addr, _, shutdown := startTestServer(t)
	defer shutdown()

	a := connectClient(t, addr)
	b := connectClient(t, addr)
	c := connectClient(t, addr)

	a.write("/join\r\n")
	a.expect("You have entered chat mode. Everyone can see your messages now.")
	b.write("/join\n")
	b.expect("You have entered chat mode. Everyone can see your messages now.")
	a.expect("*** User2 (#2) has joined the chat ***")
	c.write("/join\n")
	c.expect("You have entered chat mode. Everyone can see your messages now.")
	a.expect("*** User3 (#3) has joined the chat ***")
	b.expect("*** User3 (#3) has joined the chat ***")

	a.write("hi\n")
	a.expect("You: hi")
	b.expect("User1: hi")
	c.expect("User1: hi")

	b.write("/nick Bob\n")
	b.expect("You changed your username to Bob")
	a.expect("*** User2 (#2) changed their username to Bob ***")
	c.expect("*** User2 (#2) changed their username to Bob ***")

	c.write("/pm 1 secret\n")
	a.expect("[PM from User3 (#3)]: secret")
	c.expect("[PM to User1 (#1)]: secret")

	_ = a.conn.Close()
	b.expect("*** User1 (#1) has left the chat ***")
	c.expect("*** User1 (#1) has left the chat ***")

	// b must not have received the private message.
	b.write("/list\n")
	b.expect("Online users:")
	b.expect("#2: Bob (in chat)")
	b.expect("#3: User3 (in chat)")
	b.expect("Total: 2 user(s) connected")
}

// TestTCPLineBuffering verifies lines split across writes, and several
// lines in one write, are framed correctly
func TestTCPLineBuffering(t *testing.T) {
	addr, _, shutdown := startTestServer(t)
	defer shutdown()

	a := connectClient(t, addr)
	a.write("/jo")
	time.Sleep(50 * time.Millisecond)
	a.write("in\nhel")
	time.Sleep(50 * time.Millisecond)
	a.write("lo\n/nick Zed\n")

	a.expect("You have entered chat mode. Everyone can see your messages now.")
	a.expect("You: hello")
	a.expect("You changed your username to Zed")
}

// TestTCPQuit verifies the farewell line is delivered before the server closes
func TestTCPQuit(t *testing.T) {
	addr, srv, shutdown := startTestServer(t)
	defer shutdown()

	a := connectClient(t, addr)
	a.write("/quit\n")
	a.expect("Goodbye! See you soon!")

	_ = a.conn.SetReadDeadline(time.Now().Add(ioTimeout))
	if _, err := a.lr.ReadLine(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after quit, got %v", err)
	}

	deadline := time.Now().Add(ioTimeout)
	for srv.Registry().Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Registry().Count() != 0 {
		t.Errorf("Expected empty registry, got %d", srv.Registry().Count())
	}
}

// TestServeTCPStopsOnCancel verifies the accept loop exits cleanly
func TestServeTCPStopsOnCancel(t *testing.T) {
	srv := chat.NewServer(chat.Options{Logger: testLogger()})
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeTCP(ctx, ln, srv, testLogger()) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil error, got %v", err)
		}
	case <-time.After(ioTimeout):
		t.Fatal("ServeTCP did not return after cancel")
	}

	if _, err := net.DialTimeout("tcp", ln.Addr().String(), 200*time.Millisecond); err == nil {
		t.Error("Expected listener to be closed")
	}
}

func TestListenTCPBadAddress(t *testing.T) {
	if _, err := ListenTCP("not-an-address"); err == nil {
		t.Error("Expected error for invalid address")
	}
}
