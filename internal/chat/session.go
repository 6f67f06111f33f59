package chat

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	errs "github.com/dmh2000/linechat/internal/errors"
	"github.com/dmh2000/linechat/internal/framing"
	"golang.org/x/time/rate"
)

// Stream is the byte stream behind one client. TCP connections satisfy it
// directly; other transports wrap their native stream types.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// aborter is implemented by streams whose Close lingers to flush data. Abort
// drops the transport at once.
type aborter interface {
	Abort() error
}

// errSlowConsumer fails a session whose outbound queue overflowed.
var errSlowConsumer = errors.New("outbound queue full")

// Session is the server-side state of one connected client.
type Session struct {
	id     int
	remote string
	stream Stream

	limiter *rate.Limiter

	mu       sync.Mutex
	name     string
	chatMode bool
	closed   bool
	writeErr error

	send chan string
	done chan struct{}
}

func newSession(id int, remote string, stream Stream, queue int) *Session {
	if queue <= 0 {
		queue = 1
	}
	return &Session{
		id:     id,
		remote: remote,
		stream: stream,
		name:   fmt.Sprintf("User%d", id),
		send:   make(chan string, queue),
		done:   make(chan struct{}),
	}
}

// ID returns the session's id.
func (s *Session) ID() int { return s.id }

// Remote returns the peer address captured at accept time.
func (s *Session) Remote() string { return s.remote }

// Name returns the current display name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// InChat reports whether the session is in chat mode.
func (s *Session) InChat() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatMode
}

func (s *Session) state() (name string, inChat bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name, s.chatMode
}

// rename sets the display name and returns the previous one.
func (s *Session) rename(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.name
	s.name = name
	return old
}

// setChatMode reports whether the flag actually changed.
func (s *Session) setChatMode(on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chatMode == on {
		return false
	}
	s.chatMode = on
	return true
}

// Send queues one outbound line without blocking. A full queue means the
// client is not keeping up: the session is failed and its stream aborted, so
// it leaves through an error teardown. Send reports whether the line was
// queued.
func (s *Session) Send(line string) bool {
	queued, full := s.enqueue(line)
	if full {
		s.abort(errSlowConsumer)
	}
	return queued
}

func (s *Session) enqueue(line string) (queued, full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.writeErr != nil {
		return false, false
	}
	select {
	case s.send <- line:
		return true, false
	default:
		return false, true
	}
}

// closeSend stops accepting outbound lines. The writer flushes what is
// already queued and then closes the stream.
func (s *Session) closeSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// shutdown queues the shutdown notice if there is room and lets the writer
// flush and close.
func (s *Session) shutdown() {
	s.enqueue(errs.ErrServerShutdown)
	s.closeSend()
}

// fail records the first failure and reports whether err was it.
func (s *Session) fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return false
	}
	s.writeErr = err
	return true
}

// abort fails the session and drops its stream without a graceful close.
// Only the first failure takes effect.
func (s *Session) abort(err error) {
	if !s.fail(err) {
		return
	}
	s.kill()
}

// kill drops the stream without lingering.
func (s *Session) kill() {
	if a, ok := s.stream.(aborter); ok {
		_ = a.Abort()
		return
	}
	_ = s.stream.Close()
}

func (s *Session) failed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeErr
}

// writePump drains the outbound queue. After the first failure the stream is
// aborted so the reader observes it, and later lines are discarded.
func (s *Session) writePump(timeout time.Duration, logger *slog.Logger) {
	defer close(s.done)
	defer func() {
		if s.failed() != nil {
			s.kill()
			return
		}
		_ = s.stream.Close()
	}()

	for line := range s.send {
		if s.failed() != nil {
			continue
		}
		if d, ok := s.stream.(writeDeadliner); ok && timeout > 0 {
			_ = d.SetWriteDeadline(time.Now().Add(timeout))
		}
		if err := framing.WriteLine(s.stream, line); err != nil {
			logger.Debug("write failed", "id", s.id, "remote", s.remote, "error", err)
			s.abort(err)
		}
	}
}
