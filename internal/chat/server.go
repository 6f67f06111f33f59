// Package chat holds the session registry, command interpreter, and message
// routing of the line chat server. Transports hand every accepted stream to
// Server.Serve, which owns it until the client leaves.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	errs "github.com/dmh2000/linechat/internal/errors"
	"github.com/dmh2000/linechat/internal/framing"
	"github.com/dmh2000/linechat/internal/journal"
	"golang.org/x/time/rate"
)

// ErrShuttingDown refuses streams handed to Serve after Shutdown.
var ErrShuttingDown = errors.New("server is shutting down")

// Departure notices, broadcast when a chat-mode session goes away.
const (
	noticeLeft         = "*** %s (#%d) has left the chat ***"
	noticeDisconnected = "*** %s (#%d) disconnected due to an error ***"
)

var helpLines = []string{
	"Join the chat with: /join",
	"Leave the chat with: /leave",
	"Set your username with: /nick <username>",
	"List online users with: /list",
	"Send private message with: /pm <user_id> <message>",
	"Show this help with: /help",
	"Disconnect with: /quit",
}

// Options configures a Server. Zero values select defaults.
type Options struct {
	Logger  *slog.Logger
	Journal journal.Recorder

	// IDs mints session ids. A nil IDs starts a fresh sequence at 1.
	IDs *Sequence

	MaxLineSize  int
	SendQueue    int
	WriteTimeout time.Duration

	// RateLimit caps inbound lines per second per session; zero disables it.
	RateLimit float64
	RateBurst int
}

// Server is the connection lifecycle manager.
type Server struct {
	reg     *Registry
	ids     *Sequence
	log     *slog.Logger
	journal journal.Recorder
	opts    Options

	// mu orders admission in Serve against Shutdown.
	mu       sync.Mutex
	shutting bool
	wg       sync.WaitGroup
}

// NewServer creates a Server with an empty registry.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Journal == nil {
		opts.Journal = journal.Discard
	}
	if opts.IDs == nil {
		opts.IDs = NewSequence(1)
	}
	if opts.MaxLineSize <= 0 {
		opts.MaxLineSize = framing.MaxLineSize
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}

	return &Server{
		reg:     NewRegistry(),
		ids:     opts.IDs,
		log:     opts.Logger,
		journal: opts.Journal,
		opts:    opts,
	}
}

// Registry exposes the live session registry.
func (s *Server) Registry() *Registry { return s.reg }

type closeKind int

const (
	closeNormal closeKind = iota
	closeError
)

// Serve runs one client from welcome to teardown and returns when the client
// is gone. Cancelling ctx disconnects the client.
func (s *Server) Serve(ctx context.Context, stream Stream, remote string) {
	sess, err := s.admit(stream, remote)
	if err != nil {
		if errors.Is(err, ErrShuttingDown) {
			s.log.Debug("client refused", "remote", remote, "error", err)
		} else {
			s.log.Error("failed to register client", "remote", remote, "error", err)
		}
		_ = stream.Close()
		return
	}
	defer s.wg.Done()

	go sess.writePump(s.opts.WriteTimeout, s.log)

	stop := context.AfterFunc(ctx, sess.shutdown)
	defer stop()

	count := s.reg.Count()
	s.log.Info("client connected", "id", sess.id, "remote", remote, "clients", count)
	s.record(journal.Event{Kind: journal.KindConnect, Session: sess.id, Remote: remote})

	welcome := []string{
		fmt.Sprintf("Welcome to the chat server! Your ID is #%d", sess.id),
		fmt.Sprintf("There are %d client(s) connected", count),
	}
	sess.Send(strings.Join(append(welcome, helpLines...), "\n"))

	kind, err := s.readLoop(sess)
	s.teardown(sess, kind, err)
}

// admit registers a new session unless the server is shutting down. The
// caller owns one wg count on success.
func (s *Server) admit(stream Stream, remote string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutting {
		return nil, ErrShuttingDown
	}

	sess := newSession(s.ids.Next(), remote, stream, s.opts.SendQueue)
	if s.opts.RateLimit > 0 {
		sess.limiter = rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.RateBurst)
	}
	if err := s.reg.Insert(sess); err != nil {
		return nil, err
	}
	s.wg.Add(1)
	return sess, nil
}

func (s *Server) readLoop(sess *Session) (closeKind, error) {
	lr := framing.NewLineReader(sess.stream, s.opts.MaxLineSize)
	for {
		line, err := lr.ReadLine()
		if err != nil {
			return s.classify(sess, err), err
		}
		if line == "" {
			continue
		}
		if sess.limiter != nil && !sess.limiter.Allow() {
			sess.Send(errs.ErrRateLimited)
			continue
		}

		s.log.Debug("line received", "id", sess.id, "name", sess.Name(), "line", line)
		if quit := s.handleLine(sess, line); quit {
			return closeNormal, nil
		}
	}
}

// classify separates an orderly close from a transport failure. A stream
// closed under the reader is orderly unless the writer closed it because a
// write failed.
func (s *Server) classify(sess *Session, err error) closeKind {
	if sess.failed() != nil {
		return closeError
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return closeNormal
	}
	return closeError
}

func (s *Server) teardown(sess *Session, kind closeKind, cause error) {
	if kind == closeError {
		sess.abort(cause)
	}
	sess.closeSend()

	if _, ok := s.reg.Remove(sess.id); ok {
		name, inChat := sess.state()
		if inChat {
			notice := noticeLeft
			if kind == closeError {
				notice = noticeDisconnected
			}
			s.notify(sess.id, fmt.Sprintf(notice, name, sess.id))
		}

		reason := "normal"
		if kind == closeError {
			reason = "error"
		}
		s.record(journal.Event{Kind: journal.KindDisconnect, Session: sess.id, Name: name, Text: reason})
	}

	<-sess.done

	if kind == closeError {
		s.log.Warn("client disconnected with error", "id", sess.id, "remote", sess.remote, "error", cause)
	} else {
		s.log.Info("client disconnected", "id", sess.id, "remote", sess.remote)
	}
}

func (s *Server) record(ev journal.Event) {
	if err := s.journal.Record(ev); err != nil {
		s.log.Warn("journal write failed", "kind", ev.Kind, "error", err)
	}
}

// Shutdown disconnects every client and waits for their sessions to finish,
// up to timeout. Streams handed to Serve afterwards are closed immediately.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.shutting = true
	s.log.Info("shutting down chat server", "clients", s.reg.Count())
	s.reg.Close()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("chat server shutdown complete")
		return nil
	case <-time.After(timeout):
		s.log.Warn("shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
