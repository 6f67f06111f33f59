package chat

import (
	"fmt"
	"strconv"
	"strings"

	errs "github.com/dmh2000/linechat/internal/errors"
	"github.com/dmh2000/linechat/internal/journal"
)

// Replies sent to the issuing session only.
const (
	replyEntered  = "You have entered chat mode. Everyone can see your messages now."
	replyLeft     = "You have left chat mode."
	replyRenamed  = "You changed your username to %s"
	replyGoodbye  = "Goodbye! See you soon!"
	rosterHeader  = "Online users:"
	rosterLine    = "#%d: %s (%s)"
	rosterFooter  = "Total: %d user(s) connected"
	statusInChat  = "in chat"
	statusOutside = "not in chat"
)

// Notices broadcast to other chat-mode sessions.
const (
	noticeJoined  = "*** %s (#%d) has joined the chat ***"
	noticeRenamed = "*** %s (#%d) changed their username to %s ***"
)

// Command is one parsed inbound line. Name is empty for plain chat text.
type Command struct {
	Name string
	Args []string
	Text string
}

// IsChat reports whether the line was plain text rather than a command.
func (c Command) IsChat() bool { return c.Name == "" }

// ParseLine classifies a trimmed line. Lines starting with "/" are split on
// whitespace; the first token, lower-cased, names the command.
func ParseLine(line string) Command {
	if !strings.HasPrefix(line, "/") {
		return Command{Text: line}
	}
	fields := strings.Fields(line)
	return Command{
		Name: strings.ToLower(fields[0]),
		Args: fields[1:],
		Text: line,
	}
}

// handleLine interprets one line from sess. It returns true when the session
// asked to quit.
func (s *Server) handleLine(sess *Session, line string) bool {
	cmd := ParseLine(line)
	if cmd.IsChat() {
		s.chat(sess, cmd.Text)
		return false
	}

	switch cmd.Name {
	case "/join":
		s.join(sess)
	case "/leave":
		s.leave(sess)
	case "/nick":
		s.nick(sess, cmd.Args)
	case "/list":
		s.list(sess)
	case "/pm":
		s.pm(sess, cmd.Args)
	case "/help":
		sess.Send(strings.Join(helpLines, "\n"))
	case "/quit":
		sess.Send(replyGoodbye)
		return true
	default:
		sess.Send(errs.ErrUnknownCommand)
	}
	return false
}

func (s *Server) chat(sess *Session, text string) {
	if !sess.InChat() {
		sess.Send(errs.ErrNotInChat)
		return
	}
	s.broadcast(sess, text)
	s.record(journal.Event{Kind: journal.KindMessage, Session: sess.id, Name: sess.Name(), Text: text})
}

func (s *Server) join(sess *Session) {
	if !sess.setChatMode(true) {
		sess.Send(errs.ErrAlreadyInChat)
		return
	}
	name := sess.Name()
	sess.Send(replyEntered)
	s.notify(sess.id, fmt.Sprintf(noticeJoined, name, sess.id))
	s.record(journal.Event{Kind: journal.KindJoin, Session: sess.id, Name: name})
}

func (s *Server) leave(sess *Session) {
	if !sess.setChatMode(false) {
		sess.Send(errs.ErrNotJoined)
		return
	}
	name := sess.Name()
	sess.Send(replyLeft)
	s.notify(sess.id, fmt.Sprintf(noticeLeft, name, sess.id))
	s.record(journal.Event{Kind: journal.KindLeave, Session: sess.id, Name: name})
}

func (s *Server) nick(sess *Session, args []string) {
	if len(args) < 1 {
		sess.Send(errs.ErrNickUsage)
		return
	}
	name := args[0]
	old := sess.rename(name)
	sess.Send(fmt.Sprintf(replyRenamed, name))
	if sess.InChat() {
		s.notify(sess.id, fmt.Sprintf(noticeRenamed, old, sess.id, name))
	}
	s.record(journal.Event{Kind: journal.KindNick, Session: sess.id, Name: name, Text: old})
}

func (s *Server) list(sess *Session) {
	sessions := s.reg.Snapshot()
	lines := make([]string, 0, len(sessions)+2)
	lines = append(lines, rosterHeader)
	for _, c := range sessions {
		name, inChat := c.state()
		status := statusOutside
		if inChat {
			status = statusInChat
		}
		lines = append(lines, fmt.Sprintf(rosterLine, c.id, name, status))
	}
	lines = append(lines, fmt.Sprintf(rosterFooter, len(sessions)))
	sess.Send(strings.Join(lines, "\n"))
}

func (s *Server) pm(sess *Session, args []string) {
	if len(args) < 2 {
		sess.Send(errs.ErrPMUsage)
		return
	}
	var target *Session
	if id, err := strconv.Atoi(args[0]); err == nil {
		target, _ = s.reg.Get(id)
	}
	if target == nil {
		sess.Send(fmt.Sprintf(errs.ErrUserNotFound, args[0]))
		return
	}
	text := strings.Join(args[1:], " ")
	s.private(sess, target, text)
	s.record(journal.Event{Kind: journal.KindPrivate, Session: sess.id, Name: sess.Name(), Target: target.id, Text: text})
}
