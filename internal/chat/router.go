package chat

import "fmt"

const (
	frameSelf   = "You: %s"
	frameOthers = "%s: %s"
	framePMFrom = "[PM from %s (#%d)]: %s"
	framePMTo   = "[PM to %s (#%d)]: %s"
)

func inChat(s *Session) bool { return s.InChat() }

// broadcast delivers a chat line from sender to every chat-mode session.
// The sender gets the "You:" echo instead of its own named line. A recipient
// whose queue overflows is aborted and leaves through its own error
// teardown; delivery to the rest goes on.
func (s *Server) broadcast(sender *Session, text string) {
	name := sender.Name()
	self := fmt.Sprintf(frameSelf, text)
	others := fmt.Sprintf(frameOthers, name, text)

	delivered := 0
	s.reg.ForEach(inChat, func(c *Session) {
		line := others
		if c.id == sender.id {
			line = self
		}
		if c.Send(line) {
			delivered++
		} else {
			s.log.Debug("broadcast not queued", "to", c.id, "from", sender.id)
		}
	})
	s.log.Debug("broadcast delivered", "from", sender.id, "recipients", delivered)
}

// notify sends a system notice to every chat-mode session except subject.
func (s *Server) notify(subject int, notice string) {
	s.reg.ForEach(func(c *Session) bool {
		return c.id != subject && c.InChat()
	}, func(c *Session) {
		c.Send(notice)
	})
}

// private delivers exactly two lines: one to target and a confirmation to
// sender. Chat mode plays no part.
func (s *Server) private(sender, target *Session, text string) {
	target.Send(fmt.Sprintf(framePMFrom, sender.Name(), sender.id, text))
	sender.Send(fmt.Sprintf(framePMTo, target.Name(), target.id, text))
	s.log.Debug("private message routed", "from", sender.id, "to", target.id, "characters", len(text))
}
