package errors

// Protocol texts sent back to a single client. None of these are broadcast.
const (
	ErrNotInChat      = "You must join chat mode first. Type /join to enter chat mode."
	ErrAlreadyInChat  = "You are already in chat mode."
	ErrNotJoined      = "You are not in chat mode. Type /join to enter chat mode."
	ErrNickUsage      = "Usage: /nick <username>"
	ErrPMUsage        = "Usage: /pm <user_id> <message>"
	ErrUserNotFound   = "Error: User #%s not found"
	ErrUnknownCommand = "Unknown command. Type /help for a list of commands."
	ErrRateLimited    = "You are sending messages too fast. Slow down."
	ErrServerShutdown = "Server is shutting down."
)
