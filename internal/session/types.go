// Package session implements the Conversation Session Store (spec
// §4.5): short-lived, TTL-bound conversational context keyed by a
// workflow or ad-hoc chat id, used so a human following up on a posted
// review comment gets a reply with memory of what the agents already
// said.
package session

import "time"

// maxMessages bounds a session's history (spec §4.5: "the oldest
// message is discarded" once a session holds more than this many).
const maxMessages = 20

// Role identifies who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn in a session's conversation history.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// Session is the persisted conversational context for one workflow or
// standalone chat thread.
type Session struct {
	ID           string
	RepositoryID string
	WorkflowID   string
	Messages     []Message
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Append adds a message to the session, dropping the oldest entry if
// the history would otherwise exceed maxMessages (spec §4.5, invariant
// 10: "a session's message history never exceeds the configured
// bound").
func (s *Session) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
	if len(s.Messages) > maxMessages {
		s.Messages = s.Messages[len(s.Messages)-maxMessages:]
	}
}
