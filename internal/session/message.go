// Package session defines the conversation data model, persistence
// backends, and lifecycle for vigil monitoring sessions.
package session

import "fmt"

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single entry in a session's conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Validate checks that the message carries a known role.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("unknown message role %q", m.Role)
	}
	return nil
}

// HasSystemAnchor reports whether msgs starts with a system message.
func HasSystemAnchor(msgs []Message) bool {
	return len(msgs) > 0 && msgs[0].Role == RoleSystem
}
