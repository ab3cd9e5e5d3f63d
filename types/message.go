package types

import "time"

// Role represents the role of a transcript participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleHuman     Role = "human"
)

// Message represents a single entry in a run transcript.
// Messages are immutable once appended; Index is assigned by the
// transcript and is strictly increasing within a run.
type Message struct {
	Role      Role      `json:"author"`
	Agent     string    `json:"agent,omitempty"`
	Content   string    `json:"content"`
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NewMessage creates a new message with the given role and content.
// The Index is assigned later, when the message is appended to a transcript.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message attributed to an agent.
func NewAssistantMessage(agent, content string) Message {
	m := NewMessage(RoleAssistant, content)
	m.Agent = agent
	return m
}

// NewHumanMessage creates a new message carrying a human decision or note.
func NewHumanMessage(content string) Message {
	return NewMessage(RoleHuman, content)
}

// WithAgent attributes the message to an agent.
func (m Message) WithAgent(agent string) Message {
	m.Agent = agent
	return m
}
