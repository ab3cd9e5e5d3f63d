package workflow

import (
	"errors"
	"sync"

	"github.com/loomworks/loom/types"
)

// ErrTranscriptClosed is returned by Append once the owning run is terminal.
var ErrTranscriptClosed = errors.New("transcript is closed")

// ConversationState is the append-only ordered transcript shared across a
// run. Message indexes are assigned on append and are strictly increasing;
// no message is ever removed or edited.
type ConversationState struct {
	mu       sync.RWMutex
	messages []types.Message
	closed   bool
}

// NewConversationState creates an empty transcript.
func NewConversationState() *ConversationState {
	return &ConversationState{}
}

// NewConversationStateFrom rebuilds a transcript from persisted messages,
// reassigning indexes in order.
func NewConversationStateFrom(messages []types.Message) *ConversationState {
	s := &ConversationState{messages: make([]types.Message, 0, len(messages))}
	for i, m := range messages {
		m.Index = i
		s.messages = append(s.messages, m)
	}
	return s
}

// Append assigns the next index to msg and adds it to the transcript.
// It returns the stored message, or ErrTranscriptClosed once the owning
// run has reached a terminal status.
func (s *ConversationState) Append(msg types.Message) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.Message{}, ErrTranscriptClosed
	}
	msg.Index = len(s.messages)
	s.messages = append(s.messages, msg)
	return msg, nil
}

// Snapshot returns a read-only copy of the transcript for handing to an
// agent call. Mutating the returned slice does not affect the transcript.
func (s *ConversationState) Snapshot() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the transcript.
func (s *ConversationState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Close marks the transcript immutable. Called when the owning run
// transitions to a terminal status.
func (s *ConversationState) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
