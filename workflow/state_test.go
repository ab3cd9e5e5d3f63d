package workflow

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/loomworks/loom/types"
)

func TestConversationStateAppendAssignsIndexes(t *testing.T) {
	s := NewConversationState()

	first, err := s.Append(types.NewUserMessage("hello"))
	require.NoError(t, err)
	assert.Equal(t, 0, first.Index)

	second, err := s.Append(types.NewAssistantMessage("classifier", "Category: Billing"))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Index)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "hello", snap[0].Content)
	assert.Equal(t, "classifier", snap[1].Agent)
}

func TestConversationStateSnapshotIsolation(t *testing.T) {
	s := NewConversationState()
	_, err := s.Append(types.NewUserMessage("original"))
	require.NoError(t, err)

	snap := s.Snapshot()
	snap[0].Content = "mutated"

	assert.Equal(t, "original", s.Snapshot()[0].Content)
}

func TestConversationStateClosed(t *testing.T) {
	s := NewConversationState()
	_, err := s.Append(types.NewUserMessage("hello"))
	require.NoError(t, err)

	s.Close()
	_, err = s.Append(types.NewUserMessage("too late"))
	assert.ErrorIs(t, err, ErrTranscriptClosed)
	assert.Equal(t, 1, s.Len())
}

func TestNewConversationStateFromReindexes(t *testing.T) {
	restored := NewConversationStateFrom([]types.Message{
		{Role: types.RoleUser, Content: "a", Index: 7},
		{Role: types.RoleAssistant, Agent: "x", Content: "b", Index: 99},
	})
	snap := restored.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, 0, snap[0].Index)
	assert.Equal(t, 1, snap[1].Index)
}

func TestConversationStateIndexesStrictlyIncreasing(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewConversationState()
		n := rapid.IntRange(1, 50).Draw(t, "n")
		for i := 0; i < n; i++ {
			msg, err := s.Append(types.NewUserMessage(fmt.Sprintf("m%d", i)))
			if err != nil {
				t.Fatalf("append %d: %v", i, err)
			}
			if msg.Index != i {
				t.Fatalf("expected index %d, got %d", i, msg.Index)
			}
		}
		snap := s.Snapshot()
		for i := 1; i < len(snap); i++ {
			if snap[i].Index <= snap[i-1].Index {
				t.Fatalf("indexes not strictly increasing at %d", i)
			}
		}
	})
}
