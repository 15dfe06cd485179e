package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/ashureev/scenario-coach/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderText(t *testing.T) {
	t.Parallel()

	segs := []domain.Segment{
		domain.TextSegment{Text: "Hi"},
		domain.ToolUseSegment{ID: "toolu_1", Name: "update_progress", Input: json.RawMessage(`{}`)},
	}
	assert.Equal(t, "Hi", domain.RenderText(segs))

	segs = append(segs, domain.TextSegment{Text: "there"})
	assert.Equal(t, "Hi\nthere", domain.RenderText(segs))

	assert.Empty(t, domain.RenderText(nil))
}

func TestSpeaker_Role(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "user", domain.SpeakerLearner.Role())
	assert.Equal(t, "user", domain.SpeakerToolResult.Role())
	assert.Equal(t, "assistant", domain.SpeakerPersona.Role())
}

func TestSession_AppendPreservesOrder(t *testing.T) {
	t.Parallel()

	s := domain.NewSession("demo", []string{"a"})
	s.Append(domain.LearnerTurn("one"))
	s.Append(domain.PersonaTurn([]domain.Segment{domain.TextSegment{Text: "two"}}), domain.LearnerTurn("three"))

	rendered := s.Render()
	require.Len(t, rendered, 3)
	assert.Equal(t, "one", rendered[0].Text())
	assert.Equal(t, "two", rendered[1].Text())
	assert.Equal(t, "three", rendered[2].Text())

	// Mutating the rendered copy must not reach the session.
	rendered[0].Segments[0] = domain.TextSegment{Text: "changed"}
	assert.Equal(t, "one", s.Transcript[0].Text())
}

func TestSession_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	s := domain.NewSession("demo", []string{"a", "b"})
	c := s.Clone()
	c.Objectives["a"] = true
	c.Append(domain.LearnerTurn("x"))

	assert.False(t, s.Objectives["a"])
	assert.Empty(t, s.Transcript)
	assert.False(t, c.Completed())
}

func TestValidateTranscript(t *testing.T) {
	t.Parallel()

	persona := domain.PersonaTurn([]domain.Segment{
		domain.TextSegment{Text: "ok"},
		domain.ToolUseSegment{ID: "t1", Name: "update_progress"},
		domain.ToolUseSegment{ID: "t2", Name: "update_progress"},
	})

	t.Run("answered", func(t *testing.T) {
		t.Parallel()
		turns := []domain.Turn{
			domain.LearnerTurn("hi"),
			persona,
			domain.ToolResultTurn([]domain.ToolResultSegment{{ToolUseID: "t1"}, {ToolUseID: "t2"}}),
		}
		assert.NoError(t, domain.ValidateTranscript(turns))
	})

	t.Run("missing result", func(t *testing.T) {
		t.Parallel()
		turns := []domain.Turn{
			domain.LearnerTurn("hi"),
			persona,
			domain.ToolResultTurn([]domain.ToolResultSegment{{ToolUseID: "t1"}}),
		}
		err := domain.ValidateTranscript(turns)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrUnansweredToolUse)
	})

	t.Run("trailing tool use", func(t *testing.T) {
		t.Parallel()
		err := domain.ValidateTranscript([]domain.Turn{domain.LearnerTurn("hi"), persona})
		assert.ErrorIs(t, err, domain.ErrUnansweredToolUse)
	})
}
