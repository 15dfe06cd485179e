// Package domain holds the dialogue data model: turns, objectives and sessions.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	// SpeakerLearner is the human working through the scenario.
	SpeakerLearner Speaker = "learner"
	// SpeakerPersona is the model-voiced character.
	SpeakerPersona Speaker = "persona"
	// SpeakerToolResult carries tool outcomes back to the persona.
	SpeakerToolResult Speaker = "tool_result"
)

// Role returns the wire role the model API expects for this speaker.
// Tool results are attributed to the user side of the conversation.
func (s Speaker) Role() string {
	if s == SpeakerPersona {
		return "assistant"
	}
	return "user"
}

// Segment is one typed piece of turn content.
// The set of implementations is closed.
type Segment interface {
	segment()
}

// TextSegment is free text.
type TextSegment struct {
	Text string
}

// ToolUseSegment is a structured tool invocation emitted by the model.
type ToolUseSegment struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultSegment answers a ToolUseSegment with the same ID.
type ToolResultSegment struct {
	ToolUseID string
	Name      string
	Content   string
	IsError   bool
}

func (TextSegment) segment()       {}
func (ToolUseSegment) segment()    {}
func (ToolResultSegment) segment() {}

// Interface compliance checks.
var (
	_ Segment = TextSegment{}
	_ Segment = ToolUseSegment{}
	_ Segment = ToolResultSegment{}
)

// Turn is one exchange unit in a transcript.
type Turn struct {
	Speaker  Speaker
	Segments []Segment
}

// LearnerTurn builds a learner turn holding text verbatim.
func LearnerTurn(text string) Turn {
	return Turn{Speaker: SpeakerLearner, Segments: []Segment{TextSegment{Text: text}}}
}

// PersonaTurn builds a persona turn from model output segments.
func PersonaTurn(segments []Segment) Turn {
	return Turn{Speaker: SpeakerPersona, Segments: cloneSegments(segments)}
}

// ToolResultTurn builds a single synthetic turn carrying every result.
func ToolResultTurn(results []ToolResultSegment) Turn {
	segs := make([]Segment, len(results))
	for i, r := range results {
		segs[i] = r
	}
	return Turn{Speaker: SpeakerToolResult, Segments: segs}
}

// Text returns the rendered text of the turn.
func (t Turn) Text() string {
	return RenderText(t.Segments)
}

// ToolUses returns the tool invocations in the turn, in order.
func (t Turn) ToolUses() []ToolUseSegment {
	var uses []ToolUseSegment
	for _, s := range t.Segments {
		if tu, ok := s.(ToolUseSegment); ok {
			uses = append(uses, tu)
		}
	}
	return uses
}

func (t Turn) clone() Turn {
	return Turn{Speaker: t.Speaker, Segments: cloneSegments(t.Segments)}
}

// RenderText concatenates text segments in order, joined by newlines.
// Non-text segments are dropped.
func RenderText(segments []Segment) string {
	var parts []string
	for _, s := range segments {
		if ts, ok := s.(TextSegment); ok {
			parts = append(parts, ts.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func cloneSegments(segments []Segment) []Segment {
	if segments == nil {
		return nil
	}
	out := make([]Segment, len(segments))
	for i, s := range segments {
		if tu, ok := s.(ToolUseSegment); ok {
			tu.Input = append(json.RawMessage(nil), tu.Input...)
			s = tu
		}
		out[i] = s
	}
	return out
}

// ErrUnansweredToolUse indicates a transcript that the model API would reject
// because a tool invocation has no matching result.
var ErrUnansweredToolUse = errors.New("tool invocation left unanswered")

// ValidateTranscript checks that every tool invocation is answered by a
// tool result in the turn immediately following it.
func ValidateTranscript(turns []Turn) error {
	for i, t := range turns {
		uses := t.ToolUses()
		if len(uses) == 0 {
			continue
		}
		answered := make(map[string]bool)
		if i+1 < len(turns) {
			for _, s := range turns[i+1].Segments {
				if tr, ok := s.(ToolResultSegment); ok {
					answered[tr.ToolUseID] = true
				}
			}
		}
		for _, u := range uses {
			if !answered[u.ID] {
				return fmt.Errorf("turn %d: %w: %s (%s)", i, ErrUnansweredToolUse, u.Name, u.ID)
			}
		}
	}
	return nil
}
