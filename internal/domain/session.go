package domain

import (
	"time"
)

// Session holds the state of one active dialogue.
type Session struct {
	ID         string
	ScenarioID string
	Transcript []Turn
	Objectives Objectives
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewSession returns a session for the given scenario with all objectives false.
// The ID is assigned by the store on creation.
func NewSession(scenarioID string, objectiveKeys []string) *Session {
	now := time.Now().UTC()
	return &Session{
		ScenarioID: scenarioID,
		Objectives: NewObjectives(objectiveKeys),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Append adds turns to the end of the transcript. Earlier turns are never touched.
func (s *Session) Append(turns ...Turn) {
	for _, t := range turns {
		s.Transcript = append(s.Transcript, t.clone())
	}
}

// Render returns the full ordered transcript for submission to the model.
func (s *Session) Render() []Turn {
	out := make([]Turn, len(s.Transcript))
	for i, t := range s.Transcript {
		out[i] = t.clone()
	}
	return out
}

// Completed is derived from the objectives on every call.
func (s *Session) Completed() bool {
	return s.Objectives.IsComplete()
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Transcript = s.Render()
	c.Objectives = s.Objectives.Clone()
	return &c
}
