// Package models defines conversation state structures for DonorPipe flows.
package models

import "time"

// ConversationSession is the in-progress state of one user's flow.
// StepIndex is a valid index into the flow's steps, or equal to the step count
// while the flow is being finalized.
type ConversationSession struct {
	UserID      UserID               `json:"user_id"`
	DisplayName string               `json:"display_name,omitempty"`
	FlowKind    FlowKind             `json:"flow_kind"`
	StepIndex   int                  `json:"step_index"`
	Answers     map[FieldName]string `json:"answers"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// NewConversationSession creates a session positioned at the first step.
func NewConversationSession(userID UserID, displayName string, kind FlowKind, now time.Time) *ConversationSession {
	return &ConversationSession{
		UserID:      userID,
		DisplayName: displayName,
		FlowKind:    kind,
		StepIndex:   0,
		Answers:     make(map[FieldName]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (s *ConversationSession) Clone() *ConversationSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Answers = make(map[FieldName]string, len(s.Answers))
	for k, v := range s.Answers {
		c.Answers[k] = v
	}
	return &c
}
