package session

import (
	"context"
	"slices"
	"time"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single chat message
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is an immutable view of the session state.
// Version grows by one with every transition.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
	Pending   bool      `json:"pending"`
	Version   uint64    `json:"version"`
}

// Last returns the most recent message of the log.
func (s Snapshot) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

func (s Snapshot) clone() Snapshot {
	s.Messages = slices.Clone(s.Messages)
	return s
}

// Answerer asks the external answering service one question.
type Answerer interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Outcome of a settled gateway call
type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	OutcomeFallback Outcome = "fallback"
)

// Exchange describes one settled gateway call. It carries no message content.
type Exchange struct {
	SessionID string
	StartedAt time.Time
	Duration  time.Duration
	Outcome   Outcome
	Err       error
}

// Recorder receives one Exchange per settled call.
type Recorder interface {
	RecordExchange(ctx context.Context, ex Exchange) error
}
