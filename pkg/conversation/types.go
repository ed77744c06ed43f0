package conversation

import (
	"context"
	"encoding/json"
	"time"
)

// EntryType identifies who produced a conversation entry
type EntryType string

const (
	EntryTypeUser   EntryType = "user"
	EntryTypeAgent  EntryType = "agent"
	EntryTypeSystem EntryType = "system"
)

// Entry represents a single conversation record. Entries are append-only:
// created once, never mutated or deleted.
type Entry struct {
	ID        string                 `json:"id"`
	Type      EntryType              `json:"type"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Step      string                 `json:"step,omitempty"`
	Artifact  string                 `json:"artifact,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// AppendRequest is the inbound payload for appending an entry
type AppendRequest struct {
	SessionID string                 `json:"sessionId"`
	Type      EntryType              `json:"type"`
	Content   string                 `json:"content"`
	Timestamp *time.Time             `json:"timestamp,omitempty"`
	Step      string                 `json:"step,omitempty"`
	Artifact  string                 `json:"artifact,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Entry converts the request into an entry ready for appending
func (r AppendRequest) Entry() Entry {
	e := Entry{
		Type:     r.Type,
		Content:  r.Content,
		Step:     r.Step,
		Artifact: r.Artifact,
		Metadata: r.Metadata,
	}
	if r.Timestamp != nil {
		e.Timestamp = *r.Timestamp
	}
	return e
}

// StepCompletionOptions carries optional completion metadata
type StepCompletionOptions struct {
	Artifact   string
	Status     string
	Confidence *float64
}

// Store is the durable backend the log reads and writes through. A nil
// document means no row exists yet for the session.
type Store interface {
	FetchConversation(ctx context.Context, sessionID string) (json.RawMessage, error)
	ReplaceConversation(ctx context.Context, sessionID string, entries json.RawMessage) error
}
