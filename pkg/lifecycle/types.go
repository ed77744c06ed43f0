package lifecycle

import (
	"errors"
	"time"

	"github.com/intervox-ai/intervox/pkg/conversation"
)

// Status is the activity status of a tracked session
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

var (
	// ErrNotFound is returned when no record exists for the session key
	ErrNotFound = errors.New("session not tracked")

	// ErrInvalidState is returned when a transition is not allowed from the
	// session's current status
	ErrInvalidState = errors.New("invalid session state for transition")

	// ErrVersionConflict is returned when a mutating call carries a stale
	// version token
	ErrVersionConflict = errors.New("session was modified by another caller")
)

// SessionState is the caller-supplied session payload. The tracker stores it
// verbatim; the fields mirror what the interview client actually sends.
type SessionState struct {
	CurrentArtifact string                 `json:"currentArtifact,omitempty"`
	Progress        map[string]float64     `json:"progress,omitempty"`
	Conversation    []conversation.Entry   `json:"conversation,omitempty"`
	StartedAt       *time.Time             `json:"startedAt,omitempty"`
	LastActivityAt  *time.Time             `json:"lastActivityAt,omitempty"`
	Extra           map[string]interface{} `json:"extra,omitempty"`
}

// Clone returns a deep copy of the state
func (s SessionState) Clone() SessionState {
	out := s

	if s.Progress != nil {
		out.Progress = make(map[string]float64, len(s.Progress))
		for k, v := range s.Progress {
			out.Progress[k] = v
		}
	}

	if s.Conversation != nil {
		out.Conversation = make([]conversation.Entry, len(s.Conversation))
		copy(out.Conversation, s.Conversation)
		for i := range out.Conversation {
			if md := out.Conversation[i].Metadata; md != nil {
				out.Conversation[i].Metadata = deepCopyMap(md)
			}
		}
	}

	if s.Extra != nil {
		out.Extra = deepCopyMap(s.Extra)
	}

	return out
}

// deepCopyMap copies a JSON-shaped map, recursing into nested maps and
// slices so the clone shares no mutable values with the original.
func deepCopyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// Checkpoint is a saved snapshot of session state, orthogonal to the
// activity status.
type Checkpoint struct {
	SavedAt time.Time    `json:"savedAt"`
	State   SessionState `json:"state"`
}

// Snapshot is the full tracked record returned by Load
type Snapshot struct {
	SessionID  string       `json:"sessionId"`
	Status     Status       `json:"status"`
	State      SessionState `json:"state"`
	Version    string       `json:"version"`
	PausedAt   *time.Time   `json:"pausedAt,omitempty"`
	ResumedAt  *time.Time   `json:"resumedAt,omitempty"`
	Checkpoint *Checkpoint  `json:"checkpoint,omitempty"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// PauseAck acknowledges a pause transition
type PauseAck struct {
	PausedAt time.Time `json:"pausedAt"`
	Version  string    `json:"version"`
}

// ResumeAck acknowledges a resume transition
type ResumeAck struct {
	ResumedAt     time.Time    `json:"resumedAt"`
	PauseDuration string       `json:"pauseDuration"`
	State         SessionState `json:"state"`
	Version       string       `json:"version"`
}

// SaveAck acknowledges a checkpoint save
type SaveAck struct {
	SavedAt time.Time `json:"savedAt"`
	Version string    `json:"version"`
}
