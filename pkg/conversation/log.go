package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/intervox-ai/intervox/internal/metrics"
)

// Log is the append-only, per-session conversation record. Every append
// re-reads and rewrites the whole entry document in the backing store, so
// appends for the same session key are serialized through a per-key mutex
// to keep concurrent callers from dropping each other's entries.
type Log struct {
	store      Store
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	writeLocks map[string]*sync.Mutex
	locksMu    sync.RWMutex
}

// NewLog creates a new conversation log over the given store
func NewLog(store Store, logger zerolog.Logger, m *metrics.Metrics) (*Log, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	return &Log{
		store:      store,
		logger:     logger.With().Str("component", "conversation").Logger(),
		metrics:    m,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

// ValidateSessionID validates a session key. The same rules apply to every
// component that accepts a session key, so a key accepted by the lifecycle
// tracker is always accepted by the log and vice versa.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return NewValidationError("sessionId", "cannot be empty")
	}
	if len(sessionID) > 128 {
		return NewValidationError("sessionId", "cannot exceed 128 characters")
	}
	if strings.ContainsAny(sessionID, " \t\n") {
		return NewValidationError("sessionId", "cannot contain whitespace")
	}
	if strings.Contains(sessionID, "\x00") {
		return NewValidationError("sessionId", "cannot contain null bytes")
	}
	return nil
}

// getWriteLock gets or creates a write lock for a session
func (l *Log) getWriteLock(sessionID string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()

	if lock, exists := l.writeLocks[sessionID]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	l.writeLocks[sessionID] = lock
	return lock
}

// Append validates an entry, assigns its id and timestamp, and appends it to
// the session's stored entry list. Returns the generated entry id.
func (l *Log) Append(ctx context.Context, sessionID string, entry Entry) (string, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return "", err
	}

	switch entry.Type {
	case EntryTypeUser, EntryTypeAgent, EntryTypeSystem:
	default:
		return "", NewValidationError("type", fmt.Sprintf("invalid entry type %q (must be: user, agent, system)", entry.Type))
	}
	if entry.Content == "" {
		return "", NewValidationError("content", "cannot be empty")
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate entry id: %w", err)
	}
	entry.ID = id
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	// Serialize the read-modify-write per session key
	lock := l.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	entries, err := l.fetchEntries(ctx, sessionID)
	if err != nil {
		l.recordStoreError()
		return "", fmt.Errorf("failed to fetch conversation: %w", err)
	}

	entries = append(entries, entry)

	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to marshal conversation: %w", err)
	}

	if err := l.store.ReplaceConversation(ctx, sessionID, data); err != nil {
		l.recordStoreError()
		return "", fmt.Errorf("failed to persist conversation: %w", err)
	}

	if l.metrics != nil {
		l.metrics.ConversationAppendsTotal.WithLabelValues(string(entry.Type)).Inc()
	}

	l.logger.Debug().
		Str("session_id", sessionID).
		Str("entry_id", entry.ID).
		Str("type", string(entry.Type)).
		Msg("Entry appended")

	return entry.ID, nil
}

// Fetch returns the stored entries for a session in append order. A session
// with no stored row reads back as an empty list.
func (l *Log) Fetch(ctx context.Context, sessionID string) ([]Entry, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	entries, err := l.fetchEntries(ctx, sessionID)
	if err != nil {
		l.recordStoreError()
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}

	if l.metrics != nil {
		l.metrics.ConversationFetchesTotal.Inc()
	}

	return entries, nil
}

// MarkStepCompletion appends a system entry summarizing step completion
func (l *Log) MarkStepCompletion(ctx context.Context, sessionID, step string, opts StepCompletionOptions) error {
	if step == "" {
		return NewValidationError("step", "cannot be empty")
	}

	metadata := map[string]interface{}{
		"milestone": "step_completion",
	}
	if opts.Status != "" {
		metadata["status"] = opts.Status
	}
	if opts.Confidence != nil {
		metadata["confidence"] = *opts.Confidence
	}

	entry := Entry{
		Type:     EntryTypeSystem,
		Content:  fmt.Sprintf("Step completed: %s", step),
		Step:     step,
		Artifact: opts.Artifact,
		Metadata: metadata,
	}

	if _, err := l.Append(ctx, sessionID, entry); err != nil {
		return err
	}

	l.logger.Info().
		Str("session_id", sessionID).
		Str("step", step).
		Str("artifact", opts.Artifact).
		Msg("Step completion recorded")

	return nil
}

// CountByType returns the number of stored entries per entry type
func CountByType(entries []Entry) map[EntryType]int {
	counts := make(map[EntryType]int)
	for _, e := range entries {
		counts[e.Type]++
	}
	return counts
}

func (l *Log) fetchEntries(ctx context.Context, sessionID string) ([]Entry, error) {
	data, err := l.store.FetchConversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// No row yet
	if data == nil {
		return []Entry{}, nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("stored conversation is corrupt: %w", err)
	}

	return entries, nil
}

func (l *Log) recordStoreError() {
	if l.metrics != nil {
		l.metrics.ConversationStoreErrors.Inc()
	}
}
