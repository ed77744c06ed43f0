package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/intervox-ai/intervox/internal/metrics"
	"github.com/intervox-ai/intervox/pkg/conversation"
)

// EventLogger receives best-effort system entries for lifecycle transitions.
// *conversation.Log satisfies it.
type EventLogger interface {
	Append(ctx context.Context, sessionID string, entry conversation.Entry) (string, error)
}

type record struct {
	status     Status
	state      SessionState
	version    string
	pausedAt   *time.Time
	resumedAt  *time.Time
	checkpoint *Checkpoint
	updatedAt  time.Time
}

// Tracker tracks per-session lifecycle records in memory
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*record
	events  EventLogger
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewTracker creates a new session lifecycle tracker. events may be nil when
// transition logging is not wanted.
func NewTracker(events EventLogger, logger zerolog.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{
		records: make(map[string]*record),
		events:  events,
		logger:  logger.With().Str("component", "lifecycle").Logger(),
		metrics: m,
		now:     time.Now,
	}
}

// Pause transitions a session to paused and stores the supplied state.
// Unknown session keys are adopted: pause creates the record. A non-empty
// expectedVersion must match the current record version.
func (t *Tracker) Pause(ctx context.Context, sessionID string, state SessionState, expectedVersion string) (PauseAck, error) {
	if err := validateSessionID(sessionID); err != nil {
		return PauseAck{}, err
	}

	t.mu.Lock()
	rec, exists := t.records[sessionID]
	if exists && expectedVersion != "" && rec.version != expectedVersion {
		t.mu.Unlock()
		t.recordConflict(sessionID, "pause")
		return PauseAck{}, ErrVersionConflict
	}

	now := t.now()
	if !exists {
		rec = &record{}
		t.records[sessionID] = rec
	}
	rec.status = StatusPaused
	rec.state = state.Clone()
	rec.pausedAt = &now
	rec.resumedAt = nil
	rec.version = newVersion()
	rec.updatedAt = now
	version := rec.version
	tracked := len(t.records)
	t.mu.Unlock()

	t.recordTransition("pause", tracked)
	t.logger.Info().
		Str("session_id", sessionID).
		Str("artifact", state.CurrentArtifact).
		Msg("Session paused")

	// Failure to log must not fail the pause
	t.logEvent(ctx, sessionID, conversation.Entry{
		Type:     conversation.EntryTypeSystem,
		Content:  "Interview paused",
		Artifact: state.CurrentArtifact,
		Metadata: map[string]interface{}{"event": "session_paused"},
	})

	return PauseAck{PausedAt: now, Version: version}, nil
}

// Resume transitions a paused session back to active and reports how long
// it was paused.
func (t *Tracker) Resume(ctx context.Context, sessionID string) (ResumeAck, error) {
	if err := validateSessionID(sessionID); err != nil {
		return ResumeAck{}, err
	}

	t.mu.Lock()
	rec, exists := t.records[sessionID]
	if !exists {
		t.mu.Unlock()
		return ResumeAck{}, ErrNotFound
	}
	if rec.status != StatusPaused {
		t.mu.Unlock()
		return ResumeAck{}, ErrInvalidState
	}

	now := t.now()
	var paused time.Duration
	if rec.pausedAt != nil {
		paused = now.Sub(*rec.pausedAt)
	}
	rec.status = StatusActive
	rec.resumedAt = &now
	rec.version = newVersion()
	rec.updatedAt = now

	ack := ResumeAck{
		ResumedAt:     now,
		PauseDuration: FormatPauseDuration(paused),
		State:         rec.state.Clone(),
		Version:       rec.version,
	}
	tracked := len(t.records)
	t.mu.Unlock()

	t.recordTransition("resume", tracked)
	t.logger.Info().
		Str("session_id", sessionID).
		Str("pause_duration", ack.PauseDuration).
		Msg("Session resumed")

	t.logEvent(ctx, sessionID, conversation.Entry{
		Type:    conversation.EntryTypeSystem,
		Content: fmt.Sprintf("Interview resumed after %s", ack.PauseDuration),
		Metadata: map[string]interface{}{
			"event":          "session_resumed",
			"pause_duration": ack.PauseDuration,
		},
	})

	return ack, nil
}

// Save writes a checkpoint of the supplied state. The activity status is
// untouched: a paused session stays paused and can still be resumed after a
// save. Unknown session keys are adopted with status active.
func (t *Tracker) Save(ctx context.Context, sessionID string, state SessionState, expectedVersion string) (SaveAck, error) {
	if err := validateSessionID(sessionID); err != nil {
		return SaveAck{}, err
	}

	t.mu.Lock()
	rec, exists := t.records[sessionID]
	if exists && expectedVersion != "" && rec.version != expectedVersion {
		t.mu.Unlock()
		t.recordConflict(sessionID, "save")
		return SaveAck{}, ErrVersionConflict
	}

	now := t.now()
	if !exists {
		rec = &record{status: StatusActive}
		t.records[sessionID] = rec
	}
	rec.state = state.Clone()
	rec.checkpoint = &Checkpoint{
		SavedAt: now,
		State:   state.Clone(),
	}
	rec.version = newVersion()
	rec.updatedAt = now
	version := rec.version
	tracked := len(t.records)
	t.mu.Unlock()

	t.recordTransition("save", tracked)
	t.logger.Info().
		Str("session_id", sessionID).
		Str("artifact", state.CurrentArtifact).
		Msg("Session checkpoint saved")

	return SaveAck{SavedAt: now, Version: version}, nil
}

// Load returns the full tracked record. Pure read, no transition.
func (t *Tracker) Load(ctx context.Context, sessionID string) (Snapshot, error) {
	if err := validateSessionID(sessionID); err != nil {
		return Snapshot{}, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, exists := t.records[sessionID]
	if !exists {
		return Snapshot{}, ErrNotFound
	}

	return t.snapshot(sessionID, rec), nil
}

// EvictStale removes records not touched within age and returns how many
// were evicted.
func (t *Tracker) EvictStale(age time.Duration) int {
	cutoff := t.now().Add(-age)

	t.mu.Lock()
	evicted := 0
	for id, rec := range t.records {
		if rec.updatedAt.Before(cutoff) {
			delete(t.records, id)
			evicted++
		}
	}
	tracked := len(t.records)
	t.mu.Unlock()

	if evicted > 0 && t.metrics != nil {
		t.metrics.SessionsEvictedTotal.Add(float64(evicted))
		t.metrics.SessionsTracked.Set(float64(tracked))
	}

	return evicted
}

// Len returns the number of tracked sessions
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

func (t *Tracker) snapshot(sessionID string, rec *record) Snapshot {
	snap := Snapshot{
		SessionID: sessionID,
		Status:    rec.status,
		State:     rec.state.Clone(),
		Version:   rec.version,
		UpdatedAt: rec.updatedAt,
	}
	if rec.pausedAt != nil {
		pausedAt := *rec.pausedAt
		snap.PausedAt = &pausedAt
	}
	if rec.resumedAt != nil {
		resumedAt := *rec.resumedAt
		snap.ResumedAt = &resumedAt
	}
	if rec.checkpoint != nil {
		cp := Checkpoint{
			SavedAt: rec.checkpoint.SavedAt,
			State:   rec.checkpoint.State.Clone(),
		}
		snap.Checkpoint = &cp
	}
	return snap
}

func (t *Tracker) logEvent(ctx context.Context, sessionID string, entry conversation.Entry) {
	if t.events == nil {
		return
	}
	if _, err := t.events.Append(ctx, sessionID, entry); err != nil {
		t.logger.Warn().
			Err(err).
			Str("session_id", sessionID).
			Msg("Failed to log lifecycle event to conversation")
	}
}

func (t *Tracker) recordTransition(action string, tracked int) {
	if t.metrics == nil {
		return
	}
	t.metrics.SessionTransitionsTotal.WithLabelValues(action).Inc()
	t.metrics.SessionsTracked.Set(float64(tracked))
}

func (t *Tracker) recordConflict(sessionID, action string) {
	if t.metrics != nil {
		t.metrics.SessionVersionConflicts.Inc()
	}
	t.logger.Warn().
		Str("session_id", sessionID).
		Str("action", action).
		Msg("Rejected stale-version session write")
}

// FormatPauseDuration formats an elapsed pause as minutes+seconds or
// seconds-only: "0s", "45s", "1m 5s".
func FormatPauseDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	if total < 60 {
		return fmt.Sprintf("%ds", total)
	}
	return fmt.Sprintf("%dm %ds", total/60, total%60)
}

func validateSessionID(sessionID string) error {
	return conversation.ValidateSessionID(sessionID)
}

func newVersion() string {
	v, _ := gonanoid.New()
	return v
}
