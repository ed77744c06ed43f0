package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/intervox-ai/intervox/pkg/conversation"
	"github.com/intervox-ai/intervox/pkg/lifecycle"
	"github.com/intervox-ai/intervox/pkg/speech"
)

// sessionRequest is the inbound payload for POST /session
type sessionRequest struct {
	SessionID string                  `json:"sessionId"`
	Action    string                  `json:"action"`
	State     *lifecycle.SessionState `json:"state,omitempty"`
	Version   string                  `json:"version,omitempty"`
}

// synthesizeRequest is the inbound payload for POST /voice/tts
type synthesizeRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id,omitempty"`
	ModelID string `json:"model_id,omitempty"`
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleAppend(w, r)
	case http.MethodGet:
		s.handleFetch(w, r)
	case http.MethodPatch:
		s.handleStepCompletion(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, conversation.NewValidationError("", "failed to read request body"))
		return
	}

	req, err := conversation.ParseAppendRequest(body)
	if err != nil {
		writeError(w, err)
		return
	}

	entryID, err := s.log.Append(r.Context(), req.SessionID, req.Entry())
	if err != nil {
		writeError(w, err)
		return
	}

	s.stream.Broadcast("conversation.appended", map[string]interface{}{
		"sessionId": req.SessionID,
		"entryId":   entryID,
		"type":      req.Type,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"entryId": entryID,
	})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, conversation.NewValidationError("sessionId", "query parameter is required"))
		return
	}

	entries, err := s.log.Fetch(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"sessionId":    sessionID,
		"conversation": entries,
		"totalEntries": len(entries),
		"countsByType": conversation.CountByType(entries),
	})
}

func (s *Server) handleStepCompletion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID  string   `json:"sessionId"`
		Step       string   `json:"step"`
		Artifact   string   `json:"artifact,omitempty"`
		Status     string   `json:"status,omitempty"`
		Confidence *float64 `json:"confidence,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, conversation.NewValidationError("", "request body is not valid JSON"))
		return
	}

	err := s.log.MarkStepCompletion(r.Context(), req.SessionID, req.Step, conversation.StepCompletionOptions{
		Artifact:   req.Artifact,
		Status:     req.Status,
		Confidence: req.Confidence,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	s.stream.Broadcast("conversation.step_completed", map[string]interface{}{
		"sessionId": req.SessionID,
		"step":      req.Step,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSessionAction(w, r)
	case http.MethodGet:
		s.handleSessionGet(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionAction(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, conversation.NewValidationError("", "request body is not valid JSON"))
		return
	}
	if req.SessionID == "" {
		writeError(w, conversation.NewValidationError("sessionId", "cannot be empty"))
		return
	}

	state := lifecycle.SessionState{}
	if req.State != nil {
		state = *req.State
	}

	switch req.Action {
	case "pause":
		ack, err := s.tracker.Pause(r.Context(), req.SessionID, state, req.Version)
		if err != nil {
			writeError(w, err)
			return
		}
		s.stream.Broadcast("session.paused", map[string]interface{}{"sessionId": req.SessionID})
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"action":   "pause",
			"pausedAt": ack.PausedAt,
			"version":  ack.Version,
		})

	case "resume":
		ack, err := s.tracker.Resume(r.Context(), req.SessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		s.stream.Broadcast("session.resumed", map[string]interface{}{
			"sessionId":     req.SessionID,
			"pauseDuration": ack.PauseDuration,
		})
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":       true,
			"action":        "resume",
			"resumedAt":     ack.ResumedAt,
			"pauseDuration": ack.PauseDuration,
			"state":         ack.State,
			"version":       ack.Version,
		})

	case "save":
		ack, err := s.tracker.Save(r.Context(), req.SessionID, state, req.Version)
		if err != nil {
			writeError(w, err)
			return
		}
		s.stream.Broadcast("session.saved", map[string]interface{}{"sessionId": req.SessionID})
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"action":  "save",
			"savedAt": ack.SavedAt,
			"version": ack.Version,
		})

	default:
		writeError(w, conversation.NewValidationError("action", fmt.Sprintf("unknown action %q (must be: pause, resume, save)", req.Action)))
	}
}

// handleSessionGet combines the in-memory record with the durable
// conversation log. A session unknown to both is a 404; known to either is
// reported with whatever side exists.
func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, conversation.NewValidationError("sessionId", "query parameter is required"))
		return
	}

	snapshot, trackErr := s.tracker.Load(r.Context(), sessionID)
	if trackErr != nil && !errors.Is(trackErr, lifecycle.ErrNotFound) {
		writeError(w, trackErr)
		return
	}

	entries, err := s.log.Fetch(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	tracked := trackErr == nil
	if !tracked && len(entries) == 0 {
		writeError(w, fmt.Errorf("session %q: %w", sessionID, lifecycle.ErrNotFound))
		return
	}

	response := map[string]interface{}{
		"success":      true,
		"sessionId":    sessionID,
		"conversation": entries,
		"totalEntries": len(entries),
	}
	if tracked {
		response["status"] = snapshot.Status
		response["session"] = snapshot
	} else {
		response["status"] = "untracked"
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.speech == nil {
		writeError(w, fmt.Errorf("speech service is not configured"))
		return
	}

	if err := r.ParseMultipartForm(s.options.MaxBodySize); err != nil {
		writeError(w, conversation.NewValidationError("audio", "expected multipart form with an audio file"))
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, conversation.NewValidationError("audio", "audio file is required"))
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, fmt.Errorf("failed to read audio upload: %w", err))
		return
	}

	start := time.Now()
	result, err := s.speech.Transcribe(r.Context(), audio, header.Filename)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":            true,
		"text":               result.Text,
		"language_code":      result.LanguageCode,
		"processing_time_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.speech == nil {
		writeError(w, fmt.Errorf("speech service is not configured"))
		return
	}

	var req synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, conversation.NewValidationError("", "request body is not valid JSON"))
		return
	}
	if req.Text == "" {
		writeError(w, conversation.NewValidationError("text", "cannot be empty"))
		return
	}

	audio, err := s.speech.Synthesize(r.Context(), speech.SynthesizeRequest{
		Text:    req.Text,
		VoiceID: req.VoiceID,
		ModelID: req.ModelID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(audio)))
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	storeStatus := "ok"
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			storeStatus = "unreachable"
		}
	}

	speechStatus := "unchecked"
	if pinger, ok := s.speech.(Pinger); ok {
		speechStatus = "ok"
		if err := pinger.Ping(ctx); err != nil {
			speechStatus = "unreachable"
		}
	}

	status := http.StatusOK
	overall := "ok"
	if storeStatus == "unreachable" || speechStatus == "unreachable" {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	writeJSON(w, status, map[string]interface{}{
		"status":          overall,
		"store":           storeStatus,
		"speech":          speechStatus,
		"trackedSessions": s.tracker.Len(),
		"streamClients":   s.stream.ClientCount(),
		"uptime":          time.Since(s.startTime).Seconds(),
		"timestamp":       time.Now().UnixMilli(),
	})
}
