package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intervox-ai/intervox/pkg/conversation"
	"github.com/intervox-ai/intervox/pkg/lifecycle"
	"github.com/intervox-ai/intervox/pkg/speech"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string]json.RawMessage
	err  error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]json.RawMessage)}
}

func (s *memStore) FetchConversation(ctx context.Context, sessionID string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.rows[sessionID], nil
}

func (s *memStore) ReplaceConversation(ctx context.Context, sessionID string, entries json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows[sessionID] = entries
	return nil
}

func (s *memStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

type fakeSpeech struct {
	transcript string
	audio      []byte
	err        error
	pingErr    error
}

func (f *fakeSpeech) Ping(ctx context.Context) error {
	return f.pingErr
}

func (f *fakeSpeech) Transcribe(ctx context.Context, audio []byte, filename string) (*speech.TranscriptionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(audio) == 0 {
		return nil, speech.ErrEmptyAudio
	}
	return &speech.TranscriptionResult{Text: f.transcript, LanguageCode: "en"}, nil
}

func (f *fakeSpeech) Synthesize(ctx context.Context, req speech.SynthesizeRequest) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.audio, nil
}

func setupServer(t *testing.T) (*Server, *memStore, *fakeSpeech) {
	t.Helper()

	store := newMemStore()
	log, err := conversation.NewLog(store, zerolog.Nop(), nil)
	require.NoError(t, err)
	tracker := lifecycle.NewTracker(log, zerolog.Nop(), nil)
	speechClient := &fakeSpeech{transcript: "hello", audio: []byte("mp3")}

	server, err := NewServer(Options{}, log, tracker, speechClient, store, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { server.rateLimiter.Stop() })

	return server, store, speechClient
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Options{}, nil, nil, nil, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestHandleAppendAndFetch(t *testing.T) {
	server, _, _ := setupServer(t)

	payload := `{"sessionId": "s1", "type": "user", "content": "We target cath labs.", "step": "customer-discovery"}`
	rec := httptest.NewRecorder()
	server.handleConversation(rec, httptest.NewRequest("POST", "/conversation", strings.NewReader(payload)))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["entryId"])

	rec = httptest.NewRecorder()
	server.handleConversation(rec, httptest.NewRequest("GET", "/conversation?sessionId=s1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(1), body["totalEntries"])
	entries := body["conversation"].([]interface{})
	first := entries[0].(map[string]interface{})
	assert.Equal(t, "We target cath labs.", first["content"])
	assert.Equal(t, "customer-discovery", first["step"])
}

func TestHandleFetch_ReportsCountsByType(t *testing.T) {
	server, _, _ := setupServer(t)

	payloads := []string{
		`{"sessionId": "s1", "type": "user", "content": "We sell to cath labs."}`,
		`{"sessionId": "s1", "type": "agent", "content": "How large is that market?"}`,
		`{"sessionId": "s1", "type": "user", "content": "About 2,000 sites in the US."}`,
	}
	for _, payload := range payloads {
		rec := httptest.NewRecorder()
		server.handleConversation(rec, httptest.NewRequest("POST", "/conversation", strings.NewReader(payload)))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	server.handleConversation(rec, httptest.NewRequest("GET", "/conversation?sessionId=s1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(3), body["totalEntries"])
	counts := body["countsByType"].(map[string]interface{})
	assert.Equal(t, float64(2), counts["user"])
	assert.Equal(t, float64(1), counts["agent"])
}

func TestHandleAppend_ValidationError(t *testing.T) {
	server, _, _ := setupServer(t)

	tests := []struct {
		name    string
		payload string
	}{
		{"missing content", `{"sessionId": "s1", "type": "user"}`},
		{"bad entry type", `{"sessionId": "s1", "type": "robot", "content": "x"}`},
		{"not json", `{{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			server.handleConversation(rec, httptest.NewRequest("POST", "/conversation", strings.NewReader(tt.payload)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestHandleFetch_RequiresSessionID(t *testing.T) {
	server, _, _ := setupServer(t)

	rec := httptest.NewRecorder()
	server.handleConversation(rec, httptest.NewRequest("GET", "/conversation", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFetch_StoreFailureIsServerError(t *testing.T) {
	server, store, _ := setupServer(t)
	store.err = errors.New("connection refused")

	rec := httptest.NewRecorder()
	server.handleConversation(rec, httptest.NewRequest("GET", "/conversation?sessionId=s1", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	// Store internals must not leak to callers
	assert.Equal(t, "internal server error", body["error"])
}

func TestHandleStepCompletion(t *testing.T) {
	server, _, _ := setupServer(t)

	payload := `{"sessionId": "s1", "step": "market-sizing", "status": "completed", "confidence": 0.9}`
	req := httptest.NewRequest("PATCH", "/conversation", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	server.handleConversation(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.handleConversation(rec, httptest.NewRequest("GET", "/conversation?sessionId=s1", nil))
	body := decodeBody(t, rec)
	entries := body["conversation"].([]interface{})
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]interface{})
	assert.Equal(t, "system", entry["type"])
	assert.Contains(t, entry["content"], "market-sizing")
}

func TestHandleConversation_MethodNotAllowed(t *testing.T) {
	server, _, _ := setupServer(t)

	rec := httptest.NewRecorder()
	server.handleConversation(rec, httptest.NewRequest("DELETE", "/conversation", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func sessionAction(t *testing.T, server *Server, payload string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	server.handleSession(rec, httptest.NewRequest("POST", "/session", strings.NewReader(payload)))
	return rec
}

func TestHandleSession_PauseResumeRoundTrip(t *testing.T) {
	server, _, _ := setupServer(t)

	rec := sessionAction(t, server, `{"sessionId": "s1", "action": "pause", "state": {"currentArtifact": "pricing", "progress": {"pricing": 0.5}}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["pausedAt"])
	version := body["version"].(string)
	assert.NotEmpty(t, version)

	rec = sessionAction(t, server, `{"sessionId": "s1", "action": "resume"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.NotEmpty(t, body["pauseDuration"])
	state := body["state"].(map[string]interface{})
	assert.Equal(t, "pricing", state["currentArtifact"])
}

func TestHandleSession_ResumeErrors(t *testing.T) {
	server, _, _ := setupServer(t)

	rec := sessionAction(t, server, `{"sessionId": "ghost", "action": "resume"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := server.tracker.Save(context.Background(), "active-one", lifecycle.SessionState{}, "")
	require.NoError(t, err)
	rec = sessionAction(t, server, `{"sessionId": "active-one", "action": "resume"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleSession_VersionConflict(t *testing.T) {
	server, _, _ := setupServer(t)

	rec := sessionAction(t, server, `{"sessionId": "s1", "action": "pause"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	stale := decodeBody(t, rec)["version"].(string)

	rec = sessionAction(t, server, fmt.Sprintf(`{"sessionId": "s1", "action": "save", "version": %q}`, stale))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = sessionAction(t, server, fmt.Sprintf(`{"sessionId": "s1", "action": "pause", "version": %q}`, stale))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleSession_UnknownAction(t *testing.T) {
	server, _, _ := setupServer(t)

	rec := sessionAction(t, server, `{"sessionId": "s1", "action": "hibernate"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSessionGet_Combined(t *testing.T) {
	server, _, _ := setupServer(t)

	rec := sessionAction(t, server, `{"sessionId": "s1", "action": "pause", "state": {"currentArtifact": "pricing"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.handleSession(rec, httptest.NewRequest("GET", "/session?sessionId=s1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "paused", body["status"])
	session := body["session"].(map[string]interface{})
	assert.Equal(t, "s1", session["sessionId"])
	// Pause wrote a system entry into the durable log
	assert.Equal(t, float64(1), body["totalEntries"])
}

func TestHandleSessionGet_UntrackedWithDurableLog(t *testing.T) {
	server, _, _ := setupServer(t)

	payload := `{"sessionId": "s1", "type": "user", "content": "hello"}`
	rec := httptest.NewRecorder()
	server.handleConversation(rec, httptest.NewRequest("POST", "/conversation", strings.NewReader(payload)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.handleSession(rec, httptest.NewRequest("GET", "/session?sessionId=s1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "untracked", body["status"])
	assert.Nil(t, body["session"])
}

func TestHandleSessionGet_UnknownEverywhere(t *testing.T) {
	server, _, _ := setupServer(t)

	rec := httptest.NewRecorder()
	server.handleSession(rec, httptest.NewRequest("GET", "/session?sessionId=ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleTranscribe(t *testing.T) {
	server, _, _ := setupServer(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio", "clip.webm")
	require.NoError(t, err)
	part.Write([]byte("fake-audio"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/voice/stt", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	server.handleTranscribe(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "hello", body["text"])
}

func TestHandleTranscribe_MissingAudio(t *testing.T) {
	server, _, _ := setupServer(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	writer.WriteField("note", "no file here")
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/voice/stt", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	server.handleTranscribe(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTranscribe_UpstreamErrorForwarded(t *testing.T) {
	server, _, speechClient := setupServer(t)
	speechClient.err = &speech.UpstreamError{Operation: "transcribe", Status: http.StatusUnauthorized, Detail: "invalid key"}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio", "clip.webm")
	require.NoError(t, err)
	part.Write([]byte("fake-audio"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/voice/stt", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	server.handleTranscribe(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "invalid key", body["error"])
}

func TestHandleSynthesize(t *testing.T) {
	server, _, _ := setupServer(t)

	rec := httptest.NewRecorder()
	server.handleSynthesize(rec, httptest.NewRequest("POST", "/voice/tts", strings.NewReader(`{"text": "Tell me more."}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte("mp3"), rec.Body.Bytes())
}

func TestHandleSynthesize_EmptyText(t *testing.T) {
	server, _, _ := setupServer(t)

	rec := httptest.NewRecorder()
	server.handleSynthesize(rec, httptest.NewRequest("POST", "/voice/tts", strings.NewReader(`{"text": ""}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	server, _, _ := setupServer(t)

	rec := httptest.NewRecorder()
	server.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["store"])
	assert.Equal(t, "ok", body["speech"])
}

func TestHandleHealth_DegradedStore(t *testing.T) {
	server, store, _ := setupServer(t)
	store.err = errors.New("connection refused")

	rec := httptest.NewRecorder()
	server.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
}

func TestHandleHealth_DegradedSpeech(t *testing.T) {
	server, _, speechClient := setupServer(t)
	speechClient.pingErr = errors.New("401 from upstream")

	rec := httptest.NewRecorder()
	server.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "unreachable", body["speech"])
	assert.Equal(t, "ok", body["store"])
}

func TestWrap_RejectsDuringShutdown(t *testing.T) {
	server, _, _ := setupServer(t)
	server.isShuttingDown = true

	handler := server.wrap(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run during shutdown")
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest("GET", "/conversation", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWrap_RateLimiting(t *testing.T) {
	server, _, _ := setupServer(t)
	server.rateLimiter.Stop()
	server.rateLimiter = NewRateLimiter(2)

	handler := server.wrap(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/conversation", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		handler(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/conversation", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	handler(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestWrap_SetsRequestID(t *testing.T) {
	server, _, _ := setupServer(t)

	handler := server.wrap(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest("GET", "/conversation", nil))

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
