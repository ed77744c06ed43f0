package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}

	if m.registry == nil {
		t.Error("Registry is nil")
	}

	if m.HTTPRequestsTotal == nil {
		t.Error("HTTPRequestsTotal is nil")
	}
	if m.HTTPRequestDuration == nil {
		t.Error("HTTPRequestDuration is nil")
	}

	if m.ConversationAppendsTotal == nil {
		t.Error("ConversationAppendsTotal is nil")
	}
	if m.ConversationFetchesTotal == nil {
		t.Error("ConversationFetchesTotal is nil")
	}
	if m.ConversationStoreErrors == nil {
		t.Error("ConversationStoreErrors is nil")
	}

	if m.SessionsTracked == nil {
		t.Error("SessionsTracked is nil")
	}
	if m.SessionTransitionsTotal == nil {
		t.Error("SessionTransitionsTotal is nil")
	}
	if m.SessionVersionConflicts == nil {
		t.Error("SessionVersionConflicts is nil")
	}
	if m.SessionsEvictedTotal == nil {
		t.Error("SessionsEvictedTotal is nil")
	}

	if m.SpeechRequestsTotal == nil {
		t.Error("SpeechRequestsTotal is nil")
	}
	if m.SpeechRequestDuration == nil {
		t.Error("SpeechRequestDuration is nil")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()

	m.ConversationAppendsTotal.WithLabelValues("user").Inc()
	m.SessionsTracked.Set(3)
	m.SessionTransitionsTotal.WithLabelValues("pause").Inc()
	m.SpeechRequestsTotal.WithLabelValues("stt", "success").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"conversation_appends_total",
		"sessions_tracked",
		"session_transitions_total",
		"speech_requests_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestRegistry(t *testing.T) {
	m := NewMetrics()
	if m.Registry() != m.registry {
		t.Error("Registry() returned wrong registry")
	}
}
