package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/intervox-ai/intervox/pkg/conversation"
	"github.com/intervox-ai/intervox/pkg/lifecycle"
	"github.com/intervox-ai/intervox/pkg/speech"
)

// errorResponse is the envelope for every failed request
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors onto HTTP statuses: validation failures are
// client errors with field detail, unknown sessions are 404, state and
// version conflicts are 409, upstream speech failures forward the upstream
// status, timeouts are 504, and everything else is a generic 500 so store
// internals never leak to callers.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}

	var validationErr *conversation.ValidationError
	var upstreamErr *speech.UpstreamError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
		resp.Field = validationErr.Field
	case errors.Is(err, speech.ErrEmptyAudio), errors.Is(err, speech.ErrEmptyText):
		status = http.StatusBadRequest
	case errors.Is(err, speech.ErrAudioTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, lifecycle.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidState), errors.Is(err, lifecycle.ErrVersionConflict):
		status = http.StatusConflict
	case errors.As(err, &upstreamErr):
		status = upstreamErr.Status
		resp.Error = upstreamErr.Detail
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		resp.Error = "upstream call timed out"
	default:
		resp.Error = "internal server error"
	}

	writeJSON(w, status, resp)
}
