package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Supabase is a conversation store backed by the Supabase PostgREST API.
type Supabase struct {
	baseURL    string
	serviceKey string
	table      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// SupabaseConfig holds Supabase store configuration
type SupabaseConfig struct {
	BaseURL    string
	ServiceKey string
	Table      string
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// conversationRow mirrors one row of the conversations table
type conversationRow struct {
	SessionID string          `json:"session_id"`
	Entries   json.RawMessage `json:"entries"`
	UpdatedAt string          `json:"updated_at"`
}

// NewSupabase creates a new Supabase store
func NewSupabase(cfg SupabaseConfig) (*Supabase, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("supabase base URL is required")
	}
	if cfg.ServiceKey == "" {
		return nil, errors.New("supabase service key is required")
	}
	if cfg.Table == "" {
		cfg.Table = "conversations"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Supabase{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		serviceKey: cfg.ServiceKey,
		table:      cfg.Table,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: cfg.Logger,
	}, nil
}

// FetchConversation returns the stored entry document for a session, or nil
// when no row exists.
func (s *Supabase) FetchConversation(ctx context.Context, sessionID string) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?session_id=eq.%s&select=entries",
		s.baseURL, s.table, url.QueryEscape(sessionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call persistence API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("persistence API error (status %d): %s", resp.StatusCode, string(body))
	}

	var rows []conversationRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	// No row yet for this session
	if len(rows) == 0 {
		return nil, nil
	}

	return rows[0].Entries, nil
}

// ReplaceConversation upserts the full entry document for a session.
func (s *Supabase) ReplaceConversation(ctx context.Context, sessionID string, entries json.RawMessage) error {
	row := conversationRow{
		SessionID: sessionID,
		Entries:   entries,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	jsonData, err := json.Marshal([]conversationRow{row})
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s", s.baseURL, s.table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	// Upsert keyed by the session_id unique column
	req.Header.Set("Prefer", "resolution=merge-duplicates")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call persistence API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("persistence API error (status %d): %s", resp.StatusCode, string(body))
	}

	return nil
}

// Ping verifies the PostgREST endpoint is reachable
func (s *Supabase) Ping(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?select=session_id&limit=1", s.baseURL, s.table)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach persistence API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("persistence API unhealthy (status %d)", resp.StatusCode)
	}

	return nil
}

// Close is a no-op for the HTTP-backed store
func (s *Supabase) Close() error {
	return nil
}

func (s *Supabase) setHeaders(req *http.Request) {
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
}
