package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/intervox-ai/intervox/internal/metrics"
)

const (
	DefaultBaseURL      = "https://api.elevenlabs.io"
	DefaultVoiceID      = "EXAVITQu4vr4xnSDxMaL"
	DefaultTTSModelID   = "eleven_turbo_v2_5"
	DefaultSTTModelID   = "scribe_v1"
	DefaultTimeout      = 60 * time.Second
	DefaultMaxAudioSize = 25 << 20 // 25 MB

	outputFormat = "mp3_44100_128"
)

// Request-side validation errors, raised before any network call.
var (
	ErrEmptyAudio    = errors.New("audio payload cannot be empty")
	ErrEmptyText     = errors.New("text cannot be empty")
	ErrAudioTooLarge = errors.New("audio payload exceeds maximum size")
)

// UpstreamError reports a non-2xx response from the speech service. The
// upstream status is preserved so callers can forward it instead of
// collapsing every failure into a 500.
type UpstreamError struct {
	Operation string
	Status    int
	Detail    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("speech %s failed (status %d): %s", e.Operation, e.Status, e.Detail)
}

// Config holds speech client settings. Zero-value fields fall back to the
// package defaults; only APIKey is required.
type Config struct {
	APIKey       string
	BaseURL      string
	VoiceID      string
	TTSModelID   string
	STTModelID   string
	Timeout      time.Duration
	MaxAudioSize int64
}

// Client calls an ElevenLabs-compatible speech service for transcription
// and synthesis.
type Client struct {
	apiKey       string
	baseURL      string
	voiceID      string
	ttsModelID   string
	sttModelID   string
	maxAudioSize int64
	httpClient   *http.Client
	logger       zerolog.Logger
	metrics      *metrics.Metrics
}

// TranscriptionResult is the decoded speech-to-text response.
type TranscriptionResult struct {
	Text                string  `json:"text"`
	LanguageCode        string  `json:"language_code,omitempty"`
	LanguageProbability float64 `json:"language_probability,omitempty"`
}

// NewClient creates a speech client
func NewClient(cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = DefaultVoiceID
	}
	if cfg.TTSModelID == "" {
		cfg.TTSModelID = DefaultTTSModelID
	}
	if cfg.STTModelID == "" {
		cfg.STTModelID = DefaultSTTModelID
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAudioSize == 0 {
		cfg.MaxAudioSize = DefaultMaxAudioSize
	}

	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		voiceID:      cfg.VoiceID,
		ttsModelID:   cfg.TTSModelID,
		sttModelID:   cfg.STTModelID,
		maxAudioSize: cfg.MaxAudioSize,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:  logger.With().Str("component", "speech").Logger(),
		metrics: m,
	}
}

// Transcribe sends audio to the speech-to-text endpoint and returns the
// transcript. The payload is validated before any network traffic.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (*TranscriptionResult, error) {
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	if int64(len(audio)) > c.maxAudioSize {
		return nil, fmt.Errorf("%w (%d bytes, limit %d)", ErrAudioTooLarge, len(audio), c.maxAudioSize)
	}
	if filename == "" {
		filename = "audio.webm"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("failed to write audio part: %w", err)
	}
	if err := writer.WriteField("model_id", c.sttModelID); err != nil {
		return nil, fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/speech-to-text", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("xi-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe("transcribe", start, err == nil && resp != nil && resp.StatusCode == http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("failed to call speech service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.upstreamError("transcribe", resp)
	}

	var result TranscriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode transcription response: %w", err)
	}

	c.logger.Debug().
		Int("audio_bytes", len(audio)).
		Int("transcript_chars", len(result.Text)).
		Msg("Transcription completed")

	return &result, nil
}

// SynthesizeRequest holds one text-to-speech call. Empty VoiceID and
// ModelID fall back to the configured defaults.
type SynthesizeRequest struct {
	Text    string
	VoiceID string
	ModelID string
}

// Synthesize converts text to speech and returns the encoded audio.
func (c *Client) Synthesize(ctx context.Context, sreq SynthesizeRequest) ([]byte, error) {
	if sreq.Text == "" {
		return nil, ErrEmptyText
	}
	voiceID := sreq.VoiceID
	if voiceID == "" {
		voiceID = c.voiceID
	}
	modelID := sreq.ModelID
	if modelID == "" {
		modelID = c.ttsModelID
	}

	reqBody := map[string]interface{}{
		"text":     sreq.Text,
		"model_id": modelID,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", c.baseURL, voiceID, outputFormat)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe("synthesize", start, err == nil && resp != nil && resp.StatusCode == http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("failed to call speech service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.upstreamError("synthesize", resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio response: %w", err)
	}

	c.logger.Debug().
		Int("text_chars", len(sreq.Text)).
		Int("audio_bytes", len(audio)).
		Str("voice_id", voiceID).
		Msg("Synthesis completed")

	return audio, nil
}

// Ping verifies the service is reachable and the API key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/v1/user", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach speech service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.upstreamError("ping", resp)
	}
	return nil
}

func (c *Client) upstreamError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := parseErrorDetail(body)

	c.logger.Warn().
		Str("operation", operation).
		Int("status", resp.StatusCode).
		Str("detail", detail).
		Msg("Speech service error")

	return &UpstreamError{
		Operation: operation,
		Status:    resp.StatusCode,
		Detail:    detail,
	}
}

// parseErrorDetail extracts a human-readable message from an ElevenLabs
// error body: {"detail": {"status": ..., "message": ...}} or
// {"detail": "..."}. Falls back to the raw body.
func parseErrorDetail(body []byte) string {
	var structured struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &structured); err == nil && len(structured.Detail) > 0 {
		var asString string
		if err := json.Unmarshal(structured.Detail, &asString); err == nil {
			return asString
		}
		var asObject struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(structured.Detail, &asObject); err == nil && asObject.Message != "" {
			return asObject.Message
		}
	}
	return string(body)
}

func (c *Client) observe(operation string, start time.Time, ok bool) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	c.metrics.SpeechRequestsTotal.WithLabelValues(operation, status).Inc()
	c.metrics.SpeechRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
