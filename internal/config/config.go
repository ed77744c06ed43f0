package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main Intervox configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Speech service (ElevenLabs-compatible) configuration
	Speech SpeechConfig `json:"speech" mapstructure:"speech"`

	// Persistence backend configuration
	Persistence PersistenceConfig `json:"persistence" mapstructure:"persistence"`

	// Session lifecycle configuration
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP API server configuration
type ServerConfig struct {
	Host               string `json:"host" mapstructure:"host"`
	Port               int    `json:"port" mapstructure:"port"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	RequestTimeout     int    `json:"request_timeout" mapstructure:"request_timeout"` // seconds
	MetricsEnabled     bool   `json:"metrics_enabled" mapstructure:"metrics_enabled"`
}

// SpeechConfig holds speech service configuration
type SpeechConfig struct {
	APIKey       string `json:"api_key" mapstructure:"api_key"`
	BaseURL      string `json:"base_url" mapstructure:"base_url"`
	VoiceID      string `json:"voice_id" mapstructure:"voice_id"`
	TTSModelID   string `json:"tts_model_id" mapstructure:"tts_model_id"`
	STTModelID   string `json:"stt_model_id" mapstructure:"stt_model_id"`
	TimeoutSecs  int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxAudioSize int64  `json:"max_audio_size" mapstructure:"max_audio_size"` // bytes
}

// PersistenceConfig holds conversation store configuration
type PersistenceConfig struct {
	Backend     string `json:"backend" mapstructure:"backend"` // sqlite, supabase
	SQLitePath  string `json:"sqlite_path" mapstructure:"sqlite_path"`
	SupabaseURL string `json:"supabase_url" mapstructure:"supabase_url"`
	SupabaseKey string `json:"supabase_key" mapstructure:"supabase_key"`
	Table       string `json:"table" mapstructure:"table"`
	TimeoutSecs int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// SessionsConfig holds session lifecycle tracker configuration
type SessionsConfig struct {
	StaleAge      string `json:"stale_age" mapstructure:"stale_age"`           // Go duration, e.g. "72h"
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"` // cron spec
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			RateLimitPerMinute: 120,
			RequestTimeout:     30,
			MetricsEnabled:     true,
		},
		Speech: SpeechConfig{
			BaseURL:      "https://api.elevenlabs.io",
			VoiceID:      "EXAVITQu4vr4xnSDxMaL",
			TTSModelID:   "eleven_turbo_v2_5",
			STTModelID:   "scribe_v1",
			TimeoutSecs:  60,
			MaxAudioSize: 25 << 20,
		},
		Persistence: PersistenceConfig{
			Backend:     "sqlite",
			Table:       "conversations",
			TimeoutSecs: 10,
		},
		Sessions: SessionsConfig{
			StaleAge:      "72h",
			SweepSchedule: "0 * * * *",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// StaleAge returns the parsed session stale age
func (c *Config) StaleAge() time.Duration {
	d, err := time.ParseDuration(c.Sessions.StaleAge)
	if err != nil {
		return 72 * time.Hour
	}
	return d
}

// Validate checks if the configuration is valid. Missing required
// credentials are reported here so startup fails fast instead of
// surfacing as generic errors on first use.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}

	if c.Speech.APIKey == "" {
		return fmt.Errorf("speech: api_key is required (set INTERVOX_SPEECH_API_KEY or speech.api_key)")
	}
	if c.Speech.BaseURL == "" {
		return fmt.Errorf("speech: base_url is required")
	}

	switch c.Persistence.Backend {
	case "sqlite":
		// sqlite_path defaults under data_dir at load time
	case "supabase":
		if c.Persistence.SupabaseURL == "" {
			return fmt.Errorf("persistence: supabase_url is required for the supabase backend")
		}
		if c.Persistence.SupabaseKey == "" {
			return fmt.Errorf("persistence: supabase_key is required for the supabase backend")
		}
	default:
		return fmt.Errorf("persistence: invalid backend %q (must be: sqlite, supabase)", c.Persistence.Backend)
	}
	if c.Persistence.Table == "" {
		return fmt.Errorf("persistence: table is required")
	}

	if _, err := time.ParseDuration(c.Sessions.StaleAge); err != nil {
		return fmt.Errorf("sessions: invalid stale_age %q: %w", c.Sessions.StaleAge, err)
	}

	return nil
}
