package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/intervox-ai/intervox/internal/config"
	"github.com/intervox-ai/intervox/internal/logger"
	"github.com/intervox-ai/intervox/internal/metrics"
	"github.com/intervox-ai/intervox/pkg/conversation"
	"github.com/intervox-ai/intervox/pkg/httpapi"
	"github.com/intervox-ai/intervox/pkg/lifecycle"
	"github.com/intervox-ai/intervox/pkg/speech"
	"github.com/intervox-ai/intervox/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the interview backend server",
	Long: `Run the interview backend server in the foreground.
The server exposes the conversation log, session lifecycle, speech proxy,
and websocket event stream until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// conversationStore is the full surface a backend must provide: the log
// reads and writes through it, the health check pings it.
type conversationStore interface {
	conversation.Store
	httpapi.Pinger
	Close() error
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	// Fail fast on missing secrets or endpoints
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	zl := log.GetZerolog()
	zl.Info().Str("version", version).Msg("Starting Intervox")

	m := metrics.NewMetrics()

	backend, err := buildStore(cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", cfg.Persistence.Backend, err)
	}
	defer backend.Close()

	convLog, err := conversation.NewLog(backend, zl, m)
	if err != nil {
		return fmt.Errorf("failed to initialize conversation log: %w", err)
	}

	tracker := lifecycle.NewTracker(convLog, zl, m)

	janitor := lifecycle.NewJanitor(tracker, cfg.StaleAge(), cfg.Sessions.SweepSchedule, zl)
	if err := janitor.Start(); err != nil {
		return fmt.Errorf("failed to start session janitor: %w", err)
	}
	defer janitor.Stop()

	speechClient := speech.NewClient(speech.Config{
		APIKey:       cfg.Speech.APIKey,
		BaseURL:      cfg.Speech.BaseURL,
		VoiceID:      cfg.Speech.VoiceID,
		TTSModelID:   cfg.Speech.TTSModelID,
		STTModelID:   cfg.Speech.STTModelID,
		Timeout:      time.Duration(cfg.Speech.TimeoutSecs) * time.Second,
		MaxAudioSize: cfg.Speech.MaxAudioSize,
	}, zl, m)

	var apiMetrics *metrics.Metrics
	if cfg.Server.MetricsEnabled {
		apiMetrics = m
	}

	server, err := httpapi.NewServer(httpapi.Options{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		RequestTimeout:     time.Duration(cfg.Server.RequestTimeout) * time.Second,
	}, convLog, tracker, speechClient, backend, apiMetrics, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize API server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zl.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}

	if err := server.Stop(); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	zl.Info().Msg("Intervox stopped")
	return nil
}

// buildStore selects the durable backend from configuration
func buildStore(cfg *config.Config, zl zerolog.Logger) (conversationStore, error) {
	switch cfg.Persistence.Backend {
	case "supabase":
		return store.NewSupabase(store.SupabaseConfig{
			BaseURL:    cfg.Persistence.SupabaseURL,
			ServiceKey: cfg.Persistence.SupabaseKey,
			Table:      cfg.Persistence.Table,
			Timeout:    time.Duration(cfg.Persistence.TimeoutSecs) * time.Second,
			Logger:     zl,
		})
	case "sqlite":
		return store.NewSQLite(cfg.Persistence.SQLitePath, zl)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Persistence.Backend)
	}
}
