package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/intervox-ai/intervox/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long:  `Query the health endpoint of a running Intervox server.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s:%d/health", host, cfg.Server.Port)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Println("Status: stopped")
		return nil
	}
	defer resp.Body.Close()

	var health struct {
		Status          string  `json:"status"`
		Store           string  `json:"store"`
		TrackedSessions int     `json:"trackedSessions"`
		StreamClients   int     `json:"streamClients"`
		Uptime          float64 `json:"uptime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}

	fmt.Printf("Status: %s\n", health.Status)
	fmt.Printf("Store: %s\n", health.Store)
	fmt.Printf("Tracked sessions: %d\n", health.TrackedSessions)
	fmt.Printf("Stream clients: %d\n", health.StreamClients)
	fmt.Printf("Uptime: %s\n", formatDuration(time.Duration(health.Uptime)*time.Second))

	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
