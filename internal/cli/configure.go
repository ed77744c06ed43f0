package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/intervox-ai/intervox/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a starter configuration file",
	Long: `Write a configuration file populated with defaults and whatever
INTERVOX_* environment variables are currently set. Secrets can then be
filled in by editing the file or left to the environment.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	// Load picks up defaults, an existing file, and env overrides
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to resolve configuration: %w", err)
	}

	loader := config.NewLoader(cfgFile)
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	configPath := loader.GetConfigPath()
	fmt.Printf("Configuration saved to: %s\n", configPath)

	if err := cfg.Validate(); err != nil {
		fmt.Printf("\nNote: configuration is not yet complete: %v\n", err)
		fmt.Println("Fill in the missing values before running: intervox serve")
		return nil
	}

	fmt.Println("\nYou can now start the server with: intervox serve")
	return nil
}
