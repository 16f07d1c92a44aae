package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ingeniumai/outreach/internal/config"
	"github.com/ingeniumai/outreach/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "outreach",
	Short: "Mail dispatch service for the outreach platform",
	Long: `outreach sends and tracks email on behalf of signed-in users through their
own Gmail accounts.

It can run as:
  - An HTTP API for the web app (serve)
  - An MCP server over stdio for AI assistants (mcp)`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

var (
	configPath string
	debugMode  bool
)

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "outreach version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("OUTREACH_CONFIG"),
		"Path to a YAML config file (env: OUTREACH_CONFIG). Without it only the environment is read.")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMCPCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}

// loadConfig reads and validates the configuration and builds the logger
// for it.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log := logging.Setup(cfg.Env, debugMode)
	slog.SetDefault(log)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
