package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kalambet/interviewd/internal/config"
)

var version = "dev"

var (
	configPath string
	serverURL  string
	ownerFlag  string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:           "interviewd",
	Short:         "Owner-scoped interview sessions with live transcripts",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/interviewd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (default derived from server.addr)")
	rootCmd.PersistentFlags().StringVar(&ownerFlag, "owner", "", "act as this owner instead of the logged-in one")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(loginCmd, interviewsCmd, messageCmd, resumeCmd, watchCmd)
	rootCmd.AddCommand(configCmd, mcpCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "interviewd version %s\n", version)
	},
}

// loadConfig reads the config named by --config and installs its logger as the default.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func main() {
	// A missing .env is normal.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError("%v", err)
		stop()
		os.Exit(1)
	}
}
