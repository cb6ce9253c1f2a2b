// Package main provides the CLI entry point for avatarchat.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/normanking/avatarchat/internal/config"
	"github.com/normanking/avatarchat/internal/logging"
)

var (
	// Version information (set at build time)
	version = "dev"

	cfgPath string
	verbose bool

	cfg *config.Config
	log *logging.Logger

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "avatarchat",
		Short: "avatarchat - session gate and control server for streaming avatars",
		Long: titleStyle.Render("avatarchat") + `

Drives a streaming avatar session:
• Tracks connection and speaking phases reported by the engine
• Gates text, echo and interrupt commands on the speaking phase
• Streams session events to UI viewers over WebSocket
• Optionally archives transcripts to SQLite and relays events to Redis

` + dimStyle.Render("Use 'avatarchat [command] --help' for more information."),
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: initialize,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				log.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.avatarchat/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("avatarchat %s\n", version)
		},
	})
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// initialize loads the configuration and sets up logging for every command.
func initialize(cmd *cobra.Command, args []string) error {
	var err error
	if cfgPath != "" {
		cfg, err = config.LoadFromPath(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = string(logging.LevelDebug)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err = logging.New(&logging.Config{
		Dir:        cfg.Logging.Dir,
		Level:      logging.LogLevel(cfg.Logging.Level),
		MaxHistory: cfg.Logging.MaxHistory,
		Console:    cfg.Logging.Console,
	})
	return err
}
