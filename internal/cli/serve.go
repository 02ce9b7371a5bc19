package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tutu-network/pregen/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveContinue, "continue", false, "Resume restored tasks immediately (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost     string
	servePort     int
	serveContinue bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pregen daemon",
	Long: `Start the generation daemon and its HTTP API (default 127.0.0.1:8765).

Saved tasks are restored paused unless generation.continue_on_restart is set.
SIGHUP reloads the watchdog settings from config.toml.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if serveContinue {
		cfg.Generation.ContinueOnRestart = true
	}

	d, err := daemon.NewWithConfig(cfg, cliVersion)
	if err != nil {
		return err
	}
	d.ConfigPath = daemon.ConfigPath()
	defer d.Close()

	return d.Serve(context.Background())
}
