// Package cli implements the pregen command-line interface using Cobra.
// serve runs the daemon; the other commands talk to it over HTTP, except
// export and import which open the task store directly.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tutu-network/pregen/internal/daemon"
)

var rootCmd = &cobra.Command{
	Use:   "pregen",
	Short: "pregen — pre-generate world regions in the background",
	Long: `pregen walks a shaped region of a world cell by cell and asks the
world host to generate each cell, pausing whenever the host is busy.

Tasks survive restarts and resume exactly where they stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var daemonAddr string

func init() {
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", "",
		"Daemon address (default from $PREGEN_ADDR or config)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version
	cliVersion = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var cliVersion = "dev"

// resolveAddr picks the daemon base URL: flag, then $PREGEN_ADDR, then the
// [api] section of the config file.
func resolveAddr() string {
	addr := strings.TrimSpace(daemonAddr)
	if addr == "" {
		addr = strings.TrimSpace(os.Getenv("PREGEN_ADDR"))
	}
	if addr == "" {
		cfg, err := daemon.LoadConfig()
		if err != nil {
			cfg = daemon.DefaultConfig()
		}
		host := cfg.API.Host
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		addr = fmt.Sprintf("%s:%d", host, cfg.API.Port)
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/")
}
