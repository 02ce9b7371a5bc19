package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	watchdogsCmd.Flags().BoolVar(&watchdogsReload, "reload", false, "Re-read watchdog settings from config.toml first")
	rootCmd.AddCommand(watchdogsCmd)
}

var watchdogsReload bool

var watchdogsCmd = &cobra.Command{
	Use:   "watchdogs",
	Short: "Show watchdog settings and the latest readings",
	RunE:  runWatchdogs,
}

func runWatchdogs(cmd *cobra.Command, args []string) error {
	client := newDaemonClient(resolveAddr())
	if watchdogsReload {
		if err := client.ReloadWatchdogs(); err != nil {
			return err
		}
	}
	list, err := client.Watchdogs()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNAL\tENABLED\tTHRESHOLD\tVALUE\tHOLDING")
	for _, s := range list.Watchdogs {
		value := "-"
		if s.Value != nil {
			value = fmt.Sprintf("%g", *s.Value)
		}
		fmt.Fprintf(w, "%s\t%t\t%g\t%s\t%t\n", s.Key, s.Enabled, s.Threshold, value, s.Holding)
	}
	return w.Flush()
}
