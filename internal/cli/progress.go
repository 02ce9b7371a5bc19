package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tutu-network/pregen/internal/domain"
)

func init() {
	progressCmd.Flags().BoolVarP(&progressWatch, "watch", "w", false, "Refresh until interrupted")
	progressCmd.Flags().DurationVar(&progressInterval, "interval", 2*time.Second, "Refresh interval with --watch")
	rootCmd.AddCommand(progressCmd)
}

var (
	progressWatch    bool
	progressInterval time.Duration
)

var progressCmd = &cobra.Command{
	Use:   "progress [WORLD]",
	Short: "Show generation progress",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProgress,
}

func runProgress(cmd *cobra.Command, args []string) error {
	client := newDaemonClient(resolveAddr())
	styled := isatty.IsTerminal(os.Stdout.Fd())
	world := ""
	if len(args) == 1 {
		world = args[0]
	}

	if !progressWatch {
		return printProgress(os.Stdout, client, world, styled)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		if styled {
			fmt.Print("\033[H\033[2J")
		}
		if err := printProgress(os.Stdout, client, world, styled); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printProgress(w io.Writer, client *daemonClient, world string, styled bool) error {
	list, err := client.Tasks()
	if err != nil {
		return err
	}
	tasks := list.Tasks
	if world != "" {
		tasks = tasks[:0]
		for _, p := range list.Tasks {
			if p.World == world {
				tasks = append(tasks, p)
			}
		}
		if len(tasks) == 0 {
			return fmt.Errorf("no generation task for %s", world)
		}
	}

	st := newProgressStyles(styled)
	if list.Holding {
		if wd, err := client.Watchdogs(); err == nil {
			var keys []string
			for _, s := range wd.Watchdogs {
				if s.Holding {
					keys = append(keys, s.Key)
				}
			}
			fmt.Fprintln(w, st.held.Render("Generation held by watchdog: "+strings.Join(keys, ", ")))
		}
	}
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No generation tasks.")
		return nil
	}
	for _, p := range tasks {
		fmt.Fprintln(w, renderProgressLine(p, st))
	}
	return nil
}

// ─── Progress Bar ───────────────────────────────────────────────────────────
// One line per task:
//   overworld  [=========>..........]  42% | 1234/2937 cells | 12.3/s | ETA 2m18s | ACTIVE

const barWidth = 30 // Characters for the progress bar

type progressStyles struct {
	world  lipgloss.Style
	bar    lipgloss.Style
	dim    lipgloss.Style
	active lipgloss.Style
	paused lipgloss.Style
	held   lipgloss.Style
	failed lipgloss.Style
}

func newProgressStyles(styled bool) progressStyles {
	if !styled {
		plain := lipgloss.NewStyle()
		return progressStyles{plain, plain, plain, plain, plain, plain, plain}
	}
	return progressStyles{
		world:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#89b4fa")),
		bar:    lipgloss.NewStyle().Foreground(lipgloss.Color("#a6e3a1")),
		dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("#6c7086")),
		active: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#a6e3a1")),
		paused: lipgloss.NewStyle().Foreground(lipgloss.Color("#f9e2af")),
		held:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#fab387")),
		failed: lipgloss.NewStyle().Foreground(lipgloss.Color("#f38ba8")),
	}
}

func renderProgressLine(p domain.Progress, st progressStyles) string {
	status := string(p.Status)
	statusStyle := st.paused
	switch {
	case p.Held:
		status = "HELD"
		statusStyle = st.held
	case p.Status == domain.TaskActive:
		statusStyle = st.active
	}

	line := fmt.Sprintf("%s  %s %3.0f%% | %d/%d cells | %s | %s | %s",
		st.world.Render(fmt.Sprintf("%-12s", p.World)),
		st.bar.Render(renderBar(p.Percent)),
		p.Percent,
		p.CellsCompleted, p.TotalCells,
		formatRate(p.Rate),
		formatETA(p.ETA, p.Percent),
		statusStyle.Render(status),
	)
	if p.Failures > 0 {
		line += st.failed.Render(fmt.Sprintf(" | %d failure(s): %s", p.Failures, p.LastError))
	}
	return line
}

// renderBar builds [=======>............].
func renderBar(pct float64) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	empty := barWidth - filled

	var bar string
	if filled == barWidth {
		bar = strings.Repeat("=", filled)
	} else if filled > 0 {
		bar = strings.Repeat("=", filled-1) + ">" + strings.Repeat(".", empty)
	} else {
		bar = strings.Repeat(".", barWidth)
	}
	return "[" + bar + "]"
}

func formatRate(perSec float64) string {
	if perSec <= 0 {
		return "--/s"
	}
	return fmt.Sprintf("%.1f/s", perSec)
}

func formatETA(eta time.Duration, pct float64) string {
	if pct >= 100 {
		return "ETA 0s"
	}
	if eta <= 0 {
		return "ETA --"
	}

	remaining := int(eta.Seconds())
	if remaining < 60 {
		return fmt.Sprintf("ETA %ds", remaining)
	}
	if remaining < 3600 {
		return fmt.Sprintf("ETA %dm%ds", remaining/60, remaining%60)
	}
	return fmt.Sprintf("ETA %dh%dm", remaining/3600, (remaining%3600)/60)
}
