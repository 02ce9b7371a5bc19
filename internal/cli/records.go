package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/pregen/internal/domain"
)

func init() {
	rootCmd.AddCommand(recordsCmd)
}

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List saved task records, finished ones included",
	RunE:  runRecords,
}

func runRecords(cmd *cobra.Command, args []string) error {
	recs, err := newDaemonClient(resolveAddr()).Records()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No task records.")
		return nil
	}
	return writeRecords(os.Stdout, recs)
}

func writeRecords(out io.Writer, recs []domain.TaskRecord) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WORLD\tSHAPE\tCENTER\tRADIUS\tPATTERN\tCELLS\tACTIVE\tSTATE\tUPDATED")
	for _, r := range recs {
		radius := fmt.Sprintf("%d", r.RadiusX)
		if r.RadiusZ != nil {
			radius = fmt.Sprintf("%dx%d", r.RadiusX, *r.RadiusZ)
		}
		updated := "-"
		if !r.UpdatedAt.IsZero() {
			updated = r.UpdatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%d,%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.World,
			r.ShapeKind,
			r.CenterX, r.CenterZ,
			radius,
			r.Pattern,
			r.CellsCompleted,
			(time.Duration(r.TotalActiveMs) * time.Millisecond).Round(time.Second),
			recordState(r),
			updated,
		)
	}
	return w.Flush()
}

func recordState(r domain.TaskRecord) string {
	switch {
	case r.Completed:
		return "completed"
	case r.Cancelled:
		return "cancelled"
	case r.Paused:
		return "paused"
	default:
		return "active"
	}
}
