package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/pregen/internal/daemon"
	"github.com/tutu-network/pregen/internal/infra/archive"
)

func init() {
	importCmd.Flags().BoolVar(&importOverwrite, "overwrite", false, "Replace records that already exist")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

var importOverwrite bool

var exportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Write every task record to a compressed archive",
	Long: `Write every task record, finished ones included, to a zstd-compressed
JSON-lines archive. Reads the store configured in config.toml directly.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Load task records from an archive",
	Long: `Load task records from an archive written by 'pregen export'.
Stop the daemon first: imported records are picked up on the next start.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	store, err := daemon.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := archive.Export(store, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Exported %d record(s) to %s\n", n, args[0])
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	store, err := daemon.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := archive.Import(store, args[0], archive.ImportOptions{Overwrite: importOverwrite})
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d record(s), skipped %d existing\n", res.Imported, res.Skipped)
	return nil
}
