package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tutu-network/pregen/internal/api"
)

func init() {
	f := startCmd.Flags()
	f.StringVar(&startReq.Shape, "shape", "square", "Region shape: square, circle, rectangle, oval, triangle, pentagon, hexagon, star")
	f.StringVar(&startReq.Pattern, "pattern", "loop", "Traversal pattern: loop, concentric, spiral, region")
	f.IntVarP(&startReq.CenterX, "center-x", "x", 0, "Center cell X")
	f.IntVarP(&startReq.CenterZ, "center-z", "z", 0, "Center cell Z")
	f.IntVarP(&startReq.Radius, "radius", "r", 0, "Radius in cells")
	f.IntVar(&startReq.RadiusZ, "radius-z", 0, "Second radius for rectangle and oval (defaults to --radius)")
	f.StringVarP(&startFile, "file", "f", "", "YAML file with a list of tasks to start")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(newCommandCmd("pause", "Pause a generation task", "paused"))
	rootCmd.AddCommand(newCommandCmd("continue", "Continue a paused generation task", "continued"))
	rootCmd.AddCommand(newCommandCmd("cancel", "Cancel a generation task", "cancelled"))
}

var (
	startReq  api.TaskRequest
	startFile string
)

var startCmd = &cobra.Command{
	Use:   "start [WORLD]",
	Short: "Start generating a region of a world",
	Long: `Start generating a region of a world.

  pregen start overworld --shape circle --radius 500 --pattern spiral
  pregen start --file regions.yaml

A selection file lists tasks:

  tasks:
    - world: overworld
      shape: circle
      radius: 500
      pattern: spiral
    - world: nether
      shape: rectangle
      radius: 200
      radius_z: 80`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStart,
}

// selectionFile is the YAML layout of --file.
type selectionFile struct {
	Tasks []api.TaskRequest `yaml:"tasks"`
}

func loadSelectionFile(path string) ([]api.TaskRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sf selectionFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(sf.Tasks) == 0 {
		return nil, fmt.Errorf("%s lists no tasks", path)
	}
	for i, req := range sf.Tasks {
		if _, err := req.Selection(); err != nil {
			return nil, fmt.Errorf("%s: task %d (%q): %w", path, i+1, req.World, err)
		}
	}
	return sf.Tasks, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	var reqs []api.TaskRequest
	switch {
	case startFile != "":
		if len(args) > 0 {
			return errors.New("give either a world or --file, not both")
		}
		loaded, err := loadSelectionFile(startFile)
		if err != nil {
			return err
		}
		reqs = loaded
	case len(args) == 1:
		req := startReq
		req.World = args[0]
		if _, err := req.Selection(); err != nil {
			return err
		}
		reqs = []api.TaskRequest{req}
	default:
		return errors.New("a world (or --file) is required")
	}

	client := newDaemonClient(resolveAddr())
	var failed int
	for _, req := range reqs {
		if err := client.StartTask(req); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", req.World, err)
			failed++
			continue
		}
		fmt.Printf("Started %s (%s radius %d, %s)\n", req.World, orDefault(req.Shape, "square"), req.Radius, orDefault(req.Pattern, "loop"))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d task(s) not started", failed, len(reqs))
	}
	return nil
}

// newCommandCmd builds pause, continue and cancel.
func newCommandCmd(action, short, done string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " WORLD",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newDaemonClient(resolveAddr()).Command(args[0], action); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", args[0], done)
			return nil
		},
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
