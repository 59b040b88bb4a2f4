package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/benaskins/herald/internal/diag"
	"github.com/benaskins/herald/internal/spec"
	"github.com/benaskins/herald/internal/supervisor"
)

var downCmd = &cobra.Command{
	Use:   "down <name>",
	Short: "Stop a recorded server and clear its handle",
	Args:  cobra.ExactArgs(1),
	RunE:  runDown,
}

var downSpec string

func init() {
	downCmd.Flags().StringVar(&downSpec, "spec", "", "spec file to use instead of the recorded one")
	rootCmd.AddCommand(downCmd)
}

func runDown(cmd *cobra.Command, args []string) error {
	name := args[0]
	stateDir := defaultStateDir()
	states := supervisor.NewStateFile(stateDir)

	rec, ok, err := states.Get(name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no record of %s in %s", name, stateDir)
	}

	specPath := rec.SpecPath
	if downSpec != "" {
		specPath = downSpec
	}
	sp, err := spec.Load(specPath)
	if err != nil {
		return fmt.Errorf("loading spec for %s: %w", name, err)
	}

	trans, err := diag.NewTranscript(filepath.Join(stateDir, name+".transcript"))
	if err != nil {
		return err
	}
	defer trans.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervisor.Resume(sp, rec, supervisor.WithTranscript(trans))
	sup.Stop(ctx)

	if err := states.Remove(name); err != nil {
		return err
	}
	if rec.ScratchDir != "" {
		os.RemoveAll(rec.ScratchDir)
	}

	fmt.Printf("%s stopped\n", name)
	return nil
}
