package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/benaskins/herald/internal/diag"
	"github.com/benaskins/herald/internal/spec"
	"github.com/benaskins/herald/internal/supervisor"
)

var upCmd = &cobra.Command{
	Use:   "up <spec-file>",
	Short: "Launch a server and wait until its log announces readiness",
	Long: "Run the spec's start command, follow the log file it announces, and block " +
		"until a readiness marker appears. On success the server keeps running and its " +
		"handle is recorded for a later `herald down`.",
	Args: cobra.ExactArgs(1),
	RunE: runUp,
}

var upConf []string

func init() {
	upCmd.Flags().StringArrayVarP(&upConf, "conf", "c", nil,
		"override a launch configuration pair (key=value, repeatable)")
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	specPath, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	sp, err := spec.Load(specPath)
	if err != nil {
		return err
	}
	for _, pair := range upConf {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("malformed --conf %q, want key=value", pair)
		}
		if sp.Launch.Overrides == nil {
			sp.Launch.Overrides = map[string]string{}
		}
		sp.Launch.Overrides[k] = v
	}

	stateDir := defaultStateDir()
	states := supervisor.NewStateFile(stateDir)
	if _, ok, err := states.Get(sp.Server.Name); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%s is already up (run `herald down %s` first)", sp.Server.Name, sp.Server.Name)
	}

	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	trans, err := diag.NewTranscript(filepath.Join(stateDir, sp.Server.Name+".transcript"))
	if err != nil {
		return err
	}
	defer trans.Close()

	sup := supervisor.New(sp, supervisor.WithTranscript(trans))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.Start(ctx); err != nil {
		return err
	}

	// Readiness confirmed. The server keeps running on its own; release the
	// log follower and persist the handle so down can find it later.
	sup.ReleaseTail()
	if err := states.Set(sp.Server.Name, sup.Record(specPath)); err != nil {
		// An unrecorded server would be orphaned, so reclaim it now.
		sup.Stop(context.Background())
		return fmt.Errorf("recording %s: %w", sp.Server.Name, err)
	}

	if jsonOut {
		return printJSON(sup.Descriptor())
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Printf("%s ready on port %d (log %s)\n", sp.Server.Name, sup.Port(), sup.LogPath())
	} else {
		// Piped output gets just the port.
		fmt.Println(sup.Port())
	}
	return nil
}
