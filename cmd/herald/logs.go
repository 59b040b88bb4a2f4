package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/benaskins/herald/internal/supervisor"
	"github.com/benaskins/herald/internal/tailer"
)

var logsCmd = &cobra.Command{
	Use:   "logs <name>",
	Short: "Show recent server log output",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().IntP("lines", "n", 50, "number of lines to show")
	logsCmd.Flags().BoolP("follow", "f", false, "replay the whole log, then stream new lines until interrupted")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	n, _ := cmd.Flags().GetInt("lines")
	follow, _ := cmd.Flags().GetBool("follow")

	rec, ok, err := supervisor.NewStateFile(defaultStateDir()).Get(args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no record of %s", args[0])
	}

	if follow {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		w, err := tailer.StartWatcher(rec.LogPath, func(line string) { fmt.Println(line) })
		if err != nil {
			return err
		}
		defer w.Stop()

		<-ctx.Done()
		return nil
	}

	data, err := os.ReadFile(rec.LogPath)
	if err != nil {
		return fmt.Errorf("reading log: %w", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}
