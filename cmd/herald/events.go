package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/herald/internal/diag"
)

var eventsCmd = &cobra.Command{
	Use:   "events <name>",
	Short: "Show the lifecycle transcript of a server",
	Long:  "Dump the append-only launch transcript: every attempt, failure, readiness, and stop, across all herald invocations for this server.",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	path := filepath.Join(defaultStateDir(), args[0]+".transcript")
	entries, err := diag.ReadTranscript(path)
	if err != nil {
		return fmt.Errorf("no transcript for %s: %w", args[0], err)
	}
	if jsonOut {
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No events")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tATTEMPT\tPORT\tDETAIL")
	for _, e := range entries {
		attempt := "-"
		if e.Attempt > 0 {
			attempt = strconv.Itoa(e.Attempt)
		}
		port := "-"
		if e.Port > 0 {
			port = strconv.Itoa(e.Port)
		}
		detail := e.Detail
		if e.Error != "" {
			detail = e.Error
		} else if detail == "" && e.LogPath != "" {
			detail = e.LogPath
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.RFC3339), e.Event, attempt, port, detail)
	}
	w.Flush()
	return nil
}
