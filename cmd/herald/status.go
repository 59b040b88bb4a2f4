package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/herald/internal/probe"
	"github.com/benaskins/herald/internal/supervisor"
)

type statusRow struct {
	Name      string `json:"name"`
	Ident     string `json:"ident"`
	Port      int    `json:"port"`
	Reachable bool   `json:"reachable"`
	Uptime    string `json:"uptime,omitempty"`
	LogPath   string `json:"log_path,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded servers and whether they answer",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	records, err := supervisor.NewStateFile(defaultStateDir()).Load()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No servers")
		return nil
	}

	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]statusRow, 0, len(records))
	for _, name := range names {
		rec := records[name]
		row := statusRow{Name: name, Ident: rec.Ident, Port: rec.Port, LogPath: rec.LogPath}
		row.Reachable = probe.TCP(cmd.Context(), rec.Port, probe.DefaultTimeout) == nil
		if rec.StartedAt > 0 {
			row.Uptime = time.Since(time.Unix(rec.StartedAt, 0)).Truncate(time.Second).String()
		}
		rows = append(rows, row)
	}

	if jsonOut {
		return printJSON(rows)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tPORT\tREACHABLE\tUPTIME\tLOG")
	for _, r := range rows {
		reach := "no"
		if r.Reachable {
			reach = "yes"
		}
		uptime := r.Uptime
		if uptime == "" {
			uptime = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", r.Name, r.Port, reach, uptime, r.LogPath)
	}
	w.Flush()
	return nil
}
