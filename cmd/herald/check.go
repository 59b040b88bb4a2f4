package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/benaskins/herald/internal/spec"
)

type checkResult struct {
	Path  string `json:"path"`
	Name  string `json:"name,omitempty"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

var checkCmd = &cobra.Command{
	Use:   "check [file-or-dir]",
	Short: "Validate server spec files",
	Long:  "Parse and validate YAML server specs. Checks a specific file, a directory, or the default spec directory (~/.herald/servers/).",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	target := defaultSpecDir()
	if len(args) > 0 {
		target = args[0]
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", target, err)
	}

	var files []string
	if info.IsDir() {
		yamlFiles, _ := filepath.Glob(filepath.Join(target, "*.yaml"))
		ymlFiles, _ := filepath.Glob(filepath.Join(target, "*.yml"))
		files = append(yamlFiles, ymlFiles...)
		if len(files) == 0 {
			return fmt.Errorf("no YAML files found in %s", target)
		}
	} else {
		files = []string{target}
	}

	results := make([]checkResult, len(files))
	var g errgroup.Group
	for i, path := range files {
		g.Go(func() error {
			s, err := spec.Load(path)
			if err != nil {
				results[i] = checkResult{Path: path, Valid: false, Error: err.Error()}
				return nil
			}
			results[i] = checkResult{Path: path, Name: s.Server.Name, Valid: true}
			return nil
		})
	}
	g.Wait()

	var failed int
	for _, r := range results {
		if !r.Valid {
			failed++
		}
	}

	if jsonOut {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Valid {
				fmt.Printf("OK    %s (%s)\n", r.Path, r.Name)
			} else {
				fmt.Fprintf(os.Stderr, "FAIL  %s\n      %v\n", r.Path, r.Error)
			}
		}
		if len(files) > 1 {
			fmt.Printf("\n%d/%d specs valid\n", len(files)-failed, len(files))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d spec(s) failed validation", failed)
	}
	return nil
}
