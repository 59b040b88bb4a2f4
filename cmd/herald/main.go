package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "herald",
	Short: "Launch black-box servers and wait for their logs to announce readiness",
}

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "machine-readable output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
