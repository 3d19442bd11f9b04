// Package cmd contains the CLI entrypoints for the annotator service.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "page-annotator",
	Short: "Serve a CSV dataset for in-browser page annotation",
	Long: `page-annotator serves rows of a CSV dataset to a browser client,
proxies and rewrites the referenced web pages so they render inside an
iframe, and persists the submitted annotations back to a CSV file.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "annotator.yaml", "path to the configuration file")
}
