package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "taskstreamd",
	Short: "taskstreamd runs the asynchronous task execution and event-replay core",
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cleanupCmd)
}
