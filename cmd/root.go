package cmd

import (
	"fmt"
	"os"

	"mixfm/logger"
	"mixfm/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mixfm",
	Short: "MixFM composes radio-ready audio from external sources and jingles.",
	Run: func(cmd *cobra.Command, args []string) {
		logger.InitLogger(logger.DefaultConfig())
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
