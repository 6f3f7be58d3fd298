package cmd

import (
	"mixfm/logger"
	"mixfm/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the MixFM HTTP server",
	Long:  `Runs the MixFM API server: source acquisition, mixing, jingle library and quota endpoints.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger.InitLogger(logger.DefaultConfig())
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
