package cmd

import (
	"github.com/spf13/cobra"

	"soundroom/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the soundroom server",
	Long:  `Start the HTTP server: the websocket room endpoint, the catalog search API and the artwork proxy.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
