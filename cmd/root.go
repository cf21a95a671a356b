package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"soundroom/server"
)

var rootCmd = &cobra.Command{
	Use:   "soundroom",
	Short: "Soundroom is a shared listening session server.",
	Long:  `Soundroom keeps a room of listeners on the same track, at the same position, at the same time.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
