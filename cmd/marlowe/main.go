package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "marlowe",
		Short: "Marlowe - personal assistant server",
		Long: `Marlowe is a self-hosted personal AI assistant with tool use,
semantic memory, and graceful degradation when the model backend is
unreachable.`,
	}

	rootCmd.AddCommand(
		serveCmd(),
		chatCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("Marlowe %s\n", version)
		},
	}
}
