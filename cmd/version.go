package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const Version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display the GPU Cloud Service version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("GPU Cloud Service Version: %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
