package cmd

import (
	"github.com/spf13/cobra"

	"gitlab.com/gridshare/gpu-cloud-service/service"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the GPU cloud service",
	Long:  `Starts the HTTP/WebSocket server, the job dispatch loop and the host liveness sweep.`,
	Run: func(cmd *cobra.Command, args []string) {
		service.Run()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
