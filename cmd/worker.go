package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the worker pools without the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		ws, err := buildWorkers(env)
		if err != nil {
			return err
		}
		return ws.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
