package cmd

import (
	"github.com/carousell/ct-go/pkg/logger/log"
	"github.com/nguyentranbao-ct/chat-sync/internal/app"
	"github.com/nguyentranbao-ct/chat-sync/internal/server"
	"github.com/nguyentranbao-ct/chat-sync/internal/usecase"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "chat-sync",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		app.Invoke(
			server.StartServer,
			usecase.StartSync,
		).Run()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
