package cmd

import (
	"github.com/spf13/cobra"

	"github.com/qq148376839/video-parser-service/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vparse HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		addr, _ := cmd.Flags().GetString("listen")
		if addr == "" {
			addr = app.cfg.ServerAddr
		}

		srv := server.New(app.svc, app.cache, app.creds, app.artifacts, app.param,
			app.cfg.ServerUsername, app.cfg.ServerPassword)
		return srv.Start(addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "HTTP listen address (overrides server.addr)")
}
