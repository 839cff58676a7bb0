/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ssargent/skadidb/pkg/api"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		Long: `Open the store and serve the SkadiDB REST API until interrupted.

Examples:
  skadi serve --api-key=mysecretkey --port=8080
  skadi serve --config ./skadi.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, cfg, err := openStore(cmd, false)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := s.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Port, _ = flags.GetInt("port")
			}
			if flags.Changed("bind") {
				cfg.Bind, _ = flags.GetString("bind")
			}
			if flags.Changed("api-key") {
				cfg.Security.ClientAPIKey, _ = flags.GetString("api-key")
			}
			apiKey := cfg.Security.ClientAPIKey
			if apiKey == "auto" {
				apiKey = ""
				cmd.PrintErrln("Warning: no API key configured; the API is unauthenticated")
			}

			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cmd.Printf("Metrics available at: http://%s:%d/metrics\n", cfg.Bind, cfg.Port)
			return api.StartServer(ctx, s, api.ServerConfig{
				Bind:   cfg.Bind,
				Port:   cfg.Port,
				APIKey: apiKey,
				Logger: logger,
			})
		},
	}
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("bind", "127.0.0.1", "Address to bind")
	serveCmd.Flags().String("api-key", "", "API key for client authentication")
	return serveCmd
}
