package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jamsession/looper/internal/server"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the command API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		addr := a.cfg.Listen
		if cmd.Flags().Changed("listen") {
			addr = serveListen
		}
		a.logger.Info("config", "store", a.cfg.Store, "resolver", a.cfg.Resolver.Kind,
			"generator", a.cfg.Generator.Kind, "max_chain", a.cfg.MaxChain)
		return server.New(a.svc, a.logger).ListenAndServe(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
