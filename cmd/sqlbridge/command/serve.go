package command

import (
	"context"
	"crypto/tls"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ha1tch/sqlbridge/pkg/bridge"
	"github.com/ha1tch/sqlbridge/pkg/settings"
	"github.com/ha1tch/sqlbridge/pkg/tlsutil"
	transport "github.com/ha1tch/sqlbridge/pkg/transport/http"
	"github.com/ha1tch/sqlbridge/pkg/version"
)

func newServeCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the bridge over HTTP until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.serve(cmd.Context())
		},
	}
}

func (a *App) serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := a.logger
	b := bridge.New(bridge.Options{
		Opener:        a.open,
		Logger:        logger,
		BulkBatchSize: a.settings.BulkBatchSize,
	})
	defer b.CloseAll()

	if a.loader.ConfigFile() != "" {
		w, err := settings.NewWatcher(a.loader, logger,
			settings.WithOnReload(func(s *settings.Settings) {
				s.Apply(logger)
				logger.System().Info("settings reloaded", "level", s.LogLevel, "debug", s.Debug)
			}),
			settings.WithOnError(func(err error) {
				logger.System().Error("settings reload failed", err)
			}),
		)
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return err
		}
		defer w.Stop()
	}

	tlsConfig, err := a.tlsConfig()
	if err != nil {
		return err
	}
	srv := transport.NewServer(transport.Config{
		Address:      a.settings.Listen,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
		TLS:          tlsConfig,
	}, b, logger)
	if err := srv.Listen(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "sqlbridge %s listening on %s\n", version.Version, srv.Addr())

	<-ctx.Done()
	logger.System().Info("shutting down")

	if err := srv.Close(); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "sqlbridge stopped")
	return nil
}

func (a *App) tlsConfig() (*tls.Config, error) {
	switch {
	case a.settings.TLSCertFile != "":
		return tlsutil.Load(a.settings.TLSCertFile, a.settings.TLSKeyFile)
	case a.settings.TLSSelfSigned:
		return tlsutil.SelfSigned()
	}
	return nil, nil
}
