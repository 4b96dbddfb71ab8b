package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/uttop/campusmap/internal/config"
	"github.com/uttop/campusmap/internal/influx"
	"github.com/uttop/campusmap/internal/logging"
	"github.com/uttop/campusmap/internal/routing"
	"github.com/uttop/campusmap/internal/server"
	"github.com/uttop/campusmap/internal/storage/factory"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address, e.g. :8000")
	serveCmd.Flags().String("static", "", "directory of the web client")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.staticDir", serveCmd.Flags().Lookup("static"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(ctx)
	defer a.close()
	logger := a.logger

	serverCfg, err := config.GetServerConfig()
	if err != nil {
		return err
	}
	trackingCfg, err := config.GetTrackingConfig()
	if err != nil {
		return err
	}
	storageCfg, err := config.GetStorageConfig()
	if err != nil {
		return err
	}
	routingCfg, err := config.GetRoutingConfig()
	if err != nil {
		return err
	}

	backend, err := factory.NewBackend(storageCfg, a.zlog)
	if err != nil {
		return err
	}
	if err := backend.Init(ctx); err != nil {
		return fmt.Errorf("initializing %s storage: %w", storageCfg.Type, err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("Failed to close storage", "error", err)
		}
	}()

	catalog, err := loadCatalog()
	if err != nil {
		return err
	}

	opts := server.Options{
		Server:           serverCfg,
		Tracking:         trackingCfg,
		ShareURL:         routingCfg.ShareURL,
		Storage:          backend,
		Catalog:          catalog,
		Routes:           routing.New(routingCfg),
		Logger:           logger,
		DispatcherLogger: logging.NewDispatcherLogger(logger),
	}
	if tel := a.connectInflux(ctx); tel != nil {
		defer func() {
			if err := tel.Close(); err != nil {
				logger.Error("Failed to close position telemetry", "error", err)
			}
		}()
		opts.Telemetry = tel
	}

	srv, err := server.New(opts)
	if err != nil {
		return err
	}
	a.srv.Store(srv)

	logger.Info("Starting campusmap",
		"version", Version,
		"storage", storageCfg.Type,
		"locations", catalog.Len(),
		"routing", routingCfg.BaseURL,
	)
	return srv.Run(ctx)
}

// connectInflux returns the position telemetry writer, or nil when it is
// disabled or unusable.
func (a *app) connectInflux(ctx context.Context) *influx.Manager {
	cfg, err := config.GetInfluxConfig()
	if err != nil {
		a.logger.Warn("Invalid influx config, position telemetry disabled", "error", err)
		return nil
	}
	if !cfg.Enabled {
		return nil
	}

	backup := filepath.Join(viper.GetString("logsDir"), "positions.lp.gz")
	m := influx.NewManager(cfg, a.zlog, backup)
	if err := m.Connect(ctx); err != nil {
		a.logger.Error("Failed to set up position telemetry", "error", err)
		_ = m.Close()
		return nil
	}
	return m
}
