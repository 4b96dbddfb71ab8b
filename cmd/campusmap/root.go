package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/uttop/campusmap/internal/campus"
	"github.com/uttop/campusmap/internal/config"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "campusmap",
	Short: "campus map server with live position tracking",
	Long: `
campusmap serves the campus web map. Every browser connection gets its own
locator session that reconciles GPS fixes, manual placement and marker drags
into one position shown on both the 2D and the 3D map.
`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Version is the build version reported in logs and telemetry.
var Version = "dev"

func Execute(version string) {
	Version = version
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory containing "+config.FileName)
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("logLevel", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(serveCmd, locationsCmd, routeCmd)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if err := config.Load(configDir); err != nil {
		slog.Warn("Failed to load config, using defaults!", "error", err)
	}
	return nil
}

// loadCatalog returns the configured campus catalog, or the built-in one.
func loadCatalog() (*campus.Catalog, error) {
	cfg, err := config.GetCampusConfig()
	if err != nil {
		return nil, err
	}
	if cfg.CatalogFile == "" {
		return campus.Default(), nil
	}
	return campus.Load(cfg.CatalogFile)
}
