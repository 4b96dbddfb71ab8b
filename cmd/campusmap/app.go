package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/uttop/campusmap/internal/config"
	"github.com/uttop/campusmap/internal/logging"
	intOtel "github.com/uttop/campusmap/internal/otel"
	"github.com/uttop/campusmap/internal/server"
)

const logName = "campusmap"

// app holds the process-wide logging and telemetry outputs.
type app struct {
	start   time.Time
	slogs   *logging.SlogManager
	logger  *slog.Logger
	zlog    zerolog.Logger
	logFile *os.File
	graylog *gelf.Writer
	otel    *intOtel.Provider

	// set once the server exists, read by every log record
	srv atomic.Pointer[server.Server]
}

// newApp sets up logging in two steps: stdout first, so that failures while
// opening the other outputs are visible, then the full set of outputs.
func newApp(ctx context.Context) *app {
	a := &app{start: time.Now(), slogs: logging.NewSlogManager()}
	level := viper.GetString("logLevel")

	a.slogs.Setup(logging.Options{Level: level})
	a.logger = a.slogs.Logger()

	f, err := logging.OpenLogFile(viper.GetString("logsDir"), logName, a.start)
	if err != nil {
		a.logger.Warn("Failed to open log file, logging to stdout only", "error", err)
	} else {
		a.logFile = f
	}

	a.otel = a.setupOTel(ctx)

	glCfg, err := config.GetGraylogConfig()
	if err != nil {
		a.logger.Warn("Invalid graylog config", "error", err)
	} else if glCfg.Enabled {
		w, err := logging.NewGraylogWriter(glCfg.Address, logName)
		if err != nil {
			a.logger.Error("Failed to connect to Graylog", "error", err)
		} else {
			a.graylog = w
		}
	}

	opts := logging.Options{
		Level:    level,
		Provider: a.otel.LoggerProvider(),
		Context:  a.logContext,
	}
	if a.logFile != nil {
		opts.File = io.MultiWriter(os.Stdout, a.logFile)
	}
	if a.graylog != nil {
		opts.Graylog = a.graylog
	}
	a.slogs.Setup(opts)
	a.logger = a.slogs.Logger()
	slog.SetDefault(a.logger)

	if a.logFile != nil {
		a.zlog = logging.NewZerolog(os.Stderr, a.logFile, level)
	} else {
		a.zlog = logging.NewZerolog(os.Stderr, nil, level)
	}
	return a
}

func (a *app) setupOTel(ctx context.Context) *intOtel.Provider {
	cfg, err := config.GetOTelConfig()
	if err != nil {
		a.logger.Warn("Invalid otel config, OTel disabled", "error", err)
		cfg = config.OTelConfig{}
	}

	otelCfg := intOtel.Config{
		Enabled:      cfg.Enabled,
		ServiceName:  cfg.ServiceName,
		Version:      Version,
		BatchTimeout: cfg.BatchTimeout,
		Endpoint:     cfg.Endpoint,
		Insecure:     cfg.Insecure,
	}
	switch {
	case cfg.LogToStdout:
		otelCfg.LogWriter = os.Stdout
	case a.logFile != nil:
		otelCfg.LogWriter = a.logFile
	}

	p, err := intOtel.New(ctx, otelCfg)
	if err != nil {
		a.logger.Error("Failed to initialize OTel", "error", err)
		p, _ = intOtel.New(ctx, intOtel.Config{})
	}
	return p
}

func (a *app) logContext() []slog.Attr {
	srv := a.srv.Load()
	if srv == nil {
		return nil
	}
	return []slog.Attr{slog.Int("sessions", srv.Sessions())}
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.logger.Info("Shutting down", "uptime", time.Since(a.start).Round(time.Second))
	if err := a.slogs.Flush(ctx); err != nil {
		a.logger.Warn("Failed to flush logs", "error", err)
	}
	if err := a.otel.Shutdown(ctx); err != nil {
		a.logger.Warn("Failed to shut down OTel", "error", err)
	}
	if a.graylog != nil {
		_ = a.graylog.Close()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
