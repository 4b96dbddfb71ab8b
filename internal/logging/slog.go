package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentation scope reported to the OTel log pipeline
const scopeName = "campusmap"

// swapped by tests
var (
	osStdout io.Writer = os.Stdout
	osPipe             = os.Pipe
)

// Options selects the outputs of the application logger.
type Options struct {
	// File receives text logs. When nil, logs go to stdout instead.
	File  io.Writer
	Level string
	// Provider enables the OTel bridge when non-nil.
	Provider *sdklog.LoggerProvider
	// Graylog receives one JSON document per record, typically a GELF writer.
	Graylog io.Writer
	// Context adds dynamic attributes to every record.
	Context ContextProvider
}

// SlogManager owns the application slog.Logger and the OTel log provider
// it feeds.
type SlogManager struct {
	logger      *slog.Logger
	logProvider *sdklog.LoggerProvider
}

// NewSlogManager returns a manager whose Logger is slog.Default until Setup.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel maps a configured level name to slog. Unknown names mean info.
func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// utcTime renders record times as RFC3339 in UTC.
func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
	}
	return a
}

// Setup builds the application logger from opts. Calling it again replaces
// every output; records already written stay where they went.
func (m *SlogManager) Setup(opts Options) {
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(opts.Level), ReplaceAttr: utcTime}

	text := opts.File
	if text == nil {
		text = osStdout
	}
	handlers := []slog.Handler{slog.NewTextHandler(text, handlerOpts)}
	if opts.Graylog != nil {
		handlers = append(handlers, slog.NewJSONHandler(opts.Graylog, handlerOpts))
	}
	if opts.Provider != nil {
		handlers = append(handlers, otelslog.NewHandler(scopeName, otelslog.WithLoggerProvider(opts.Provider)))
	}

	m.logProvider = opts.Provider
	m.logger = slog.New(WithContext(Fanout(handlers...), opts.Context))
	m.logger.Info("Logging initialized", "level", opts.Level)
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces pending OTel records out.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider == nil {
		return nil
	}
	return m.logProvider.ForceFlush(ctx)
}
