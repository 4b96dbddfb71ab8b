package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// ZerologLevel converts a config log level to a zerolog.Level.
func ZerologLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "TRACE":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewZerolog builds the logger used by the storage and telemetry layers.
// Console output is colored only on a terminal; the file copy never is.
// Either writer may be nil.
func NewZerolog(console, file io.Writer, level string) zerolog.Logger {
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	var writers []io.Writer
	if console != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: time.RFC3339,
			NoColor:    !isTerminal(console),
		})
	}
	if file != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        file,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	}
	if len(writers) == 0 {
		return zerolog.Nop()
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ZerologLevel(level)).
		With().Timestamp().Logger()
}

// Sampled limits a logger to 5 entries per 10 seconds, then 1 in 100.
func Sampled(l zerolog.Logger) zerolog.Logger {
	return l.With().Bool("sampled", true).Logger().Sample(&zerolog.BurstSampler{
		Burst:       5,
		Period:      10 * time.Second,
		NextSampler: &zerolog.BasicSampler{N: 100},
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
