package logging

import "log/slog"

// DispatcherLogger adapts slog.Logger to the dispatcher.Logger interface and
// tags every record with the session it belongs to.
type DispatcherLogger struct {
	logger *slog.Logger
}

// NewDispatcherLogger creates a new DispatcherLogger wrapping a slog.Logger.
func NewDispatcherLogger(logger *slog.Logger) *DispatcherLogger {
	return &DispatcherLogger{logger: logger}
}

// ForSession returns a logger whose records carry the session id.
func (l *DispatcherLogger) ForSession(id string) *DispatcherLogger {
	return &DispatcherLogger{logger: l.logger.With("session", id)}
}

// Debug logs a debug message with optional key-value pairs.
func (l *DispatcherLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, toAttrs(keysAndValues)...)
}

// Info logs an info message with optional key-value pairs.
func (l *DispatcherLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, toAttrs(keysAndValues)...)
}

// Error logs an error message with optional key-value pairs.
func (l *DispatcherLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error(msg, toAttrs(keysAndValues)...)
}

// toAttrs keeps well-formed string keyed pairs and drops the rest, so a
// stray value never turns into a !BADKEY attribute.
func toAttrs(keysAndValues []any) []any {
	attrs := make([]any, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			attrs = append(attrs, slog.Any(key, keysAndValues[i+1]))
		}
	}
	return attrs
}
