package segment

import "log/slog"

// Logger is the leveled key-value logging facade used by streams and the
// executor. *slog.Logger satisfies it as-is; anything else can be plugged
// in through LoggerOption. The framing state machines themselves never log:
// their outcomes travel through promises.
type Logger interface {
	// Debug logs fine-grained lifecycle events, such as individual stream
	// operations failing.
	Debug(msg string, args ...any)
	// Info logs coarse lifecycle events, such as a stream stopping.
	Info(msg string, args ...any)
	// Warn logs conditions worth attention that do not fail an operation.
	Warn(msg string, args ...any)
	// Error logs failures that terminate a component.
	Error(msg string, args ...any)
}

// defaultLogger is used when no LoggerOption is given.
func defaultLogger() Logger {
	return slog.Default()
}
