package segment

import "time"

// options holds the configuration shared by streams, readers and the
// executor.
type options struct {
	logger Logger

	maxSegments     int // maximum declared segment count accepted by the reader
	maxMessageBytes int // maximum total framed message size accepted by the reader
	bufferSize      int // capacity of a stream's per-direction operation queues

	// idleTimeout bounds how long a single transport read or write may sit
	// idle before the connection's deadline fires. Zero disables deadlines:
	// a stalled peer suspends the affected promise indefinitely, and callers
	// needing bounded waits compose their own timeout around it.
	idleTimeout time.Duration
}

// Default configuration values.
const (
	// defaultMaxSegments caps the declared segment count of an incoming
	// message.
	defaultMaxSegments = 512
	// defaultMaxMessageBytes caps the total framed size of an incoming
	// message, header included (1MB).
	defaultMaxMessageBytes = 1024 * 1024
	// defaultBufferSize is the default capacity of a stream's operation
	// queues.
	defaultBufferSize = 1
)

// checkOptions fills in defaults for unset values.
func checkOptions(opts *options) {
	if opts.maxSegments <= 0 {
		opts.maxSegments = defaultMaxSegments
	}

	if opts.maxMessageBytes <= 0 {
		opts.maxMessageBytes = defaultMaxMessageBytes
	}

	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// Option is a function that configures options.
type Option func(*options)

// MaxSegmentsOption returns an Option that caps the segment count a reader
// accepts from an incoming header. Messages declaring more segments fail
// with ErrMalformedHeader.
func MaxSegmentsOption(count int) Option {
	return func(o *options) {
		o.maxSegments = count
	}
}

// MessageMaxSize returns an Option that caps the total framed size of an
// incoming message, header included. Messages declaring more fail with
// ErrMessageTooLarge before any segment buffer is allocated.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxMessageBytes = size
	}
}

// BufferSizeOption returns an Option that sets the capacity of a stream's
// per-direction operation queues. The framing layer itself keeps at most one
// read and one write in flight, so the default of 1 suffices for it.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// IdleTimeoutOption returns an Option that sets the idle deadline applied to
// each transport read and write on a NetStream. Zero, the default, disables
// deadlines.
func IdleTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = timeout
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
