package segment

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by stream operations.
var (
	// ErrStreamClosed is returned when operating on a closed stream.
	ErrStreamClosed = errors.New("stream closed")
	// ErrBufferFull is returned when a stream's operation queue cannot
	// accept another in-flight operation. The framing layer keeps at most
	// one read and one write in flight per stream, so hitting this means
	// the single-reader, single-writer discipline was violated.
	ErrBufferFull = errors.New("operation queue full")
)

// Stream is the asynchronous byte-stream contract the framing layer runs
// over.
//
// Read follows the partial-read-allowed contract: it resolves with any
// 1..len(p) bytes filled, with 0 to signal clean end-of-stream, or with a
// transport error. Write may accept only a prefix of p and resolves with the
// number of bytes accepted; the caller resumes with the remainder.
//
// At most one read and one write may be in flight at a time, and a buffer
// passed to an in-flight operation must stay valid and unmodified until its
// promise resolves.
type Stream interface {
	Read(p []byte) *Promise[int]
	Write(p []byte) *Promise[int]
	Close() error
}

// streamOp is one queued read or write against the transport.
type streamOp struct {
	buf     []byte
	resolve func(int, error)
}

// NetStream adapts a net.Conn to the Stream contract. One goroutine per
// direction drains an operation queue against the blocking connection;
// operations issued by one task are served strictly in issuance order, and
// their promises resolve on the owning executor.
type NetStream struct {
	conn   net.Conn
	exec   *Executor
	logger Logger

	opts options

	readOps  chan streamOp
	writeOps chan streamOp

	closed atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewNetStream wraps conn and starts the stream's read and write goroutines.
// Promises returned by the stream resolve on exec; readers and writers
// driving this stream must use the same executor.
func NewNetStream(exec *Executor, conn net.Conn, opt ...Option) *NetStream {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	s := &NetStream{
		conn:     conn,
		exec:     exec,
		logger:   opts.logger,
		opts:     opts,
		readOps:  make(chan streamOp, opts.bufferSize),
		writeOps: make(chan streamOp, opts.bufferSize),
		done:     make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	group, child := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.readLoop(child)
	})
	group.Go(func() error {
		return s.writeLoop(child)
	})

	go func() {
		err := group.Wait()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Info("stream stopped with error", "addr", s.Addr(), "error", err)
		} else {
			s.logger.Debug("stream stopped", "addr", s.Addr())
		}
		s.drainPending()
		close(s.done)
	}()

	s.logger.Debug("stream started", "addr", s.Addr(),
		"buffer_size", opts.bufferSize,
		"idle_timeout", opts.idleTimeout)

	return s
}

// Read asks the transport for up to len(p) bytes. The promise resolves with
// the count filled, which may be less than requested, or 0 at clean
// end-of-stream. Reading an empty buffer resolves immediately.
func (s *NetStream) Read(p []byte) *Promise[int] {
	pr, resolve := newPromise[int](s.exec)

	if s.closed.Load() {
		resolve(0, ErrStreamClosed)
		return pr
	}
	if len(p) == 0 {
		resolve(0, nil)
		return pr
	}

	select {
	case s.readOps <- streamOp{buf: p, resolve: resolve}:
	default:
		resolve(0, ErrBufferFull)
	}
	return pr
}

// Write offers p to the transport. The promise resolves with the number of
// bytes the transport accepted, which may be less than len(p).
func (s *NetStream) Write(p []byte) *Promise[int] {
	pr, resolve := newPromise[int](s.exec)

	if s.closed.Load() {
		resolve(0, ErrStreamClosed)
		return pr
	}
	if len(p) == 0 {
		resolve(0, nil)
		return pr
	}

	select {
	case s.writeOps <- streamOp{buf: p, resolve: resolve}:
	default:
		resolve(0, ErrBufferFull)
	}
	return pr
}

// Close shuts the stream down and closes the underlying connection. Pending
// operations resolve with an error. Close must not race the issuance of new
// operations; with a single reader and single writer per stream it never
// does. Safe to call multiple times.
func (s *NetStream) Close() error {
	if s.closed.Swap(true) {
		return nil // already closed
	}
	s.cancel()
	err := s.conn.Close()
	<-s.done
	return err
}

// Addr returns the remote address of the underlying connection.
func (s *NetStream) Addr() net.Addr {
	return s.conn.RemoteAddr()
}

// readLoop serves queued read operations against the blocking connection.
// After the first transport error every later read resolves with that same
// error; a clean end-of-stream keeps the loop serving so that each new read
// observes end-of-stream again.
func (s *NetStream) readLoop(ctx context.Context) error {
	var sticky error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op := <-s.readOps:
			if sticky != nil {
				op.resolve(0, sticky)
				continue
			}

			if s.opts.idleTimeout > 0 {
				_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.idleTimeout * 2))
			}

			n, err := s.conn.Read(op.buf)
			switch {
			case n > 0:
				// Bytes beat errors; the failure resurfaces on the
				// next read.
				op.resolve(n, nil)
			case err == nil:
				op.resolve(0, errors.New("stream read: transport returned no bytes"))
			case errors.Is(err, io.EOF):
				op.resolve(0, nil)
			default:
				sticky = errors.Wrap(err, "stream read")
				s.logger.Debug("read error", "addr", s.Addr(), "error", err)
				op.resolve(0, sticky)
			}
		}
	}
}

// writeLoop serves queued write operations. A partial write followed by an
// error resolves the current operation with the accepted count; the error
// sticks and fails the next operation.
func (s *NetStream) writeLoop(ctx context.Context) error {
	var sticky error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op := <-s.writeOps:
			if sticky != nil {
				op.resolve(0, sticky)
				continue
			}

			if s.opts.idleTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.idleTimeout * 2))
			}

			n, err := s.conn.Write(op.buf)
			if err != nil {
				sticky = errors.Wrap(err, "stream write")
				s.logger.Debug("write error", "addr", s.Addr(), "error", err)
				if n > 0 {
					op.resolve(n, nil)
				} else {
					op.resolve(0, sticky)
				}
				continue
			}
			op.resolve(n, nil)
		}
	}
}

// drainPending fails operations still queued when the loops exit.
func (s *NetStream) drainPending() {
	for {
		select {
		case op := <-s.readOps:
			op.resolve(0, ErrStreamClosed)
		case op := <-s.writeOps:
			op.resolve(0, ErrStreamClosed)
		default:
			return
		}
	}
}
