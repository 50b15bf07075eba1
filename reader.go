package segment

import (
	"io"

	"github.com/pkg/errors"
)

// ErrTruncatedStream is returned when the stream ends after part of a
// message has already been consumed: mid-header or mid-segment.
var ErrTruncatedStream = errors.New("stream truncated mid-message")

// ReadMessage reads one framed message from the stream. The promise resolves
// with the decoded Message, with io.EOF if the stream ends cleanly before
// the first byte of a message, or with an error.
//
// The read advances incrementally: every stream read is a suspension point,
// and the machine is correct under arbitrary fragmentation, down to one-byte
// deliveries. All segment buffers are allocated once the segment table has
// been validated, before any payload byte is consumed; a successful Message
// owns them. exec must be the stream's own executor.
func ReadMessage(exec *Executor, s Stream, opt ...Option) *Promise[*Message] {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	promise, resolve := newPromise[*Message](exec)
	r := &messageReader{
		stream:    s,
		opts:      opts,
		resolve:   resolve,
		abandoned: promise.canceled,
	}
	exec.Defer(r.start)
	return promise
}

// messageReader is the incremental state of one ReadMessage call. It
// advances through the first header word, the rest of the segment table, and
// each segment in declared order, suspending on every stream read.
type messageReader struct {
	stream    Stream
	opts      options
	resolve   func(*Message, error)
	abandoned func() bool // caller canceled the promise

	consumed int // bytes of this message consumed so far
	segments [][]byte
}

func (r *messageReader) start() {
	first := make([]byte, 4)
	r.fill(first, func(err error) {
		if err != nil {
			r.resolve(nil, err)
			return
		}

		count, err := decodeSegmentCount(first, r.opts.maxSegments)
		if err != nil {
			r.resolve(nil, err)
			return
		}
		r.readTable(count)
	})
}

// readTable reads the remaining segment table, padding word included, then
// allocates every segment buffer up front.
func (r *messageReader) readTable(count int) {
	table := make([]byte, headerBytes(count)-4)
	r.fill(table, func(err error) {
		if err != nil {
			r.resolve(nil, err)
			return
		}

		sizes, err := decodeSegmentSizes(table, count, r.opts.maxMessageBytes)
		if err != nil {
			r.resolve(nil, err)
			return
		}

		r.segments = make([][]byte, count)
		for i, words := range sizes {
			r.segments[i] = make([]byte, int(words)*wordSize)
		}
		r.readSegment(0)
	})
}

// readSegment fills segment i, then the next; zero-length segments need no
// stream read at all.
func (r *messageReader) readSegment(i int) {
	if i == len(r.segments) {
		r.resolve(&Message{segments: r.segments}, nil)
		return
	}
	r.fill(r.segments[i], func(err error) {
		if err != nil {
			r.resolve(nil, err)
			return
		}
		r.readSegment(i + 1)
	})
}

// fill accumulates stream reads until buf is full, then calls done. An
// end-of-stream before the first byte of the message surfaces as io.EOF;
// once anything has been consumed it is ErrTruncatedStream instead. The
// chain recurses through promise continuations, so depth stays constant no
// matter how finely the transport fragments.
func (r *messageReader) fill(buf []byte, done func(error)) {
	r.fillFrom(buf, 0, done)
}

func (r *messageReader) fillFrom(buf []byte, off int, done func(error)) {
	// A canceled read stops here, before the next stream operation; the
	// read already in flight at cancellation may still consume its bytes.
	if r.abandoned() {
		return
	}
	if off == len(buf) {
		done(nil)
		return
	}
	r.stream.Read(buf[off:]).then(func(n int, err error) {
		switch {
		case err != nil:
			done(err)
		case n == 0 && r.consumed == 0:
			done(io.EOF)
		case n == 0:
			done(errors.Wrapf(ErrTruncatedStream,
				"stream ended after %d bytes", r.consumed))
		default:
			r.consumed += n
			r.fillFrom(buf, off+n, done)
		}
	})
}
