package segment

import "github.com/pkg/errors"

// WriteMessage frames m onto the stream: segment table first, then each
// segment's bytes in order. Only the header is materialized into a private
// buffer; segment bytes are referenced directly, so m's buffers must stay
// valid and unmodified until the promise resolves. The promise resolves once
// the stream has accepted every byte.
//
// The stream may accept any write only partially; the writer resumes with
// the unconsumed remainder. A write failure aborts immediately, and bytes
// already flushed are not retracted: the transport's framing state is broken
// and recovery, typically abandoning the connection, is the caller's
// responsibility. exec must be the stream's own executor.
func WriteMessage(exec *Executor, s Stream, m Outgoing) *Promise[struct{}] {
	promise, resolve := newPromise[struct{}](exec)

	header, err := encodeHeader(m)
	if err != nil {
		resolve(struct{}{}, err)
		return promise
	}

	w := &messageWriter{
		stream:    s,
		message:   m,
		resolve:   resolve,
		abandoned: promise.canceled,
	}
	exec.Defer(func() { w.writeBuffer(header, func() { w.writeSegment(0) }) })
	return promise
}

// messageWriter is the incremental state of one WriteMessage call. It holds
// no message data of its own beyond the borrowed segment references and is
// dead once the promise resolves.
type messageWriter struct {
	stream    Stream
	message   Outgoing
	resolve   func(struct{}, error)
	abandoned func() bool // caller canceled the promise
}

func (w *messageWriter) writeSegment(i int) {
	if i == w.message.NumSegments() {
		w.resolve(struct{}{}, nil)
		return
	}
	w.writeBuffer(w.message.Segment(i), func() { w.writeSegment(i + 1) })
}

// writeBuffer offers buf to the stream until every byte is accepted, then
// calls next. Each write is a suspension point. A canceled write stops
// before the next stream operation; bytes already flushed stay flushed.
func (w *messageWriter) writeBuffer(buf []byte, next func()) {
	if w.abandoned() {
		return
	}
	if len(buf) == 0 {
		next()
		return
	}
	w.stream.Write(buf).then(func(n int, err error) {
		switch {
		case err != nil:
			w.resolve(struct{}{}, err)
		case n <= 0:
			w.resolve(struct{}{}, errors.New("stream write accepted no bytes"))
		default:
			w.writeBuffer(buf[n:], next)
		}
	})
}
