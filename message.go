package segment

import "github.com/pkg/errors"

// Size accounting units. Every segment is a whole number of 8-byte words;
// the per-segment ceiling bounds what a single declared size can make the
// reader allocate.
const (
	wordSize        = 8
	maxSegmentWords = 1<<29 - 1
)

// Outgoing is the interface for values the writer can frame onto a stream.
// The writer borrows the segment buffers for the duration of the write; they
// must remain valid and unmodified until the write's promise resolves.
type Outgoing interface {
	// NumSegments returns the number of segments, which must be at least 1.
	NumSegments() int
	// Segment returns the raw bytes of segment i. The length must be a
	// multiple of the word size.
	Segment(i int) []byte
}

// Message is an ordered sequence of segments. A Message produced by
// ReadMessage owns its segment buffers; nothing else aliases them.
type Message struct {
	segments [][]byte
}

// NewMessage builds a Message from the given segment buffers without copying
// them. It fails if no segments are given or any segment's length is not a
// whole number of words.
func NewMessage(segments ...[]byte) (*Message, error) {
	if len(segments) == 0 {
		return nil, errors.Wrap(ErrMalformedHeader, "message has no segments")
	}
	for i, seg := range segments {
		if len(seg)%wordSize != 0 {
			return nil, errors.Wrapf(ErrMalformedHeader,
				"segment %d length %d is not word aligned", i, len(seg))
		}
	}
	return &Message{segments: segments}, nil
}

// NumSegments returns the number of segments in the message.
func (m *Message) NumSegments() int {
	return len(m.segments)
}

// Segment returns the raw bytes of segment i.
func (m *Message) Segment(i int) []byte {
	return m.segments[i]
}

// SegmentWords returns the length of segment i in words.
func (m *Message) SegmentWords(i int) int {
	return len(m.segments[i]) / wordSize
}

// Root returns the first segment, which by convention holds the root of the
// message's encoded content. Interpreting it is the caller's concern.
func (m *Message) Root() []byte {
	return m.segments[0]
}

// TotalWords returns the summed length of all segments in words, header
// excluded.
func (m *Message) TotalWords() int {
	var total int
	for _, seg := range m.segments {
		total += len(seg) / wordSize
	}
	return total
}
