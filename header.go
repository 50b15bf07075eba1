// Package segment frames multi-segment binary messages onto byte-oriented
// transports and recovers them on the receiving side. Reads and writes are
// asynchronous: they return promises driven by a single-threaded cooperative
// Executor, and stay correct under arbitrary fragmentation of the underlying
// stream (partial reads, partial writes, one-byte deliveries).
package segment

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Errors reported by the segment-table codec.
var (
	// ErrMalformedHeader is returned when a segment table is structurally
	// invalid: zero segments, a segment count above the configured maximum,
	// or a segment whose byte length is not a whole number of words.
	ErrMalformedHeader = errors.New("malformed segment table")
	// ErrTooManySegments is returned when an incoming header declares more
	// segments than the configured maximum allows.
	ErrTooManySegments = errors.New("too many segments")
	// ErrMessageTooLarge is returned when a message's declared total size
	// exceeds the configured maximum.
	ErrMessageTooLarge = errors.New("message too large")
)

// Wire format, all little-endian u32 words:
//
//	[0]        segment count - 1
//	[1..n]     per-segment sizes in words
//	[optional] one zero word so the table is a whole number of 8-byte words
//
// Segment payloads follow the table back to back, with no extra padding.

// headerBytes returns the encoded segment table length, padding included,
// for the given segment count.
func headerBytes(segmentCount int) int {
	words := 1 + segmentCount
	if words%2 != 0 {
		words++
	}
	return words * 4
}

// encodeHeader builds the segment table for m in a freshly allocated buffer.
// The trailing padding word, when present, is left zero.
func encodeHeader(m Outgoing) ([]byte, error) {
	count := m.NumSegments()
	if count < 1 {
		return nil, errors.Wrap(ErrMalformedHeader, "message has no segments")
	}

	buf := make([]byte, headerBytes(count))
	binary.LittleEndian.PutUint32(buf, uint32(count-1))

	for i := 0; i < count; i++ {
		seg := m.Segment(i)
		if len(seg)%wordSize != 0 {
			return nil, errors.Wrapf(ErrMalformedHeader,
				"segment %d length %d is not word aligned", i, len(seg))
		}
		words := len(seg) / wordSize
		if words > maxSegmentWords {
			return nil, errors.Wrapf(ErrMessageTooLarge,
				"segment %d is %d words", i, words)
		}
		binary.LittleEndian.PutUint32(buf[4+4*i:], uint32(words))
	}

	return buf, nil
}

// decodeSegmentCount interprets the first header word. The wire carries
// count-1, so a zero word means one segment and zero declared segments is
// unrepresentable; the maximum guards against hostile or corrupt tables
// forcing huge allocations.
func decodeSegmentCount(word []byte, maxSegments int) (int, error) {
	count := uint64(binary.LittleEndian.Uint32(word)) + 1
	if count > uint64(maxSegments) {
		return 0, errors.Wrapf(ErrTooManySegments,
			"declared %d segments, limit is %d", count, maxSegments)
	}
	return int(count), nil
}

// decodeSegmentSizes parses the per-segment word counts from the remainder
// of the table and validates the declared total against maxMessageBytes.
// table holds everything after the first word, padding included.
func decodeSegmentSizes(table []byte, segmentCount, maxMessageBytes int) ([]uint32, error) {
	sizes := make([]uint32, segmentCount)
	total := uint64(headerBytes(segmentCount))

	for i := range sizes {
		words := binary.LittleEndian.Uint32(table[4*i:])
		if words > maxSegmentWords {
			return nil, errors.Wrapf(ErrMalformedHeader,
				"segment %d declares %d words", i, words)
		}
		sizes[i] = words
		total += uint64(words) * wordSize
	}

	if total > uint64(maxMessageBytes) {
		return nil, errors.Wrapf(ErrMessageTooLarge,
			"declared %d bytes, limit is %d", total, maxMessageBytes)
	}

	return sizes, nil
}
