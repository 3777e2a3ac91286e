package pelio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// WriteBuffer is a fixed-capacity outbound buffer over a stream. Bytes in
// [Start, End) are pending transmission; a short write advances Start so the
// next Flush resumes from the first unsent byte. All multi-byte writes are
// big-endian per the PostgreSQL wire protocol.
//
// A WriteBuffer is not safe for concurrent use.
type WriteBuffer struct {
	w io.Writer

	buf    []byte
	start  int // first unsent byte
	end    int // write position
	usable int
}

// FlushError reports a failed or partial flush. SafeToRetry is true only
// when no byte of the pending region reached the stream.
type FlushError struct {
	err         error
	safeToRetry bool
}

func (e *FlushError) Error() string     { return "pelio: flush failed: " + e.err.Error() }
func (e *FlushError) Unwrap() error     { return e.err }
func (e *FlushError) SafeToRetry() bool { return e.safeToRetry }

// NewWriteBuffer wraps w with a buffer of the given size.
func NewWriteBuffer(w io.Writer, size int) *WriteBuffer {
	if size < MinBufferSize {
		size = MinBufferSize
	}
	return &WriteBuffer{
		w:      w,
		buf:    make([]byte, size),
		usable: size,
	}
}

// Size returns the physical capacity of the buffer.
func (b *WriteBuffer) Size() int { return len(b.buf) }

// UsableSize returns the capacity currently available for writing.
func (b *WriteBuffer) UsableSize() int { return b.usable }

// SetUsableSize reduces (or restores) the write limit, clamped to
// [MinBufferSize/2, Size].
func (b *WriteBuffer) SetUsableSize(n int) {
	if n > len(b.buf) {
		n = len(b.buf)
	}
	if n < MinBufferSize/2 {
		n = MinBufferSize / 2
	}
	b.usable = n
}

// Start returns the index of the first unsent byte.
func (b *WriteBuffer) Start() int { return b.start }

// End returns the current write position.
func (b *WriteBuffer) End() int { return b.end }

// SpaceLeft returns the bytes that may be written before a flush is forced.
func (b *WriteBuffer) SpaceLeft() int { return b.usable - b.end }

// Clear discards all pending bytes, including any partially sent region.
func (b *WriteBuffer) Clear() {
	b.start = 0
	b.end = 0
}

// Flush sends [Start, End) to the stream. On a short write Start advances to
// the first unsent byte and a *FlushError is returned; a subsequent Flush
// resumes from there.
func (b *WriteBuffer) Flush() error {
	if b.start == b.end {
		b.start = 0
		b.end = 0
		return nil
	}
	firstAttempt := b.start == 0
	n, err := b.w.Write(b.buf[b.start:b.end])
	b.start += n
	if err != nil {
		return &FlushError{err: err, safeToRetry: firstAttempt && n == 0}
	}
	if b.start < b.end {
		// io.Writer contracts forbid a silent short write; treat it as one.
		return &FlushError{err: io.ErrShortWrite, safeToRetry: false}
	}
	b.start = 0
	b.end = 0
	return nil
}

// ensure makes room for n more bytes, flushing pending bytes when needed.
// n must fit the usable size.
func (b *WriteBuffer) ensure(n int) error {
	if b.usable-b.end >= n {
		return nil
	}
	if n > b.usable {
		return fmt.Errorf("pelio: value of %d bytes exceeds buffer of usable size %d", n, b.usable)
	}
	return b.Flush()
}

// WriteByte appends a single byte.
func (b *WriteBuffer) WriteByte(v byte) error {
	if err := b.ensure(1); err != nil {
		return err
	}
	b.buf[b.end] = v
	b.end++
	return nil
}

// WriteInt16 appends a big-endian int16.
func (b *WriteBuffer) WriteInt16(v int16) error { return b.WriteUint16(uint16(v)) }

// WriteUint16 appends a big-endian uint16.
func (b *WriteBuffer) WriteUint16(v uint16) error {
	if err := b.ensure(2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b.buf[b.end:], v)
	b.end += 2
	return nil
}

// WriteInt32 appends a big-endian int32.
func (b *WriteBuffer) WriteInt32(v int32) error { return b.WriteUint32(uint32(v)) }

// WriteUint32 appends a big-endian uint32.
func (b *WriteBuffer) WriteUint32(v uint32) error {
	if err := b.ensure(4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b.buf[b.end:], v)
	b.end += 4
	return nil
}

// WriteInt64 appends a big-endian int64.
func (b *WriteBuffer) WriteInt64(v int64) error {
	if err := b.ensure(8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b.buf[b.end:], uint64(v))
	b.end += 8
	return nil
}

// WriteFloat32 appends a big-endian IEEE 754 single.
func (b *WriteBuffer) WriteFloat32(v float32) error {
	return b.WriteUint32(math.Float32bits(v))
}

// WriteFloat64 appends a big-endian IEEE 754 double.
func (b *WriteBuffer) WriteFloat64(v float64) error {
	if err := b.ensure(8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b.buf[b.end:], math.Float64bits(v))
	b.end += 8
	return nil
}

// WriteBytes appends raw bytes, flushing as needed so values larger than the
// buffer stream through in chunks.
func (b *WriteBuffer) WriteBytes(p []byte) error {
	for len(p) > 0 {
		if b.end == b.usable {
			if err := b.Flush(); err != nil {
				return err
			}
		}
		n := copy(b.buf[b.end:b.usable], p)
		b.end += n
		p = p[n:]
	}
	return nil
}

// WriteString appends the raw bytes of s without a terminator.
func (b *WriteBuffer) WriteString(s string) error {
	for len(s) > 0 {
		if b.end == b.usable {
			if err := b.Flush(); err != nil {
				return err
			}
		}
		n := copy(b.buf[b.end:b.usable], s)
		b.end += n
		s = s[n:]
	}
	return nil
}

// WriteCString appends s followed by a zero byte.
func (b *WriteBuffer) WriteCString(s string) error {
	if err := b.WriteString(s); err != nil {
		return err
	}
	return b.WriteByte(0)
}
