package pelio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

const (
	// DefaultBufferSize is the size used when a buffer is created without an
	// explicit size.
	DefaultBufferSize = 8192

	// MinBufferSize is the smallest buffer that can hold any fixed-size wire
	// value plus a message header.
	MinBufferSize = 4096
)

// ReadBuffer is a fixed-capacity inbound buffer over a stream. Bytes in
// [0, ReadPosition) have been consumed; bytes in [ReadPosition, FilledBytes)
// are available to decode. All multi-byte reads are big-endian per the
// PostgreSQL wire protocol.
//
// A ReadBuffer is not safe for concurrent use.
type ReadBuffer struct {
	r io.Reader

	buf    []byte
	rp     int // read position
	fb     int // filled bytes
	usable int // fill limit; shrunk during bulk copy to reserve header room

	enc encoding.Encoding // nil means UTF-8 pass-through
}

// NewReadBuffer wraps r with a buffer of the given size. enc is the client
// text encoding; nil selects UTF-8.
func NewReadBuffer(r io.Reader, size int, enc encoding.Encoding) *ReadBuffer {
	if size < MinBufferSize {
		size = MinBufferSize
	}
	return &ReadBuffer{
		r:      r,
		buf:    make([]byte, size),
		usable: size,
		enc:    enc,
	}
}

// NewReadBufferBytes returns a ReadBuffer view over p without copying. It
// decodes only what p holds; running past the end yields
// io.ErrUnexpectedEOF.
func NewReadBufferBytes(p []byte) *ReadBuffer {
	return &ReadBuffer{
		r:      eofReader{},
		buf:    p,
		fb:     len(p),
		usable: len(p),
	}
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// Size returns the physical capacity of the buffer.
func (b *ReadBuffer) Size() int { return len(b.buf) }

// UsableSize returns the capacity currently available for filling. It is at
// most Size and may be reduced with SetUsableSize during copy operations.
func (b *ReadBuffer) UsableSize() int { return b.usable }

// SetUsableSize reduces (or restores) the fill limit. n is clamped to
// [MinBufferSize/2, Size].
func (b *ReadBuffer) SetUsableSize(n int) {
	if n > len(b.buf) {
		n = len(b.buf)
	}
	if n < MinBufferSize/2 {
		n = MinBufferSize / 2
	}
	b.usable = n
}

// ReadPosition returns the index of the next unread byte.
func (b *ReadBuffer) ReadPosition() int { return b.rp }

// FilledBytes returns the high-water mark of bytes read from the stream.
func (b *ReadBuffer) FilledBytes() int { return b.fb }

// BytesLeft returns the number of buffered bytes not yet consumed.
func (b *ReadBuffer) BytesLeft() int { return b.fb - b.rp }

// Ensure guarantees at least n contiguous unread bytes are buffered, filling
// from the stream as needed. n must not exceed UsableSize; use Spill for
// oversized values. A stream that closes before n bytes arrive yields
// io.ErrUnexpectedEOF.
func (b *ReadBuffer) Ensure(n int) error {
	if n <= b.fb-b.rp {
		return nil
	}
	if n > b.usable {
		return fmt.Errorf("pelio: cannot ensure %d bytes in buffer of usable size %d", n, b.usable)
	}

	// Not enough room past the read position: slide the unread region down.
	if b.rp+n > b.usable {
		b.compact()
	}

	for b.fb-b.rp < n {
		nr, err := b.r.Read(b.buf[b.fb:b.usable])
		b.fb += nr
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

func (b *ReadBuffer) compact() {
	if b.rp == 0 {
		return
	}
	copy(b.buf, b.buf[b.rp:b.fb])
	b.fb -= b.rp
	b.rp = 0
}

// Spill returns a buffer guaranteed to hold n contiguous unread bytes. When n
// fits the fixed buffer, the receiver itself is returned after Ensure.
// Otherwise a temporary buffer sized for n takes over the receiver's unread
// bytes, the receiver is left empty, and the temporary should be discarded
// once decoded.
func (b *ReadBuffer) Spill(n int) (*ReadBuffer, error) {
	if n <= b.usable {
		if err := b.Ensure(n); err != nil {
			return nil, err
		}
		return b, nil
	}

	tmp := &ReadBuffer{
		r:      b.r,
		buf:    make([]byte, n),
		usable: n,
		enc:    b.enc,
	}
	tmp.fb = copy(tmp.buf, b.buf[b.rp:b.fb])
	b.rp = 0
	b.fb = 0
	if err := tmp.Ensure(n); err != nil {
		return nil, err
	}
	return tmp, nil
}

// Skip discards the next n bytes, reading from the stream as needed.
func (b *ReadBuffer) Skip(n int) error {
	for n > 0 {
		if b.fb == b.rp {
			b.rp = 0
			b.fb = 0
			nr, err := b.r.Read(b.buf[:b.usable])
			b.fb = nr
			if err != nil {
				if err == io.EOF {
					err = io.ErrUnexpectedEOF
				}
				return err
			}
		}
		c := b.fb - b.rp
		if c > n {
			c = n
		}
		b.rp += c
		n -= c
	}
	return nil
}

// ReadByte returns the next byte.
func (b *ReadBuffer) ReadByte() (byte, error) {
	if err := b.Ensure(1); err != nil {
		return 0, err
	}
	v := b.buf[b.rp]
	b.rp++
	return v, nil
}

// ReadInt16 reads a big-endian int16.
func (b *ReadBuffer) ReadInt16() (int16, error) {
	v, err := b.ReadUint16()
	return int16(v), err
}

// ReadUint16 reads a big-endian uint16.
func (b *ReadBuffer) ReadUint16() (uint16, error) {
	if err := b.Ensure(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(b.buf[b.rp:])
	b.rp += 2
	return v, nil
}

// ReadInt32 reads a big-endian int32.
func (b *ReadBuffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

// ReadUint32 reads a big-endian uint32.
func (b *ReadBuffer) ReadUint32() (uint32, error) {
	if err := b.Ensure(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(b.buf[b.rp:])
	b.rp += 4
	return v, nil
}

// ReadInt64 reads a big-endian int64.
func (b *ReadBuffer) ReadInt64() (int64, error) {
	if err := b.Ensure(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(b.buf[b.rp:])
	b.rp += 8
	return int64(v), nil
}

// ReadFloat32 reads a big-endian IEEE 754 single.
func (b *ReadBuffer) ReadFloat32() (float32, error) {
	v, err := b.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadFloat64 reads a big-endian IEEE 754 double.
func (b *ReadBuffer) ReadFloat64() (float64, error) {
	if err := b.Ensure(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(b.buf[b.rp:])
	b.rp += 8
	return math.Float64frombits(v), nil
}

// Next returns a view of the next n bytes without copying. The view is valid
// only until the next fill of the buffer, so callers must finish with it
// before any further Ensure, Skip, or Read past the ensured region. n must
// already be ensured or fit the usable size.
func (b *ReadBuffer) Next(n int) ([]byte, error) {
	if err := b.Ensure(n); err != nil {
		return nil, err
	}
	v := b.buf[b.rp : b.rp+n]
	b.rp += n
	return v, nil
}

// ReadBytes copies the next len(dst) bytes into dst, looping through the
// stream beyond buffer capacity.
func (b *ReadBuffer) ReadBytes(dst []byte) error {
	for len(dst) > 0 {
		if b.fb == b.rp {
			// Large remainders bypass the buffer entirely.
			if len(dst) >= b.usable {
				_, err := io.ReadFull(b.r, dst)
				if err == io.EOF {
					err = io.ErrUnexpectedEOF
				}
				return err
			}
			if err := b.Ensure(1); err != nil {
				return err
			}
		}
		n := copy(dst, b.buf[b.rp:b.fb])
		b.rp += n
		dst = dst[n:]
	}
	return nil
}

// ReadBytesOnce copies buffered bytes into dst, or performs at most one
// underlying read when nothing is buffered. It returns the number of bytes
// copied, which may be less than len(dst). Bulk-copy consumers use it to
// stream without waiting for a full buffer.
func (b *ReadBuffer) ReadBytesOnce(dst []byte) (int, error) {
	if b.fb == b.rp {
		if len(dst) >= b.usable {
			n, err := b.r.Read(dst)
			if err == io.EOF && n > 0 {
				err = nil
			}
			return n, err
		}
		b.rp = 0
		b.fb = 0
		n, err := b.r.Read(b.buf[:b.usable])
		b.fb = n
		if err != nil && n == 0 {
			return 0, err
		}
	}
	n := copy(dst, b.buf[b.rp:b.fb])
	b.rp += n
	return n, nil
}

// ReadString reads n bytes and decodes them with the configured client
// encoding. n must fit the usable size; longer values go through ReadText.
func (b *ReadBuffer) ReadString(n int) (string, error) {
	src, err := b.Next(n)
	if err != nil {
		return "", err
	}
	if b.enc == nil {
		return string(src), nil
	}
	out, err := b.enc.NewDecoder().Bytes(src)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ReadCString reads up to and past the next zero byte, decoding the bytes
// before it. The terminator must arrive within the usable buffer size.
func (b *ReadBuffer) ReadCString() (string, error) {
	for {
		if i := bytes.IndexByte(b.buf[b.rp:b.fb], 0); i >= 0 {
			s := b.buf[b.rp : b.rp+i]
			var out string
			if b.enc == nil {
				out = string(s)
			} else {
				dec, err := b.enc.NewDecoder().Bytes(s)
				if err != nil {
					return "", err
				}
				out = string(dec)
			}
			b.rp += i + 1
			return out, nil
		}
		if b.fb-b.rp >= b.usable {
			return "", fmt.Errorf("pelio: unterminated string exceeds buffer of usable size %d", b.usable)
		}
		if err := b.Ensure(b.fb - b.rp + 1); err != nil {
			return "", err
		}
	}
}

// ReadText streams byteCount bytes through the client encoding's stateful
// decoder, refilling from the stream as needed. Partial multibyte sequences
// are carried across refills.
func (b *ReadBuffer) ReadText(byteCount int) (string, error) {
	if byteCount <= b.usable {
		return b.ReadString(byteCount)
	}

	var dec transform.Transformer
	if b.enc != nil {
		dec = b.enc.NewDecoder()
	} else {
		dec = encoding.Nop.NewDecoder()
	}

	var sb bytes.Buffer
	sb.Grow(byteCount)
	out := make([]byte, 4096)
	for byteCount > 0 {
		if b.fb == b.rp {
			if err := b.Ensure(1); err != nil {
				return "", err
			}
		}
		chunk := b.fb - b.rp
		if chunk > byteCount {
			chunk = byteCount
		}
		src := b.buf[b.rp : b.rp+chunk]
		atEOF := chunk == byteCount
		for len(src) > 0 || atEOF {
			nDst, nSrc, err := dec.Transform(out, src, atEOF)
			sb.Write(out[:nDst])
			src = src[nSrc:]
			if err == nil {
				break
			}
			if err == transform.ErrShortDst {
				continue
			}
			if err == transform.ErrShortSrc && !atEOF {
				break // partial rune carried in decoder state
			}
			return "", err
		}
		consumed := chunk - len(src)
		b.rp += consumed
		byteCount -= consumed
		// An incomplete trailing rune stays buffered for the next pass.
		if len(src) > 0 && !atEOF && consumed == 0 {
			if err := b.Ensure(chunk + 1); err != nil {
				return "", err
			}
		}
	}
	return sb.String(), nil
}
