package pelio_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelicandb/pelican/pelio"
)

// faultyWriter accepts at most limit bytes per call and fails on call
// number failCalls and every later call (0 disables failures).
type faultyWriter struct {
	buf       bytes.Buffer
	limit     int
	failCalls int
	calls     int
}

var errWriterBroken = errors.New("writer broken")

func (w *faultyWriter) Write(p []byte) (int, error) {
	w.calls++
	if w.failCalls > 0 && w.calls >= w.failCalls {
		return 0, errWriterBroken
	}
	n := len(p)
	if w.limit > 0 && n > w.limit {
		n = w.limit
	}
	w.buf.Write(p[:n])
	if n < len(p) {
		return n, errWriterBroken
	}
	return n, nil
}

func TestWriteBufferPrimitivesRoundTrip(t *testing.T) {
	var sink bytes.Buffer
	wb := pelio.NewWriteBuffer(&sink, pelio.MinBufferSize)

	require.NoError(t, wb.WriteByte(0x7F))
	require.NoError(t, wb.WriteInt16(-2))
	require.NoError(t, wb.WriteUint16(0xBEEF))
	require.NoError(t, wb.WriteInt32(-70000))
	require.NoError(t, wb.WriteUint32(0xDEADBEEF))
	require.NoError(t, wb.WriteInt64(-1<<40))
	require.NoError(t, wb.WriteFloat32(3.5))
	require.NoError(t, wb.WriteFloat64(-2.25))
	require.NoError(t, wb.WriteCString("pel"))
	require.NoError(t, wb.Flush())

	rb := pelio.NewReadBufferBytes(sink.Bytes())

	b, _ := rb.ReadByte()
	assert.EqualValues(t, 0x7F, b)
	n16, _ := rb.ReadInt16()
	assert.EqualValues(t, -2, n16)
	u16, _ := rb.ReadUint16()
	assert.EqualValues(t, 0xBEEF, u16)
	n32, _ := rb.ReadInt32()
	assert.EqualValues(t, -70000, n32)
	u32, _ := rb.ReadUint32()
	assert.EqualValues(t, 0xDEADBEEF, u32)
	n64, _ := rb.ReadInt64()
	assert.EqualValues(t, -1<<40, n64)
	f32, _ := rb.ReadFloat32()
	assert.EqualValues(t, 3.5, f32)
	f64, _ := rb.ReadFloat64()
	assert.EqualValues(t, -2.25, f64)
	s, err := rb.ReadCString()
	require.NoError(t, err)
	assert.Equal(t, "pel", s)
}

func TestWriteBufferInvariants(t *testing.T) {
	var sink bytes.Buffer
	wb := pelio.NewWriteBuffer(&sink, pelio.MinBufferSize)

	check := func() {
		assert.GreaterOrEqual(t, wb.Start(), 0)
		assert.LessOrEqual(t, wb.Start(), wb.End())
		assert.LessOrEqual(t, wb.End(), wb.Size())
	}

	for i := 0; i < 5000; i++ {
		require.NoError(t, wb.WriteInt32(int32(i)))
		check()
	}
	require.NoError(t, wb.Flush())
	check()
}

func TestWriteBufferDeliversConcatenationOfWrites(t *testing.T) {
	// Everything written between Clears must reach the writer in order,
	// however the flushes fall.
	var sink bytes.Buffer
	wb := pelio.NewWriteBuffer(&sink, pelio.MinBufferSize)

	var want []byte
	for i := 0; i < 3000; i++ {
		wb.WriteInt32(int32(i))
		want = append(want, byte(i>>24), byte(i>>16), byte(i>>8), byte(i))
	}
	require.NoError(t, wb.Flush())
	assert.Equal(t, want, sink.Bytes())
}

func TestWriteBufferAutoFlushOnFull(t *testing.T) {
	var sink bytes.Buffer
	wb := pelio.NewWriteBuffer(&sink, pelio.MinBufferSize)

	payload := make([]byte, pelio.MinBufferSize*2)
	for i := range payload {
		payload[i] = byte(i % 250)
	}
	require.NoError(t, wb.WriteBytes(payload))
	assert.NotZero(t, sink.Len(), "oversized write should force intermediate flushes")
	require.NoError(t, wb.Flush())
	assert.Equal(t, payload, sink.Bytes())
}

func TestWriteBufferPartialSendResumes(t *testing.T) {
	w := &faultyWriter{limit: 5}
	wb := pelio.NewWriteBuffer(w, pelio.MinBufferSize)

	require.NoError(t, wb.WriteString("hello world"))

	err := wb.Flush()
	require.Error(t, err)
	var fe *pelio.FlushError
	require.ErrorAs(t, err, &fe)
	assert.False(t, fe.SafeToRetry(), "bytes already left the process")
	assert.Equal(t, 5, wb.Start())

	// The next flush resumes from the first unsent byte.
	w.limit = 0
	require.NoError(t, wb.Flush())
	assert.Equal(t, "hello world", w.buf.String())
	assert.Zero(t, wb.Start())
	assert.Zero(t, wb.End())
}

func TestWriteBufferFailedFlushSafeToRetry(t *testing.T) {
	w := &faultyWriter{failCalls: 1}
	wb := pelio.NewWriteBuffer(w, pelio.MinBufferSize)

	require.NoError(t, wb.WriteString("payload"))
	err := wb.Flush()
	var fe *pelio.FlushError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.SafeToRetry(), "nothing reached the writer")
}

func TestWriteBufferClear(t *testing.T) {
	var sink bytes.Buffer
	wb := pelio.NewWriteBuffer(&sink, pelio.MinBufferSize)
	wb.WriteString("discard me")
	wb.Clear()
	require.NoError(t, wb.Flush())
	assert.Zero(t, sink.Len())
}
