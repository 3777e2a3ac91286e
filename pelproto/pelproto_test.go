package pelproto_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelicandb/pelican/pelio"
	"github.com/pelicandb/pelican/pelproto"
)

func encode(t *testing.T, msg pelproto.FrontendMessage) []byte {
	t.Helper()
	var sink bytes.Buffer
	wb := pelio.NewWriteBuffer(&sink, pelio.MinBufferSize)
	require.NoError(t, msg.Encode(wb))
	require.NoError(t, wb.Flush())
	return sink.Bytes()
}

func TestParseEncodeIsByteExact(t *testing.T) {
	got := encode(t, &pelproto.Parse{Name: "s1", Query: "SELECT 1", ParameterOIDs: []uint32{23}})

	want := []byte{'P', 0, 0, 0, 22}
	want = append(want, 's', '1', 0)
	want = append(want, "SELECT 1"...)
	want = append(want, 0)
	want = append(want, 0, 1) // one parameter oid
	want = append(want, 0, 0, 0, 23)
	assert.Equal(t, want, got)
}

func TestBindEncodeIsByteExact(t *testing.T) {
	got := encode(t, &pelproto.Bind{
		ParameterFormatCodes: []int16{1},
		Parameters:           []pelproto.BindValue{pelproto.RawBindValue{0, 0, 0, 8}},
		ResultFormatCodes:    nil,
	})

	want := []byte{'B', 0, 0, 0, 22}
	want = append(want, 0, 0)       // empty portal + statement
	want = append(want, 0, 1, 0, 1) // one format code: binary
	want = append(want, 0, 1)       // one parameter
	want = append(want, 0, 0, 0, 4, 0, 0, 0, 8)
	want = append(want, 0, 0) // zero result format codes
	assert.Equal(t, want, got)
}

func TestBindEncodesNullAsMinusOne(t *testing.T) {
	got := encode(t, &pelproto.Bind{Parameters: []pelproto.BindValue{nil}})
	// portal, stmt, 0 formats, 1 param with length -1, 0 result formats
	want := []byte{'B', 0, 0, 0, 16, 0, 0, 0, 0, 0, 1, 0xFF, 0xFF, 0xFF, 0xFF, 0, 0}
	assert.Equal(t, want, got)
}

func TestControlMessagesEncode(t *testing.T) {
	assert.Equal(t, []byte{'S', 0, 0, 0, 4}, encode(t, &pelproto.Sync{}))
	assert.Equal(t, []byte{'H', 0, 0, 0, 4}, encode(t, &pelproto.Flush{}))
	assert.Equal(t, []byte{'X', 0, 0, 0, 4}, encode(t, &pelproto.Terminate{}))
}

func TestDescribeExecuteEncode(t *testing.T) {
	assert.Equal(t,
		[]byte{'D', 0, 0, 0, 8, 'S', 's', '1', 0},
		encode(t, &pelproto.Describe{ObjectType: pelproto.DescribeStatement, Name: "s1"}))

	assert.Equal(t,
		[]byte{'E', 0, 0, 0, 9, 0, 0, 0, 0, 100},
		encode(t, &pelproto.Execute{MaxRows: 100}))
}

func TestQueryEncode(t *testing.T) {
	assert.Equal(t,
		append(append([]byte{'Q', 0, 0, 0, 16}, "DISCARD ALL"...), 0),
		encode(t, &pelproto.Query{SQL: "DISCARD ALL"}))
}

func TestStartupMessageEncode(t *testing.T) {
	got := encode(t, &pelproto.StartupMessage{
		ProtocolVersion: pelproto.ProtocolVersionNumber,
		Parameters:      map[string]string{"user": "u"},
	})

	require.GreaterOrEqual(t, len(got), 9)
	assert.EqualValues(t, len(got), binary.BigEndian.Uint32(got[:4]))
	assert.EqualValues(t, 196608, binary.BigEndian.Uint32(got[4:8]))
	assert.Contains(t, string(got), "user\x00u\x00")
	assert.EqualValues(t, 0, got[len(got)-1])
}

func TestCancelRequestEncode(t *testing.T) {
	got := encode(t, &pelproto.CancelRequest{ProcessID: 7, SecretKey: 9})
	want := []byte{0, 0, 0, 16, 0x04, 0xd2, 0x16, 0x2e, 0, 0, 0, 7, 0, 0, 0, 9}
	assert.Equal(t, want, got)
}

// frontendOver builds a Frontend reading from raw backend bytes.
func frontendOver(raw []byte) *pelproto.Frontend {
	rb := pelio.NewReadBuffer(bytes.NewReader(raw), pelio.MinBufferSize, nil)
	wb := pelio.NewWriteBuffer(&bytes.Buffer{}, pelio.MinBufferSize)
	return pelproto.NewFrontend(rb, wb)
}

func framed(msgType byte, body []byte) []byte {
	out := []byte{msgType}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)+4))
	out = append(out, lenBuf[:]...)
	return append(out, body...)
}

func TestReceiveReadyForQuery(t *testing.T) {
	f := frontendOver(framed('Z', []byte{'T'}))
	msg, err := f.Receive()
	require.NoError(t, err)
	rfq, ok := msg.(*pelproto.ReadyForQuery)
	require.True(t, ok)
	assert.EqualValues(t, 'T', rfq.TxStatus)
}

func TestReceiveRowDescription(t *testing.T) {
	body := []byte{0, 1}
	body = append(body, "id"...)
	body = append(body, 0)
	body = append(body, 0, 0, 0, 0) // table oid
	body = append(body, 0, 2)       // attnum
	body = append(body, 0, 0, 0, 23)
	body = append(body, 0, 4)                   // typlen
	body = append(body, 0xFF, 0xFF, 0xFF, 0xFF) // typmod -1
	body = append(body, 0, 1)                   // binary format

	f := frontendOver(framed('T', body))
	msg, err := f.Receive()
	require.NoError(t, err)
	rd, ok := msg.(*pelproto.RowDescription)
	require.True(t, ok)
	require.Len(t, rd.Fields, 1)
	fd := rd.Fields[0]
	assert.Equal(t, "id", fd.Name)
	assert.EqualValues(t, 2, fd.TableAttributeNumber)
	assert.EqualValues(t, 23, fd.DataTypeOID)
	assert.EqualValues(t, 4, fd.DataTypeSize)
	assert.EqualValues(t, -1, fd.TypeModifier)
	assert.EqualValues(t, 1, fd.Format)
}

func TestReceiveDataRowWithNull(t *testing.T) {
	body := []byte{0, 2}
	body = append(body, 0, 0, 0, 1, '8')
	body = append(body, 0xFF, 0xFF, 0xFF, 0xFF) // null

	f := frontendOver(framed('D', body))
	msg, err := f.Receive()
	require.NoError(t, err)
	dr, ok := msg.(*pelproto.DataRow)
	require.True(t, ok)
	require.Len(t, dr.Values, 2)
	assert.Equal(t, []byte("8"), dr.Values[0])
	assert.Nil(t, dr.Values[1])
}

func TestReceiveErrorResponseFields(t *testing.T) {
	var body []byte
	add := func(code byte, val string) {
		body = append(body, code)
		body = append(body, val...)
		body = append(body, 0)
	}
	add('S', "ERROR")
	add('V', "ERROR")
	add('C', "42703")
	add('M', "column does not exist")
	add('P', "8")
	add('s', "public")
	add('t', "widgets")
	add('L', "3717")
	add('F', "parse_relation.c")
	add('R', "errorMissingColumn")
	body = append(body, 0)

	f := frontendOver(framed('E', body))
	msg, err := f.Receive()
	require.NoError(t, err)
	er, ok := msg.(*pelproto.ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, "ERROR", er.Severity)
	assert.Equal(t, "42703", er.Code)
	assert.Equal(t, "column does not exist", er.Message)
	assert.EqualValues(t, 8, er.Position)
	assert.Equal(t, "public", er.SchemaName)
	assert.Equal(t, "widgets", er.TableName)
	assert.EqualValues(t, 3717, er.Line)
	assert.Equal(t, "errorMissingColumn", er.Routine)
}

func TestReceiveAuthenticationVariants(t *testing.T) {
	f := frontendOver(framed('R', []byte{0, 0, 0, 0}))
	msg, err := f.Receive()
	require.NoError(t, err)
	auth := msg.(*pelproto.Authentication)
	assert.EqualValues(t, pelproto.AuthTypeOk, auth.Type)

	f = frontendOver(framed('R', []byte{0, 0, 0, 5, 'a', 'b', 'c', 'd'}))
	msg, err = f.Receive()
	require.NoError(t, err)
	auth = msg.(*pelproto.Authentication)
	assert.EqualValues(t, pelproto.AuthTypeMD5Password, auth.Type)
	assert.Equal(t, [4]byte{'a', 'b', 'c', 'd'}, auth.Salt)

	body := []byte{0, 0, 0, 10}
	body = append(body, "SCRAM-SHA-256"...)
	body = append(body, 0, 0)
	f = frontendOver(framed('R', body))
	msg, err = f.Receive()
	require.NoError(t, err)
	auth = msg.(*pelproto.Authentication)
	assert.EqualValues(t, pelproto.AuthTypeSASL, auth.Type)
	assert.Equal(t, []string{"SCRAM-SHA-256"}, auth.SASLAuthMechanisms)
}

func TestReceiveUnknownTypeIsProtocolError(t *testing.T) {
	f := frontendOver(framed('?', nil))
	_, err := f.Receive()
	var pe *pelproto.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.EqualValues(t, '?', pe.MessageType)
}

func TestReceiveBadLengthIsProtocolError(t *testing.T) {
	raw := []byte{'Z', 0, 0, 0, 3} // length below the minimum of 4
	f := frontendOver(raw)
	_, err := f.Receive()
	var pe *pelproto.ProtocolError
	require.ErrorAs(t, err, &pe)
}

func TestReceiveCommandComplete(t *testing.T) {
	f := frontendOver(framed('C', append([]byte("INSERT 0 42"), 0)))
	msg, err := f.Receive()
	require.NoError(t, err)
	cc := msg.(*pelproto.CommandComplete)
	assert.Equal(t, "INSERT 0 42", cc.Tag)
}
