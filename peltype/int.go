package peltype

import (
	"math"
	"strconv"

	"github.com/pelicandb/pelican/pelio"
	"github.com/pelicandb/pelican/pelproto"
)

// Int2Handler serves smallint (oid 21) in binary format.
type Int2Handler struct{}

func (Int2Handler) OID() OID      { return Int2OID }
func (Int2Handler) Format() int16 { return pelproto.BinaryFormat }

func (h Int2Handler) Length(v any) (int, error) {
	if _, err := toInt64(h.OID(), v, math.MinInt16, math.MaxInt16); err != nil {
		return 0, err
	}
	return 2, nil
}

func (h Int2Handler) Write(v any, buf *pelio.WriteBuffer) error {
	n, err := toInt64(h.OID(), v, math.MinInt16, math.MaxInt16)
	if err != nil {
		return err
	}
	return buf.WriteInt16(int16(n))
}

func (h Int2Handler) Read(buf *pelio.ReadBuffer, length int, format int16) (any, error) {
	if format == pelproto.TextFormat {
		return readTextInt(h.OID(), buf, length, 16)
	}
	if length != 2 {
		return nil, castErrLen(h.OID(), length, 2)
	}
	n, err := buf.ReadInt16()
	return n, err
}

// Int4Handler serves integer (oid 23) in binary format.
type Int4Handler struct{}

func (Int4Handler) OID() OID      { return Int4OID }
func (Int4Handler) Format() int16 { return pelproto.BinaryFormat }

func (h Int4Handler) Length(v any) (int, error) {
	if _, err := toInt64(h.OID(), v, math.MinInt32, math.MaxInt32); err != nil {
		return 0, err
	}
	return 4, nil
}

func (h Int4Handler) Write(v any, buf *pelio.WriteBuffer) error {
	n, err := toInt64(h.OID(), v, math.MinInt32, math.MaxInt32)
	if err != nil {
		return err
	}
	return buf.WriteInt32(int32(n))
}

func (h Int4Handler) Read(buf *pelio.ReadBuffer, length int, format int16) (any, error) {
	if format == pelproto.TextFormat {
		return readTextInt(h.OID(), buf, length, 32)
	}
	if length != 4 {
		return nil, castErrLen(h.OID(), length, 4)
	}
	n, err := buf.ReadInt32()
	return n, err
}

// Int8Handler serves bigint (oid 20) in binary format.
type Int8Handler struct{}

func (Int8Handler) OID() OID      { return Int8OID }
func (Int8Handler) Format() int16 { return pelproto.BinaryFormat }

func (h Int8Handler) Length(v any) (int, error) {
	if _, err := toInt64(h.OID(), v, math.MinInt64, math.MaxInt64); err != nil {
		return 0, err
	}
	return 8, nil
}

func (h Int8Handler) Write(v any, buf *pelio.WriteBuffer) error {
	n, err := toInt64(h.OID(), v, math.MinInt64, math.MaxInt64)
	if err != nil {
		return err
	}
	return buf.WriteInt64(n)
}

func (h Int8Handler) Read(buf *pelio.ReadBuffer, length int, format int16) (any, error) {
	if format == pelproto.TextFormat {
		return readTextInt(h.OID(), buf, length, 64)
	}
	if length != 8 {
		return nil, castErrLen(h.OID(), length, 8)
	}
	n, err := buf.ReadInt64()
	return n, err
}

func toInt64(oid OID, v any, min, max int64) (int64, error) {
	var n int64
	switch v := v.(type) {
	case int8:
		n = int64(v)
	case int16:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case int:
		n = int64(v)
	case uint32:
		n = int64(v)
	default:
		return 0, castErr(oid, v, "not an integer")
	}
	if n < min || n > max {
		return 0, castErr(oid, v, "out of range")
	}
	return n, nil
}

func readTextInt(oid OID, buf *pelio.ReadBuffer, length, bits int) (any, error) {
	s, err := buf.ReadString(length)
	if err != nil {
		return nil, err
	}
	n, err := strconv.ParseInt(s, 10, bits)
	if err != nil {
		return nil, &CastError{OID: oid, GoType: "string", Reason: err.Error()}
	}
	switch bits {
	case 16:
		return int16(n), nil
	case 32:
		return int32(n), nil
	default:
		return n, nil
	}
}

func castErrLen(oid OID, got, want int) error {
	return &CastError{OID: oid, GoType: "[]byte", Reason: "binary value of " + strconv.Itoa(got) + " bytes, want " + strconv.Itoa(want)}
}
