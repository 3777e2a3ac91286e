package peltype

import (
	"strconv"

	"github.com/pelicandb/pelican/pelio"
	"github.com/pelicandb/pelican/pelproto"
)

// Float4Handler serves real (oid 700) in binary format.
type Float4Handler struct{}

func (Float4Handler) OID() OID      { return Float4OID }
func (Float4Handler) Format() int16 { return pelproto.BinaryFormat }

func (h Float4Handler) Length(v any) (int, error) {
	if _, err := toFloat64(h.OID(), v); err != nil {
		return 0, err
	}
	return 4, nil
}

func (h Float4Handler) Write(v any, buf *pelio.WriteBuffer) error {
	f, err := toFloat64(h.OID(), v)
	if err != nil {
		return err
	}
	return buf.WriteFloat32(float32(f))
}

func (h Float4Handler) Read(buf *pelio.ReadBuffer, length int, format int16) (any, error) {
	if format == pelproto.TextFormat {
		return readTextFloat(h.OID(), buf, length, 32)
	}
	if length != 4 {
		return nil, castErrLen(h.OID(), length, 4)
	}
	f, err := buf.ReadFloat32()
	return f, err
}

// Float8Handler serves double precision (oid 701) in binary format.
type Float8Handler struct{}

func (Float8Handler) OID() OID      { return Float8OID }
func (Float8Handler) Format() int16 { return pelproto.BinaryFormat }

func (h Float8Handler) Length(v any) (int, error) {
	if _, err := toFloat64(h.OID(), v); err != nil {
		return 0, err
	}
	return 8, nil
}

func (h Float8Handler) Write(v any, buf *pelio.WriteBuffer) error {
	f, err := toFloat64(h.OID(), v)
	if err != nil {
		return err
	}
	return buf.WriteFloat64(f)
}

func (h Float8Handler) Read(buf *pelio.ReadBuffer, length int, format int16) (any, error) {
	if format == pelproto.TextFormat {
		return readTextFloat(h.OID(), buf, length, 64)
	}
	if length != 8 {
		return nil, castErrLen(h.OID(), length, 8)
	}
	f, err := buf.ReadFloat64()
	return f, err
}

func toFloat64(oid OID, v any) (float64, error) {
	switch v := v.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, castErr(oid, v, "not a float")
	}
}

func readTextFloat(oid OID, buf *pelio.ReadBuffer, length, bits int) (any, error) {
	s, err := buf.ReadString(length)
	if err != nil {
		return nil, err
	}
	f, err := strconv.ParseFloat(s, bits)
	if err != nil {
		return nil, &CastError{OID: oid, GoType: "string", Reason: err.Error()}
	}
	if bits == 32 {
		return float32(f), nil
	}
	return f, nil
}
