package peltype

import (
	"github.com/pelicandb/pelican/pelio"
	"github.com/pelicandb/pelican/pelproto"
)

// BoolHandler serves boolean (oid 16) in binary format.
type BoolHandler struct{}

func (BoolHandler) OID() OID      { return BoolOID }
func (BoolHandler) Format() int16 { return pelproto.BinaryFormat }

func (h BoolHandler) Length(v any) (int, error) {
	if _, ok := v.(bool); !ok {
		return 0, castErr(h.OID(), v, "not a bool")
	}
	return 1, nil
}

func (h BoolHandler) Write(v any, buf *pelio.WriteBuffer) error {
	b, ok := v.(bool)
	if !ok {
		return castErr(h.OID(), v, "not a bool")
	}
	if b {
		return buf.WriteByte(1)
	}
	return buf.WriteByte(0)
}

func (h BoolHandler) Read(buf *pelio.ReadBuffer, length int, format int16) (any, error) {
	if format == pelproto.TextFormat {
		s, err := buf.ReadString(length)
		if err != nil {
			return nil, err
		}
		switch s {
		case "t", "true":
			return true, nil
		case "f", "false":
			return false, nil
		}
		return nil, &CastError{OID: h.OID(), GoType: "string", Reason: "invalid bool " + s}
	}
	if length != 1 {
		return nil, castErrLen(h.OID(), length, 1)
	}
	b, err := buf.ReadByte()
	if err != nil {
		return nil, err
	}
	return b != 0, nil
}

// ByteaHandler serves bytea (oid 17) in binary format.
type ByteaHandler struct{}

func (ByteaHandler) OID() OID      { return ByteaOID }
func (ByteaHandler) Format() int16 { return pelproto.BinaryFormat }

func (h ByteaHandler) Length(v any) (int, error) {
	b, ok := v.([]byte)
	if !ok {
		return 0, castErr(h.OID(), v, "not a []byte")
	}
	return len(b), nil
}

func (h ByteaHandler) Write(v any, buf *pelio.WriteBuffer) error {
	b, ok := v.([]byte)
	if !ok {
		return castErr(h.OID(), v, "not a []byte")
	}
	return buf.WriteBytes(b)
}

func (h ByteaHandler) Read(buf *pelio.ReadBuffer, length int, format int16) (any, error) {
	// The binary and text-escaped forms agree on raw bytes for binary
	// result format; text format would need hex decoding, but bytea is
	// always requested in binary.
	dst := make([]byte, length)
	if err := buf.ReadBytes(dst); err != nil {
		return nil, err
	}
	return dst, nil
}
