package peltype

import (
	"github.com/gofrs/uuid"

	"github.com/pelicandb/pelican/pelio"
	"github.com/pelicandb/pelican/pelproto"
)

// UUIDHandler serves uuid (oid 2950): 16 raw bytes in binary format.
type UUIDHandler struct{}

func (UUIDHandler) OID() OID      { return UUIDOID }
func (UUIDHandler) Format() int16 { return pelproto.BinaryFormat }

func (h UUIDHandler) Length(v any) (int, error) {
	if _, err := h.toUUID(v); err != nil {
		return 0, err
	}
	return 16, nil
}

func (h UUIDHandler) Write(v any, buf *pelio.WriteBuffer) error {
	u, err := h.toUUID(v)
	if err != nil {
		return err
	}
	return buf.WriteBytes(u.Bytes())
}

func (h UUIDHandler) Read(buf *pelio.ReadBuffer, length int, format int16) (any, error) {
	if format == pelproto.TextFormat {
		s, err := buf.ReadString(length)
		if err != nil {
			return nil, err
		}
		u, err := uuid.FromString(s)
		if err != nil {
			return nil, &CastError{OID: h.OID(), GoType: "string", Reason: err.Error()}
		}
		return u, nil
	}
	if length != 16 {
		return nil, castErrLen(h.OID(), length, 16)
	}
	raw := make([]byte, 16)
	if err := buf.ReadBytes(raw); err != nil {
		return nil, err
	}
	u, err := uuid.FromBytes(raw)
	if err != nil {
		return nil, &CastError{OID: h.OID(), GoType: "[]byte", Reason: err.Error()}
	}
	return u, nil
}

func (h UUIDHandler) toUUID(v any) (uuid.UUID, error) {
	switch v := v.(type) {
	case uuid.UUID:
		return v, nil
	case [16]byte:
		return uuid.UUID(v), nil
	case []byte:
		u, err := uuid.FromBytes(v)
		if err != nil {
			return uuid.Nil, castErr(h.OID(), v, err.Error())
		}
		return u, nil
	case string:
		u, err := uuid.FromString(v)
		if err != nil {
			return uuid.Nil, castErr(h.OID(), v, err.Error())
		}
		return u, nil
	}
	return uuid.Nil, castErr(h.OID(), v, "not a uuid")
}
