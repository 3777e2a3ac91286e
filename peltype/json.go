package peltype

import (
	"encoding/json"

	"github.com/pelicandb/pelican/pelio"
	"github.com/pelicandb/pelican/pelproto"
)

// JSONHandler serves json (oid 114) and jsonb (oid 3802). jsonb's binary
// format prefixes the text with a version byte.
type JSONHandler struct {
	oid OID
}

// NewJSONHandler returns a handler bound to a json-family oid.
func NewJSONHandler(oid OID) JSONHandler { return JSONHandler{oid: oid} }

func (h JSONHandler) OID() OID { return h.oid }

func (h JSONHandler) Format() int16 {
	if h.oid == JSONBOID {
		return pelproto.BinaryFormat
	}
	return pelproto.TextFormat
}

func (h JSONHandler) Length(v any) (int, error) {
	b, err := h.marshal(v)
	if err != nil {
		return 0, err
	}
	if h.oid == JSONBOID {
		return len(b) + 1, nil
	}
	return len(b), nil
}

func (h JSONHandler) Write(v any, buf *pelio.WriteBuffer) error {
	b, err := h.marshal(v)
	if err != nil {
		return err
	}
	if h.oid == JSONBOID {
		if err := buf.WriteByte(1); err != nil {
			return err
		}
	}
	return buf.WriteBytes(b)
}

func (h JSONHandler) Read(buf *pelio.ReadBuffer, length int, format int16) (any, error) {
	if h.oid == JSONBOID && format == pelproto.BinaryFormat {
		version, err := buf.ReadByte()
		if err != nil {
			return nil, err
		}
		if version != 1 {
			return nil, &CastError{OID: h.oid, GoType: "[]byte", Reason: "unknown jsonb version"}
		}
		length--
	}
	s, err := buf.ReadText(length)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(s), nil
}

func (h JSONHandler) marshal(v any) ([]byte, error) {
	switch v := v.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, castErr(h.oid, v, err.Error())
	}
	return b, nil
}
