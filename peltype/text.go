package peltype

import (
	"fmt"

	"github.com/pelicandb/pelican/pelio"
	"github.com/pelicandb/pelican/pelproto"
)

// TextHandler serves the character types (text, varchar, bpchar, name) and
// doubles as the fallback for any OID with no registered handler: the value
// surfaces as the server's raw string.
type TextHandler struct {
	oid OID
}

// NewTextHandler returns a text handler bound to oid, for registering the
// fallback behavior under additional OIDs.
func NewTextHandler(oid OID) TextHandler { return TextHandler{oid: oid} }

func (h TextHandler) OID() OID    { return h.oid }
func (TextHandler) Format() int16 { return pelproto.TextFormat }

func (h TextHandler) Length(v any) (int, error) {
	s, err := h.toString(v)
	if err != nil {
		return 0, err
	}
	return len(s), nil
}

func (h TextHandler) Write(v any, buf *pelio.WriteBuffer) error {
	s, err := h.toString(v)
	if err != nil {
		return err
	}
	return buf.WriteString(s)
}

func (h TextHandler) Read(buf *pelio.ReadBuffer, length int, format int16) (any, error) {
	// Text and binary representations coincide for the character types.
	return buf.ReadText(length)
}

func (h TextHandler) toString(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return "", castErr(h.oid, v, "not a string")
}
