// Package peltype maps PostgreSQL type OIDs to encode/decode routines for
// bind parameters and result columns.
package peltype

import (
	"fmt"
	"reflect"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/pelicandb/pelican/pelio"
	"github.com/pelicandb/pelican/pelproto"
)

// OID is PostgreSQL's 32-bit object identifier.
type OID uint32

// OIDs for the types this package handles natively.
const (
	BoolOID        OID = 16
	ByteaOID       OID = 17
	NameOID        OID = 19
	Int8OID        OID = 20
	Int2OID        OID = 21
	Int4OID        OID = 23
	TextOID        OID = 25
	OIDOID         OID = 26
	JSONOID        OID = 114
	Float4OID      OID = 700
	Float8OID      OID = 701
	UnknownOID     OID = 705
	BPCharOID      OID = 1042
	VarcharOID     OID = 1043
	DateOID        OID = 1082
	TimestampOID   OID = 1114
	TimestamptzOID OID = 1184
	NumericOID     OID = 1700
	UUIDOID        OID = 2950
	JSONBOID       OID = 3802
)

// Handler encodes and decodes one PostgreSQL type. Implementations are
// stateless and shared.
type Handler interface {
	// OID names the type this handler serves.
	OID() OID
	// Format returns the wire format the handler writes and prefers to
	// read: pelproto.TextFormat or pelproto.BinaryFormat.
	Format() int16
	// Length validates v and returns the number of bytes Write will
	// produce for it.
	Length(v any) (int, error)
	// Write streams v into buf in the handler's format.
	Write(v any, buf *pelio.WriteBuffer) error
	// Read decodes length bytes from buf arriving in the given format.
	Read(buf *pelio.ReadBuffer, length int, format int16) (any, error)
}

// CastError reports a value a handler cannot convert.
type CastError struct {
	OID    OID
	GoType string
	Reason string
}

func (e *CastError) Error() string {
	return fmt.Sprintf("peltype: cannot convert %s for oid %d: %s", e.GoType, e.OID, e.Reason)
}

func castErr(oid OID, v any, reason string) error {
	return &CastError{OID: oid, GoType: reflect.TypeOf(v).String(), Reason: reason}
}

// Map is a registry of handlers keyed by OID, with value-driven handler
// inference for bind parameters.
type Map struct {
	byOID map[OID]Handler
}

// NewMap returns a Map with every built-in handler registered.
func NewMap() *Map {
	m := &Map{byOID: make(map[OID]Handler)}
	for _, h := range []Handler{
		BoolHandler{},
		ByteaHandler{},
		Int2Handler{},
		Int4Handler{},
		Int8Handler{},
		Float4Handler{},
		Float8Handler{},
		TextHandler{oid: TextOID},
		TextHandler{oid: VarcharOID},
		TextHandler{oid: BPCharOID},
		TextHandler{oid: NameOID},
		TextHandler{oid: UnknownOID},
		DateHandler{},
		TimestampHandler{},
		TimestamptzHandler{},
		UUIDHandler{},
		NumericHandler{},
		JSONHandler{oid: JSONOID},
		JSONHandler{oid: JSONBOID},
	} {
		m.Register(h)
	}
	return m
}

// Register adds or replaces the handler for its OID.
func (m *Map) Register(h Handler) {
	m.byOID[h.OID()] = h
}

// ForOID returns the handler for oid. Unknown OIDs fall back to a text
// handler that surfaces the raw string.
func (m *Map) ForOID(oid OID) Handler {
	if h, ok := m.byOID[oid]; ok {
		return h
	}
	return TextHandler{oid: oid}
}

// ForValue infers the handler for a Go value being bound as a parameter.
func (m *Map) ForValue(v any) (Handler, error) {
	switch v.(type) {
	case bool:
		return m.ForOID(BoolOID), nil
	case []byte:
		return m.ForOID(ByteaOID), nil
	case int8, int16:
		return m.ForOID(Int2OID), nil
	case int32:
		return m.ForOID(Int4OID), nil
	case int, int64, uint32:
		return m.ForOID(Int8OID), nil
	case float32:
		return m.ForOID(Float4OID), nil
	case float64:
		return m.ForOID(Float8OID), nil
	case string:
		return m.ForOID(TextOID), nil
	case time.Time:
		return m.ForOID(TimestamptzOID), nil
	case uuid.UUID:
		return m.ForOID(UUIDOID), nil
	case decimal.Decimal:
		return m.ForOID(NumericOID), nil
	}
	if _, ok := v.(fmt.Stringer); ok {
		return m.ForOID(TextOID), nil
	}
	return nil, fmt.Errorf("peltype: no handler for parameter of type %T", v)
}

// boundValue pairs a handler with a validated value so the Bind encoder can
// ask for the length once and stream the bytes later.
type boundValue struct {
	h Handler
	v any
	n int
}

func (b boundValue) BinaryLength() int { return b.n }

func (b boundValue) Write(buf *pelio.WriteBuffer) error { return b.h.Write(b.v, buf) }

// BindValue validates v against h and returns the value ready for a Bind
// message.
func BindValue(h Handler, v any) (pelproto.BindValue, error) {
	n, err := h.Length(v)
	if err != nil {
		return nil, err
	}
	return boundValue{h: h, v: v, n: n}, nil
}
