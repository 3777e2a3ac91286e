// Package apdnumeric provides an alternative numeric handler backed by
// github.com/cockroachdb/apd, for callers that prefer its arbitrary
// precision arithmetic over shopspring decimal. Register it to replace the
// default:
//
//	conn.Connector().TypeMap().Register(apdnumeric.Handler{})
package apdnumeric

import (
	"github.com/cockroachdb/apd"

	"github.com/pelicandb/pelican/pelio"
	"github.com/pelicandb/pelican/pelproto"
	"github.com/pelicandb/pelican/peltype"
)

// Handler serves numeric (oid 1700) as *apd.Decimal values, in text format.
type Handler struct{}

func (Handler) OID() peltype.OID { return peltype.NumericOID }
func (Handler) Format() int16    { return pelproto.TextFormat }

func (h Handler) Length(v any) (int, error) {
	d, err := h.toDecimal(v)
	if err != nil {
		return 0, err
	}
	return len(d.Text('f')), nil
}

func (h Handler) Write(v any, buf *pelio.WriteBuffer) error {
	d, err := h.toDecimal(v)
	if err != nil {
		return err
	}
	return buf.WriteString(d.Text('f'))
}

func (h Handler) Read(buf *pelio.ReadBuffer, length int, format int16) (any, error) {
	if format == pelproto.BinaryFormat {
		return nil, &peltype.CastError{OID: h.OID(), GoType: "[]byte", Reason: "binary numeric not supported; request text format"}
	}
	s, err := buf.ReadString(length)
	if err != nil {
		return nil, err
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, &peltype.CastError{OID: h.OID(), GoType: "string", Reason: err.Error()}
	}
	return d, nil
}

func (h Handler) toDecimal(v any) (*apd.Decimal, error) {
	switch v := v.(type) {
	case *apd.Decimal:
		return v, nil
	case apd.Decimal:
		return &v, nil
	case string:
		d, _, err := apd.NewFromString(v)
		if err != nil {
			return nil, &peltype.CastError{OID: h.OID(), GoType: "string", Reason: err.Error()}
		}
		return d, nil
	case int64:
		return apd.New(v, 0), nil
	case int:
		return apd.New(int64(v), 0), nil
	}
	return nil, &peltype.CastError{OID: h.OID(), GoType: "unsupported", Reason: "not a decimal"}
}
