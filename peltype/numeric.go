package peltype

import (
	"github.com/shopspring/decimal"

	"github.com/pelicandb/pelican/pelio"
	"github.com/pelicandb/pelican/pelproto"
)

// NumericHandler serves numeric (oid 1700) in text format: the text form is
// exact and avoids the base-10000 digit packing of the binary form.
type NumericHandler struct{}

func (NumericHandler) OID() OID      { return NumericOID }
func (NumericHandler) Format() int16 { return pelproto.TextFormat }

func (h NumericHandler) Length(v any) (int, error) {
	d, err := h.toDecimal(v)
	if err != nil {
		return 0, err
	}
	return len(d.String()), nil
}

func (h NumericHandler) Write(v any, buf *pelio.WriteBuffer) error {
	d, err := h.toDecimal(v)
	if err != nil {
		return err
	}
	return buf.WriteString(d.String())
}

func (h NumericHandler) Read(buf *pelio.ReadBuffer, length int, format int16) (any, error) {
	if format == pelproto.BinaryFormat {
		return nil, &CastError{OID: h.OID(), GoType: "[]byte", Reason: "binary numeric not supported; request text format"}
	}
	s, err := buf.ReadString(length)
	if err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, &CastError{OID: h.OID(), GoType: "string", Reason: err.Error()}
	}
	return d, nil
}

func (h NumericHandler) toDecimal(v any) (decimal.Decimal, error) {
	switch v := v.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, castErr(h.OID(), v, err.Error())
		}
		return d, nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	}
	return decimal.Zero, castErr(h.OID(), v, "not a decimal")
}
