package pelproto

import (
	"github.com/pelicandb/pelican/pelio"
)

// BindValue is one parameter value in a Bind message. Implementations write
// exactly BinaryLength bytes when Write is called; large values may span
// buffer flushes. A nil BindValue is sent as SQL NULL.
type BindValue interface {
	// BinaryLength returns the number of bytes Write will produce.
	BinaryLength() int
	// Write streams the value into buf.
	Write(buf *pelio.WriteBuffer) error
}

// RawBindValue adapts an already-encoded value to BindValue.
type RawBindValue []byte

func (v RawBindValue) BinaryLength() int { return len(v) }

func (v RawBindValue) Write(buf *pelio.WriteBuffer) error { return buf.WriteBytes(v) }

// Bind binds parameter values to a prepared statement, producing a portal.
// Empty portal and statement names select the unnamed ones.
type Bind struct {
	DestinationPortal    string
	PreparedStatement    string
	ParameterFormatCodes []int16
	Parameters           []BindValue
	ResultFormatCodes    []int16
}

func (*Bind) Frontend() {}

func (src *Bind) Encode(buf *pelio.WriteBuffer) error {
	bodyLen := len(src.DestinationPortal) + 1 + len(src.PreparedStatement) + 1
	bodyLen += 2 + 2*len(src.ParameterFormatCodes)
	bodyLen += 2
	for _, p := range src.Parameters {
		bodyLen += 4
		if p != nil {
			bodyLen += p.BinaryLength()
		}
	}
	bodyLen += 2 + 2*len(src.ResultFormatCodes)

	if err := writeHeader(buf, 'B', bodyLen); err != nil {
		return err
	}
	if err := buf.WriteCString(src.DestinationPortal); err != nil {
		return err
	}
	if err := buf.WriteCString(src.PreparedStatement); err != nil {
		return err
	}

	if err := buf.WriteInt16(int16(len(src.ParameterFormatCodes))); err != nil {
		return err
	}
	for _, fc := range src.ParameterFormatCodes {
		if err := buf.WriteInt16(fc); err != nil {
			return err
		}
	}

	if err := buf.WriteInt16(int16(len(src.Parameters))); err != nil {
		return err
	}
	for _, p := range src.Parameters {
		if p == nil {
			if err := buf.WriteInt32(-1); err != nil {
				return err
			}
			continue
		}
		if err := buf.WriteInt32(int32(p.BinaryLength())); err != nil {
			return err
		}
		if err := p.Write(buf); err != nil {
			return err
		}
	}

	if err := buf.WriteInt16(int16(len(src.ResultFormatCodes))); err != nil {
		return err
	}
	for _, fc := range src.ResultFormatCodes {
		if err := buf.WriteInt16(fc); err != nil {
			return err
		}
	}
	return nil
}
