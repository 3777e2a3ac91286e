package pelproto

import (
	"github.com/pelicandb/pelican/pelio"
)

// Parse asks the server to parse sql into a prepared statement. An empty
// Name selects the unnamed statement. A zero in ParameterOIDs lets the
// server infer that parameter's type.
type Parse struct {
	Name          string
	Query         string
	ParameterOIDs []uint32
}

func (*Parse) Frontend() {}

func (src *Parse) Encode(buf *pelio.WriteBuffer) error {
	bodyLen := len(src.Name) + 1 + len(src.Query) + 1 + 2 + 4*len(src.ParameterOIDs)
	if err := writeHeader(buf, 'P', bodyLen); err != nil {
		return err
	}
	if err := buf.WriteCString(src.Name); err != nil {
		return err
	}
	if err := buf.WriteCString(src.Query); err != nil {
		return err
	}
	if err := buf.WriteInt16(int16(len(src.ParameterOIDs))); err != nil {
		return err
	}
	for _, oid := range src.ParameterOIDs {
		if err := buf.WriteUint32(oid); err != nil {
			return err
		}
	}
	return nil
}
