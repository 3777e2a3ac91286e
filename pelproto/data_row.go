package pelproto

import (
	"github.com/pelicandb/pelican/pelio"
)

// DataRow is one row of a result set. Values holds one slice per column,
// nil for SQL NULL. The slices are views into the read buffer and are valid
// only until the next Receive; consumers decode or copy before advancing.
type DataRow struct {
	Values [][]byte
}

func (*DataRow) Backend() {}

func (dst *DataRow) Decode(buf *pelio.ReadBuffer, bodyLen int) error {
	fieldCount, err := buf.ReadInt16()
	if err != nil {
		return err
	}
	if fieldCount < 0 {
		return protoErrf('D', "negative field count %d", fieldCount)
	}
	if cap(dst.Values) >= int(fieldCount) {
		dst.Values = dst.Values[:fieldCount]
	} else {
		dst.Values = make([][]byte, fieldCount)
	}

	for i := range dst.Values {
		vlen, err := buf.ReadInt32()
		if err != nil {
			return err
		}
		if vlen == -1 {
			dst.Values[i] = nil
			continue
		}
		if vlen < 0 {
			return protoErrf('D', "field length %d", vlen)
		}
		v, err := buf.Next(int(vlen))
		if err != nil {
			return err
		}
		dst.Values[i] = v
	}
	return nil
}
