package pelproto

import (
	"github.com/pelicandb/pelican/pelio"
)

// Query runs sql via the simple query protocol.
type Query struct {
	SQL string
}

func (*Query) Frontend() {}

func (src *Query) Encode(buf *pelio.WriteBuffer) error {
	if err := writeHeader(buf, 'Q', len(src.SQL)+1); err != nil {
		return err
	}
	return buf.WriteCString(src.SQL)
}
