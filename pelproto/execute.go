package pelproto

import (
	"github.com/pelicandb/pelican/pelio"
)

// Execute runs a bound portal. MaxRows of 0 fetches all rows; a positive
// value suspends the portal after that many rows (PortalSuspended).
type Execute struct {
	Portal  string
	MaxRows uint32
}

func (*Execute) Frontend() {}

func (src *Execute) Encode(buf *pelio.WriteBuffer) error {
	if err := writeHeader(buf, 'E', len(src.Portal)+1+4); err != nil {
		return err
	}
	if err := buf.WriteCString(src.Portal); err != nil {
		return err
	}
	return buf.WriteUint32(src.MaxRows)
}
