package pelproto

import (
	"github.com/pelicandb/pelican/pelio"
)

// Sync closes an extended-query pipeline. The server answers everything
// outstanding and finishes with ReadyForQuery.
type Sync struct{}

func (*Sync) Frontend() {}

func (*Sync) Encode(buf *pelio.WriteBuffer) error {
	return writeHeader(buf, 'S', 0)
}

// Flush asks the server to deliver any pending responses without ending the
// pipeline.
type Flush struct{}

func (*Flush) Frontend() {}

func (*Flush) Encode(buf *pelio.WriteBuffer) error {
	return writeHeader(buf, 'H', 0)
}

// Terminate announces an orderly disconnect.
type Terminate struct{}

func (*Terminate) Frontend() {}

func (*Terminate) Encode(buf *pelio.WriteBuffer) error {
	return writeHeader(buf, 'X', 0)
}
