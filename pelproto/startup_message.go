package pelproto

import (
	"github.com/jackc/pgio"

	"github.com/pelicandb/pelican/pelio"
)

// StartupMessage opens a session. It carries no type byte: the frame is the
// length, the protocol version, then name/value C-string pairs and a
// trailing zero.
type StartupMessage struct {
	ProtocolVersion uint32
	Parameters      map[string]string
}

func (*StartupMessage) Frontend() {}

func (src *StartupMessage) Encode(buf *pelio.WriteBuffer) error {
	b := make([]byte, 0, 128)
	b = pgio.AppendInt32(b, -1)
	b = pgio.AppendUint32(b, src.ProtocolVersion)
	for k, v := range src.Parameters {
		b = append(b, k...)
		b = append(b, 0)
		b = append(b, v...)
		b = append(b, 0)
	}
	b = append(b, 0)
	pgio.SetInt32(b, int32(len(b)))
	return buf.WriteBytes(b)
}

// SSLRequest asks the server to switch to TLS before startup. The server
// answers with a single 'S' or 'N' byte, outside normal framing.
type SSLRequest struct{}

func (*SSLRequest) Frontend() {}

const sslRequestCode = 80877103

func (*SSLRequest) Encode(buf *pelio.WriteBuffer) error {
	b := make([]byte, 0, 8)
	b = pgio.AppendInt32(b, 8)
	b = pgio.AppendInt32(b, sslRequestCode)
	return buf.WriteBytes(b)
}

// CancelRequest interrupts a query in progress. It is sent on a dedicated
// connection, never the one running the query.
type CancelRequest struct {
	ProcessID uint32
	SecretKey uint32
}

func (*CancelRequest) Frontend() {}

const cancelRequestCode = 80877102

func (src *CancelRequest) Encode(buf *pelio.WriteBuffer) error {
	b := make([]byte, 0, 16)
	b = pgio.AppendInt32(b, 16)
	b = pgio.AppendInt32(b, cancelRequestCode)
	b = pgio.AppendUint32(b, src.ProcessID)
	b = pgio.AppendUint32(b, src.SecretKey)
	return buf.WriteBytes(b)
}
