// Package pelproto implements the PostgreSQL frontend/backend wire protocol,
// version 3. Frontend messages encode themselves into a pelio.WriteBuffer;
// backend messages decode themselves from a pelio.ReadBuffer.
package pelproto

import (
	"fmt"

	"github.com/pelicandb/pelican/pelio"
)

// ProtocolVersionNumber is 3.0 (196608) encoded per the protocol rules.
const ProtocolVersionNumber = 196608

// Format codes for parameter and result values.
const (
	TextFormat   = 0
	BinaryFormat = 1
)

// Transaction status bytes carried by ReadyForQuery.
const (
	TxStatusIdle                = 'I'
	TxStatusInTransaction       = 'T'
	TxStatusInFailedTransaction = 'E'
)

// FrontendMessage is a message sent by the frontend (i.e. the client).
type FrontendMessage interface {
	Frontend() // no-op method to distinguish frontend from backend messages
	// Encode writes the complete framed message, header included, to buf.
	// The buffer flushes itself as needed, so a message may span flushes.
	Encode(buf *pelio.WriteBuffer) error
}

// BackendMessage is a message sent by the backend (i.e. the server).
type BackendMessage interface {
	Backend() // no-op method to distinguish backend from frontend messages
	// Decode reads exactly bodyLen bytes of message body from buf. The
	// caller has already consumed the 5-byte header and ensured the body
	// is buffered.
	Decode(buf *pelio.ReadBuffer, bodyLen int) error
}

// ProtocolError reports a framing or sequencing violation. It is fatal to
// the connection that produced it.
type ProtocolError struct {
	MessageType byte
	Reason      string
}

func (e *ProtocolError) Error() string {
	if e.MessageType != 0 {
		return fmt.Sprintf("pelproto: protocol violation in message %q: %s", e.MessageType, e.Reason)
	}
	return "pelproto: protocol violation: " + e.Reason
}

func protoErrf(msgType byte, format string, args ...any) *ProtocolError {
	return &ProtocolError{MessageType: msgType, Reason: fmt.Sprintf(format, args...)}
}
