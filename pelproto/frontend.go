package pelproto

import (
	"github.com/pelicandb/pelican/pelio"
)

// Messages larger than this are rejected as framing violations before any
// allocation happens.
const maxMessageBodyLen = 1 << 30

// Frontend acts as a client for the PostgreSQL wire protocol version 3. It
// pairs a WriteBuffer for outbound messages with a ReadBuffer for inbound
// ones and owns one flyweight per backend message type so that a receive
// loop does not allocate.
type Frontend struct {
	rb *pelio.ReadBuffer
	wb *pelio.WriteBuffer

	// Backend message flyweights
	authentication       Authentication
	backendKeyData       BackendKeyData
	bindComplete         BindComplete
	closeComplete        CloseComplete
	commandComplete      CommandComplete
	dataRow              DataRow
	emptyQueryResponse   EmptyQueryResponse
	errorResponse        ErrorResponse
	noData               NoData
	noticeResponse       NoticeResponse
	notificationResponse NotificationResponse
	parameterDescription ParameterDescription
	parameterStatus      ParameterStatus
	parseComplete        ParseComplete
	portalSuspended      PortalSuspended
	readyForQuery        ReadyForQuery
	rowDescription       RowDescription
}

// NewFrontend creates a Frontend over an established buffer pair.
func NewFrontend(rb *pelio.ReadBuffer, wb *pelio.WriteBuffer) *Frontend {
	return &Frontend{rb: rb, wb: wb}
}

// Send encodes msg into the write buffer. The message is not guaranteed to
// reach the server until Flush is called, though oversized messages may
// force intermediate flushes on their own.
func (f *Frontend) Send(msg FrontendMessage) error {
	return msg.Encode(f.wb)
}

// Flush transmits all pending outbound bytes.
func (f *Frontend) Flush() error {
	return f.wb.Flush()
}

// WriteBuffer exposes the outbound buffer for callers that stream message
// bodies themselves (bind parameter values).
func (f *Frontend) WriteBuffer() *pelio.WriteBuffer { return f.wb }

// ReadBuffer exposes the inbound buffer.
func (f *Frontend) ReadBuffer() *pelio.ReadBuffer { return f.rb }

// Receive reads the next backend message. The returned message is a
// flyweight owned by the Frontend and is only valid until the next call to
// Receive. Unknown message types and malformed lengths yield a
// *ProtocolError.
func (f *Frontend) Receive() (BackendMessage, error) {
	msgType, err := f.rb.ReadByte()
	if err != nil {
		return nil, err
	}
	msgLen, err := f.rb.ReadInt32()
	if err != nil {
		return nil, err
	}
	bodyLen := int(msgLen) - 4
	if bodyLen < 0 || bodyLen > maxMessageBodyLen {
		return nil, protoErrf(msgType, "invalid message length %d", msgLen)
	}

	var msg BackendMessage
	switch msgType {
	case 'R':
		msg = &f.authentication
	case 'K':
		msg = &f.backendKeyData
	case '2':
		msg = &f.bindComplete
	case '3':
		msg = &f.closeComplete
	case 'C':
		msg = &f.commandComplete
	case 'D':
		msg = &f.dataRow
	case 'I':
		msg = &f.emptyQueryResponse
	case 'E':
		msg = &f.errorResponse
	case 'n':
		msg = &f.noData
	case 'N':
		msg = &f.noticeResponse
	case 'A':
		msg = &f.notificationResponse
	case 't':
		msg = &f.parameterDescription
	case 'S':
		msg = &f.parameterStatus
	case '1':
		msg = &f.parseComplete
	case 's':
		msg = &f.portalSuspended
	case 'Z':
		msg = &f.readyForQuery
	case 'T':
		msg = &f.rowDescription
	default:
		return nil, protoErrf(msgType, "unknown message type")
	}

	// Oversized bodies spill to a temporary buffer that drains the socket
	// past the fixed buffer's capacity.
	buf, err := f.rb.Spill(bodyLen)
	if err != nil {
		return nil, err
	}
	before := buf.BytesLeft()
	if err := msg.Decode(buf, bodyLen); err != nil {
		return nil, err
	}
	if before-buf.BytesLeft() != bodyLen {
		return nil, protoErrf(msgType, "message body length %d not fully consumed", bodyLen)
	}
	return msg, nil
}

// writeHeader writes the type byte and the length field (which counts itself
// but not the type byte).
func writeHeader(buf *pelio.WriteBuffer, msgType byte, bodyLen int) error {
	if err := buf.WriteByte(msgType); err != nil {
		return err
	}
	return buf.WriteInt32(int32(bodyLen + 4))
}
