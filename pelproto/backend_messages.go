package pelproto

import (
	"github.com/pelicandb/pelican/pelio"
)

// BackendKeyData carries the cancellation credentials for this session.
type BackendKeyData struct {
	ProcessID uint32
	SecretKey uint32
}

func (*BackendKeyData) Backend() {}

func (dst *BackendKeyData) Decode(buf *pelio.ReadBuffer, bodyLen int) error {
	if bodyLen != 8 {
		return protoErrf('K', "body of %d bytes, want 8", bodyLen)
	}
	var err error
	if dst.ProcessID, err = buf.ReadUint32(); err != nil {
		return err
	}
	dst.SecretKey, err = buf.ReadUint32()
	return err
}

// ParameterStatus reports a server run-time parameter value.
type ParameterStatus struct {
	Name  string
	Value string
}

func (*ParameterStatus) Backend() {}

func (dst *ParameterStatus) Decode(buf *pelio.ReadBuffer, bodyLen int) error {
	var err error
	if dst.Name, err = buf.ReadCString(); err != nil {
		return err
	}
	dst.Value, err = buf.ReadCString()
	return err
}

// ReadyForQuery is the server's turn-taking fence. TxStatus is one of the
// TxStatus* bytes.
type ReadyForQuery struct {
	TxStatus byte
}

func (*ReadyForQuery) Backend() {}

func (dst *ReadyForQuery) Decode(buf *pelio.ReadBuffer, bodyLen int) error {
	if bodyLen != 1 {
		return protoErrf('Z', "body of %d bytes, want 1", bodyLen)
	}
	var err error
	dst.TxStatus, err = buf.ReadByte()
	return err
}

// CommandComplete carries the command tag for a finished statement, e.g.
// "SELECT 42" or "INSERT 0 1".
type CommandComplete struct {
	Tag string
}

func (*CommandComplete) Backend() {}

func (dst *CommandComplete) Decode(buf *pelio.ReadBuffer, bodyLen int) error {
	var err error
	dst.Tag, err = buf.ReadCString()
	return err
}

// ParameterDescription lists the parameter type OIDs of a described
// statement.
type ParameterDescription struct {
	ParameterOIDs []uint32
}

func (*ParameterDescription) Backend() {}

func (dst *ParameterDescription) Decode(buf *pelio.ReadBuffer, bodyLen int) error {
	n, err := buf.ReadInt16()
	if err != nil {
		return err
	}
	if bodyLen != 2+4*int(n) {
		return protoErrf('t', "body of %d bytes for %d parameters", bodyLen, n)
	}
	dst.ParameterOIDs = dst.ParameterOIDs[:0]
	for i := 0; i < int(n); i++ {
		oid, err := buf.ReadUint32()
		if err != nil {
			return err
		}
		dst.ParameterOIDs = append(dst.ParameterOIDs, oid)
	}
	return nil
}

// NotificationResponse delivers a LISTEN/NOTIFY payload.
type NotificationResponse struct {
	PID     uint32
	Channel string
	Payload string
}

func (*NotificationResponse) Backend() {}

func (dst *NotificationResponse) Decode(buf *pelio.ReadBuffer, bodyLen int) error {
	var err error
	if dst.PID, err = buf.ReadUint32(); err != nil {
		return err
	}
	if dst.Channel, err = buf.ReadCString(); err != nil {
		return err
	}
	dst.Payload, err = buf.ReadCString()
	return err
}

// The zero-body acknowledgements.

type ParseComplete struct{}

func (*ParseComplete) Backend() {}

func (*ParseComplete) Decode(buf *pelio.ReadBuffer, bodyLen int) error {
	return expectEmpty('1', bodyLen)
}

type BindComplete struct{}

func (*BindComplete) Backend() {}

func (*BindComplete) Decode(buf *pelio.ReadBuffer, bodyLen int) error {
	return expectEmpty('2', bodyLen)
}

type CloseComplete struct{}

func (*CloseComplete) Backend() {}

func (*CloseComplete) Decode(buf *pelio.ReadBuffer, bodyLen int) error {
	return expectEmpty('3', bodyLen)
}

type NoData struct{}

func (*NoData) Backend() {}

func (*NoData) Decode(buf *pelio.ReadBuffer, bodyLen int) error {
	return expectEmpty('n', bodyLen)
}

type EmptyQueryResponse struct{}

func (*EmptyQueryResponse) Backend() {}

func (*EmptyQueryResponse) Decode(buf *pelio.ReadBuffer, bodyLen int) error {
	return expectEmpty('I', bodyLen)
}

type PortalSuspended struct{}

func (*PortalSuspended) Backend() {}

func (*PortalSuspended) Decode(buf *pelio.ReadBuffer, bodyLen int) error {
	return expectEmpty('s', bodyLen)
}

func expectEmpty(msgType byte, bodyLen int) error {
	if bodyLen != 0 {
		return protoErrf(msgType, "body of %d bytes, want 0", bodyLen)
	}
	return nil
}
