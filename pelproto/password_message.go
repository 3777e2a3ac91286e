package pelproto

import (
	"github.com/pelicandb/pelican/pelio"
)

// PasswordMessage answers a cleartext or MD5 authentication request.
type PasswordMessage struct {
	Password string
}

func (*PasswordMessage) Frontend() {}

func (src *PasswordMessage) Encode(buf *pelio.WriteBuffer) error {
	if err := writeHeader(buf, 'p', len(src.Password)+1); err != nil {
		return err
	}
	return buf.WriteCString(src.Password)
}

// SASLInitialResponse opens a SASL exchange, naming the mechanism.
type SASLInitialResponse struct {
	AuthMechanism string
	Data          []byte
}

func (*SASLInitialResponse) Frontend() {}

func (src *SASLInitialResponse) Encode(buf *pelio.WriteBuffer) error {
	bodyLen := len(src.AuthMechanism) + 1 + 4 + len(src.Data)
	if err := writeHeader(buf, 'p', bodyLen); err != nil {
		return err
	}
	if err := buf.WriteCString(src.AuthMechanism); err != nil {
		return err
	}
	if err := buf.WriteInt32(int32(len(src.Data))); err != nil {
		return err
	}
	return buf.WriteBytes(src.Data)
}

// SASLResponse continues a SASL exchange.
type SASLResponse struct {
	Data []byte
}

func (*SASLResponse) Frontend() {}

func (src *SASLResponse) Encode(buf *pelio.WriteBuffer) error {
	if err := writeHeader(buf, 'p', len(src.Data)); err != nil {
		return err
	}
	return buf.WriteBytes(src.Data)
}
