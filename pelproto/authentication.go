package pelproto

import (
	"github.com/pelicandb/pelican/pelio"
)

// Authentication request subtypes.
const (
	AuthTypeOk                = 0
	AuthTypeCleartextPassword = 3
	AuthTypeMD5Password       = 5
	AuthTypeSASL              = 10
	AuthTypeSASLContinue      = 11
	AuthTypeSASLFinal         = 12
)

// Authentication represents every backend message that begins with 'R'. The
// Type field selects which of the remaining fields are meaningful.
type Authentication struct {
	Type uint32

	// MD5Password
	Salt [4]byte

	// SASL
	SASLAuthMechanisms []string

	// SASLContinue and SASLFinal
	SASLData []byte
}

func (*Authentication) Backend() {}

func (dst *Authentication) Decode(buf *pelio.ReadBuffer, bodyLen int) error {
	if bodyLen < 4 {
		return protoErrf('R', "authentication body of %d bytes", bodyLen)
	}
	t, err := buf.ReadUint32()
	if err != nil {
		return err
	}
	*dst = Authentication{Type: t}
	rest := bodyLen - 4

	switch t {
	case AuthTypeOk, AuthTypeCleartextPassword:
		if rest != 0 {
			return protoErrf('R', "unexpected %d trailing bytes", rest)
		}
	case AuthTypeMD5Password:
		if rest != 4 {
			return protoErrf('R', "md5 salt of %d bytes", rest)
		}
		salt, err := buf.Next(4)
		if err != nil {
			return err
		}
		copy(dst.Salt[:], salt)
	case AuthTypeSASL:
		// Null-terminated mechanism names, then a final null.
		for rest > 1 {
			m, err := buf.ReadCString()
			if err != nil {
				return err
			}
			rest -= len(m) + 1
			dst.SASLAuthMechanisms = append(dst.SASLAuthMechanisms, m)
		}
		if rest == 1 {
			if _, err := buf.ReadByte(); err != nil {
				return err
			}
		}
	case AuthTypeSASLContinue, AuthTypeSASLFinal:
		data, err := buf.Next(rest)
		if err != nil {
			return err
		}
		dst.SASLData = append(dst.SASLData[:0], data...)
	default:
		// Unknown mechanism (GSS, SSPI, ...): consume the body so the
		// stream stays framed; the connector decides how to fail.
		if err := buf.Skip(rest); err != nil {
			return err
		}
	}
	return nil
}
