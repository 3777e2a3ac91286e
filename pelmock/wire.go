package pelmock

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/jackc/pgio"
)

// payload is a cursor over one received message body.
type payload struct {
	buf []byte
	pos int
}

func (p *payload) readByte() byte {
	b := p.buf[p.pos]
	p.pos++
	return b
}

func (p *payload) readInt16() int16 {
	v := int16(binary.BigEndian.Uint16(p.buf[p.pos:]))
	p.pos += 2
	return v
}

func (p *payload) readInt32() int32 {
	v := int32(binary.BigEndian.Uint32(p.buf[p.pos:]))
	p.pos += 4
	return v
}

func (p *payload) readUint32() uint32 {
	v := binary.BigEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v
}

func (p *payload) readCString() string {
	start := p.pos
	for p.pos < len(p.buf) && p.buf[p.pos] != 0 {
		p.pos++
	}
	s := string(p.buf[start:p.pos])
	p.pos++
	return s
}

func (p *payload) readBytes(n int) []byte {
	v := p.buf[p.pos : p.pos+n]
	p.pos += n
	return v
}

func (p *payload) remaining() int { return len(p.buf) - p.pos }

// readMessage reads one framed frontend message: type byte, length,
// payload.
func readMessage(r *bufio.Reader) (byte, *payload, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	msgType := header[0]
	bodyLen := int(binary.BigEndian.Uint32(header[1:])) - 4
	if bodyLen < 0 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return msgType, &payload{buf: body}, nil
}

// readStartup reads the length-prefixed, untyped startup-phase frame.
func readStartup(r *bufio.Reader) (*payload, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	bodyLen := int(binary.BigEndian.Uint32(lenBuf)) - 4
	if bodyLen < 0 {
		return nil, io.ErrUnexpectedEOF
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return &payload{buf: body}, nil
}

// writeMessage frames and sends one backend message.
func writeMessage(w *bufio.Writer, msgType byte, body []byte) error {
	header := make([]byte, 0, 5)
	header = append(header, msgType)
	header = pgio.AppendInt32(header, int32(len(body)+4))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// Builders for backend message bodies.

func buildAuthenticationOk() []byte {
	return pgio.AppendInt32(nil, 0)
}

func buildAuthenticationCleartext() []byte {
	return pgio.AppendInt32(nil, 3)
}

func buildAuthenticationMD5(salt [4]byte) []byte {
	b := pgio.AppendInt32(nil, 5)
	return append(b, salt[:]...)
}

func buildParameterStatus(name, value string) []byte {
	b := append([]byte(name), 0)
	b = append(b, value...)
	return append(b, 0)
}

func buildBackendKeyData(pid, secret uint32) []byte {
	b := pgio.AppendUint32(nil, pid)
	return pgio.AppendUint32(b, secret)
}

func buildReadyForQuery(txStatus byte) []byte {
	return []byte{txStatus}
}

func buildCommandComplete(tag string) []byte {
	return append([]byte(tag), 0)
}

func buildParameterDescription(oids []uint32) []byte {
	b := pgio.AppendInt16(nil, int16(len(oids)))
	for _, oid := range oids {
		b = pgio.AppendUint32(b, oid)
	}
	return b
}

func buildRowDescription(cols []Column) []byte {
	b := pgio.AppendInt16(nil, int16(len(cols)))
	for _, col := range cols {
		b = append(b, col.Name...)
		b = append(b, 0)
		b = pgio.AppendUint32(b, 0)           // table oid
		b = pgio.AppendInt16(b, 0)            // attnum
		b = pgio.AppendUint32(b, col.TypeOID) // type oid
		b = pgio.AppendInt16(b, col.TypeSize)
		b = pgio.AppendInt32(b, -1) // typmod
		b = pgio.AppendInt16(b, col.Format)
	}
	return b
}

func buildDataRow(values [][]byte) []byte {
	b := pgio.AppendInt16(nil, int16(len(values)))
	for _, v := range values {
		if v == nil {
			b = pgio.AppendInt32(b, -1)
			continue
		}
		b = pgio.AppendInt32(b, int32(len(v)))
		b = append(b, v...)
	}
	return b
}

func buildErrorFields(severity, code, message string) []byte {
	var b []byte
	b = append(b, 'S')
	b = append(b, severity...)
	b = append(b, 0)
	b = append(b, 'V')
	b = append(b, severity...)
	b = append(b, 0)
	b = append(b, 'C')
	b = append(b, code...)
	b = append(b, 0)
	b = append(b, 'M')
	b = append(b, message...)
	b = append(b, 0)
	return append(b, 0)
}
