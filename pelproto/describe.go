package pelproto

import (
	"github.com/pelicandb/pelican/pelio"
)

// Object type bytes for Describe and Close.
const (
	DescribeStatement = 'S'
	DescribePortal    = 'P'
)

// Describe requests a ParameterDescription and RowDescription (or NoData)
// for a prepared statement, or a RowDescription for a portal.
type Describe struct {
	ObjectType byte // DescribeStatement or DescribePortal
	Name       string
}

func (*Describe) Frontend() {}

func (src *Describe) Encode(buf *pelio.WriteBuffer) error {
	if err := writeHeader(buf, 'D', 1+len(src.Name)+1); err != nil {
		return err
	}
	if err := buf.WriteByte(src.ObjectType); err != nil {
		return err
	}
	return buf.WriteCString(src.Name)
}

// Close releases a server-side prepared statement or portal.
type Close struct {
	ObjectType byte // DescribeStatement or DescribePortal
	Name       string
}

func (*Close) Frontend() {}

func (src *Close) Encode(buf *pelio.WriteBuffer) error {
	if err := writeHeader(buf, 'C', 1+len(src.Name)+1); err != nil {
		return err
	}
	if err := buf.WriteByte(src.ObjectType); err != nil {
		return err
	}
	return buf.WriteCString(src.Name)
}
