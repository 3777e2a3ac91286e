package pelproto

import (
	"github.com/pelicandb/pelican/pelio"
)

// FieldDescription describes one column of a result set.
type FieldDescription struct {
	Name                 string
	TableOID             uint32
	TableAttributeNumber uint16
	DataTypeOID          uint32
	DataTypeSize         int16
	TypeModifier         int32
	Format               int16
}

// RowDescription precedes the data rows of a result set.
type RowDescription struct {
	Fields []FieldDescription
}

func (*RowDescription) Backend() {}

func (dst *RowDescription) Decode(buf *pelio.ReadBuffer, bodyLen int) error {
	fieldCount, err := buf.ReadInt16()
	if err != nil {
		return err
	}
	if fieldCount < 0 {
		return protoErrf('T', "negative field count %d", fieldCount)
	}
	if cap(dst.Fields) >= int(fieldCount) {
		dst.Fields = dst.Fields[:fieldCount]
	} else {
		dst.Fields = make([]FieldDescription, fieldCount)
	}

	for i := range dst.Fields {
		fd := &dst.Fields[i]
		if fd.Name, err = buf.ReadCString(); err != nil {
			return err
		}
		if fd.TableOID, err = buf.ReadUint32(); err != nil {
			return err
		}
		if fd.TableAttributeNumber, err = buf.ReadUint16(); err != nil {
			return err
		}
		if fd.DataTypeOID, err = buf.ReadUint32(); err != nil {
			return err
		}
		if fd.DataTypeSize, err = buf.ReadInt16(); err != nil {
			return err
		}
		if fd.TypeModifier, err = buf.ReadInt32(); err != nil {
			return err
		}
		if fd.Format, err = buf.ReadInt16(); err != nil {
			return err
		}
	}
	return nil
}

// Copy returns a deep copy that survives flyweight reuse.
func (src *RowDescription) Copy() *RowDescription {
	fields := make([]FieldDescription, len(src.Fields))
	copy(fields, src.Fields)
	return &RowDescription{Fields: fields}
}
