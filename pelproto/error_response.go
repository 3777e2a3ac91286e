package pelproto

import (
	"strconv"

	"github.com/pelicandb/pelican/pelio"
)

// ErrorDetails carries the fields of an ErrorResponse or NoticeResponse.
// Every field the protocol defines is represented; absent fields are zero.
type ErrorDetails struct {
	Severity            string // S
	SeverityUnlocalized string // V
	Code                string // C: SQLSTATE
	Message             string // M
	Detail              string // D
	Hint                string // H
	Position            int32  // P
	InternalPosition    int32  // p
	InternalQuery       string // q
	Where               string // W
	SchemaName          string // s
	TableName           string // t
	ColumnName          string // c
	DataTypeName        string // d
	ConstraintName      string // n
	File                string // F
	Line                int32  // L
	Routine             string // R
}

func (dst *ErrorDetails) decode(buf *pelio.ReadBuffer) error {
	*dst = ErrorDetails{}
	for {
		fieldCode, err := buf.ReadByte()
		if err != nil {
			return err
		}
		if fieldCode == 0 {
			return nil
		}
		value, err := buf.ReadCString()
		if err != nil {
			return err
		}

		switch fieldCode {
		case 'S':
			dst.Severity = value
		case 'V':
			dst.SeverityUnlocalized = value
		case 'C':
			dst.Code = value
		case 'M':
			dst.Message = value
		case 'D':
			dst.Detail = value
		case 'H':
			dst.Hint = value
		case 'P':
			dst.Position = parseInt32(value)
		case 'p':
			dst.InternalPosition = parseInt32(value)
		case 'q':
			dst.InternalQuery = value
		case 'W':
			dst.Where = value
		case 's':
			dst.SchemaName = value
		case 't':
			dst.TableName = value
		case 'c':
			dst.ColumnName = value
		case 'd':
			dst.DataTypeName = value
		case 'n':
			dst.ConstraintName = value
		case 'F':
			dst.File = value
		case 'L':
			dst.Line = parseInt32(value)
		case 'R':
			dst.Routine = value
		default:
			// Future field codes are ignored, per the protocol's guidance.
		}
	}
}

func parseInt32(s string) int32 {
	n, _ := strconv.ParseInt(s, 10, 32)
	return int32(n)
}

// ErrorResponse reports a server error. After an error inside an
// extended-query pipeline the server skips to the next Sync.
type ErrorResponse struct {
	ErrorDetails
}

func (*ErrorResponse) Backend() {}

func (dst *ErrorResponse) Decode(buf *pelio.ReadBuffer, bodyLen int) error {
	return dst.ErrorDetails.decode(buf)
}

// NoticeResponse carries a warning or informational message. It shares the
// ErrorResponse field layout and never terminates a command.
type NoticeResponse struct {
	ErrorDetails
}

func (*NoticeResponse) Backend() {}

func (dst *NoticeResponse) Decode(buf *pelio.ReadBuffer, bodyLen int) error {
	return dst.ErrorDetails.decode(buf)
}
