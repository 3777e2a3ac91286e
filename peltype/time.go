package peltype

import (
	"time"

	"github.com/pelicandb/pelican/pelio"
	"github.com/pelicandb/pelican/pelproto"
)

// PostgreSQL's binary date/time types count from 2000-01-01 rather than the
// Unix epoch.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

const microsecFromUnixEpochToY2K = 946684800 * 1000000

// DateHandler serves date (oid 1082): binary int32 days since 2000-01-01.
type DateHandler struct{}

func (DateHandler) OID() OID      { return DateOID }
func (DateHandler) Format() int16 { return pelproto.BinaryFormat }

func (h DateHandler) Length(v any) (int, error) {
	if _, ok := v.(time.Time); !ok {
		return 0, castErr(h.OID(), v, "not a time.Time")
	}
	return 4, nil
}

func (h DateHandler) Write(v any, buf *pelio.WriteBuffer) error {
	t, ok := v.(time.Time)
	if !ok {
		return castErr(h.OID(), v, "not a time.Time")
	}
	tUTC := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	days := int32(tUTC.Sub(pgEpoch).Hours() / 24)
	return buf.WriteInt32(days)
}

func (h DateHandler) Read(buf *pelio.ReadBuffer, length int, format int16) (any, error) {
	if format == pelproto.TextFormat {
		s, err := buf.ReadString(length)
		if err != nil {
			return nil, err
		}
		t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
		if err != nil {
			return nil, &CastError{OID: h.OID(), GoType: "string", Reason: err.Error()}
		}
		return t, nil
	}
	if length != 4 {
		return nil, castErrLen(h.OID(), length, 4)
	}
	days, err := buf.ReadInt32()
	if err != nil {
		return nil, err
	}
	return pgEpoch.AddDate(0, 0, int(days)), nil
}

// TimestampHandler serves timestamp without time zone (oid 1114): binary
// int64 microseconds since 2000-01-01.
type TimestampHandler struct{}

func (TimestampHandler) OID() OID      { return TimestampOID }
func (TimestampHandler) Format() int16 { return pelproto.BinaryFormat }

func (h TimestampHandler) Length(v any) (int, error) {
	if _, ok := v.(time.Time); !ok {
		return 0, castErr(h.OID(), v, "not a time.Time")
	}
	return 8, nil
}

func (h TimestampHandler) Write(v any, buf *pelio.WriteBuffer) error {
	return writeTimestampMicros(h.OID(), v, buf)
}

func (h TimestampHandler) Read(buf *pelio.ReadBuffer, length int, format int16) (any, error) {
	return readTimestampMicros(h.OID(), buf, length, format, "2006-01-02 15:04:05.999999")
}

// TimestamptzHandler serves timestamp with time zone (oid 1184). The wire
// value is UTC microseconds since 2000-01-01, identical to timestamp.
type TimestamptzHandler struct{}

func (TimestamptzHandler) OID() OID      { return TimestamptzOID }
func (TimestamptzHandler) Format() int16 { return pelproto.BinaryFormat }

func (h TimestamptzHandler) Length(v any) (int, error) {
	if _, ok := v.(time.Time); !ok {
		return 0, castErr(h.OID(), v, "not a time.Time")
	}
	return 8, nil
}

func (h TimestamptzHandler) Write(v any, buf *pelio.WriteBuffer) error {
	return writeTimestampMicros(h.OID(), v, buf)
}

func (h TimestamptzHandler) Read(buf *pelio.ReadBuffer, length int, format int16) (any, error) {
	return readTimestampMicros(h.OID(), buf, length, format, "2006-01-02 15:04:05.999999-07")
}

func writeTimestampMicros(oid OID, v any, buf *pelio.WriteBuffer) error {
	t, ok := v.(time.Time)
	if !ok {
		return castErr(oid, v, "not a time.Time")
	}
	micros := t.Unix()*1000000 + int64(t.Nanosecond())/1000 - microsecFromUnixEpochToY2K
	return buf.WriteInt64(micros)
}

func readTimestampMicros(oid OID, buf *pelio.ReadBuffer, length int, format int16, layout string) (any, error) {
	if format == pelproto.TextFormat {
		s, err := buf.ReadString(length)
		if err != nil {
			return nil, err
		}
		t, err := time.Parse(layout, s)
		if err != nil {
			return nil, &CastError{OID: oid, GoType: "string", Reason: err.Error()}
		}
		return t, nil
	}
	if length != 8 {
		return nil, castErrLen(oid, length, 8)
	}
	micros, err := buf.ReadInt64()
	if err != nil {
		return nil, err
	}
	micros += microsecFromUnixEpochToY2K
	return time.Unix(micros/1000000, (micros%1000000)*1000).UTC(), nil
}
