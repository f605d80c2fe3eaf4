package arrowpg

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
)

// NewTypeMap returns a pgtype.Map whose text encoding of timestamptz keeps
// the offset of the value instead of converting to the local zone, and whose
// text "char" escapes bytes that are not valid UTF-8 the way PostgreSQL does.
func NewTypeMap() *pgtype.Map {
	m := pgtype.NewMap()
	tz := &pgtype.Type{Name: "timestamptz", OID: pgtype.TimestamptzOID, Codec: &offsetTimestamptzCodec{}}
	m.RegisterType(tz)
	m.RegisterType(&pgtype.Type{Name: "_timestamptz", OID: pgtype.TimestamptzArrayOID, Codec: &pgtype.ArrayCodec{ElementType: tz}})
	qchar := &pgtype.Type{Name: "char", OID: pgtype.QCharOID, Codec: &escapedQCharCodec{}}
	m.RegisterType(qchar)
	m.RegisterType(&pgtype.Type{Name: "_char", OID: pgtype.QCharArrayOID, Codec: &pgtype.ArrayCodec{ElementType: qchar}})
	return m
}

type offsetTimestamptzCodec struct {
	pgtype.TimestamptzCodec
}

func (c *offsetTimestamptzCodec) PlanEncode(m *pgtype.Map, oid uint32, format int16, value any) pgtype.EncodePlan {
	if format == pgtype.TextFormatCode {
		if _, ok := value.(pgtype.Timestamptz); ok {
			return encodePlanTimestamptzOffsetText{}
		}
	}
	return c.TimestamptzCodec.PlanEncode(m, oid, format, value)
}

type encodePlanTimestamptzOffsetText struct{}

func (encodePlanTimestamptzOffsetText) Encode(value any, buf []byte) ([]byte, error) {
	ts := value.(pgtype.Timestamptz)
	if !ts.Valid {
		return nil, nil
	}

	switch ts.InfinityModifier {
	case pgtype.Infinity:
		return append(buf, "infinity"...), nil
	case pgtype.NegativeInfinity:
		return append(buf, "-infinity"...), nil
	}

	t := ts.Time.Truncate(time.Microsecond)
	bc := false
	if t.Year() <= 0 {
		// 0000-01-01 is 1 BC
		t = t.AddDate(-t.Year()*2+1, 0, 0)
		bc = true
	}
	layout := "2006-01-02 15:04:05.999999-07:00"
	if _, off := t.Zone(); off%60 != 0 {
		layout = "2006-01-02 15:04:05.999999-07:00:00"
	}
	buf = t.AppendFormat(buf, layout)
	if bc {
		buf = append(buf, " BC"...)
	}
	return buf, nil
}

// escapedQCharCodec is QCharCodec with PostgreSQL's text form: bytes with the
// high bit set are written as "\ooo" and the zero byte as an empty string.
type escapedQCharCodec struct {
	pgtype.QCharCodec
}

func (c *escapedQCharCodec) PlanEncode(m *pgtype.Map, oid uint32, format int16, value any) pgtype.EncodePlan {
	if format == pgtype.TextFormatCode {
		if _, ok := value.(byte); ok {
			return encodePlanQCharEscapedText{}
		}
	}
	return c.QCharCodec.PlanEncode(m, oid, format, value)
}

func (c *escapedQCharCodec) PlanScan(m *pgtype.Map, oid uint32, format int16, target any) pgtype.ScanPlan {
	if format == pgtype.TextFormatCode {
		if _, ok := target.(*byte); ok {
			return scanPlanQCharEscapedText{}
		}
	}
	return c.QCharCodec.PlanScan(m, oid, format, target)
}

type encodePlanQCharEscapedText struct{}

func (encodePlanQCharEscapedText) Encode(value any, buf []byte) ([]byte, error) {
	b := value.(byte)
	switch {
	case b == 0:
		return buf, nil
	case b >= 0x80:
		return append(buf, '\\', '0'+b>>6, '0'+(b>>3)&7, '0'+b&7), nil
	default:
		return append(buf, b), nil
	}
}

type scanPlanQCharEscapedText struct{}

func (scanPlanQCharEscapedText) Scan(src []byte, dst any) error {
	p := dst.(*byte)
	if src == nil {
		return fmt.Errorf("cannot scan NULL into %T", dst)
	}
	switch {
	case len(src) == 0:
		*p = 0
	case len(src) == 1:
		*p = src[0]
	case len(src) == 4 && src[0] == '\\' && isOctal(src[1]) && isOctal(src[2]) && isOctal(src[3]):
		*p = (src[1]-'0')<<6 | (src[2]-'0')<<3 | (src[3] - '0')
	default:
		return fmt.Errorf("invalid length for \"char\": %d", len(src))
	}
	return nil
}

func isOctal(c byte) bool {
	return c >= '0' && c <= '7'
}

// DataRowEncoder builds one DataRow. Fields are appended in column order
// into a single buffer which Finish slices into the row's values.
type DataRowEncoder struct {
	fields  []pgproto3.FieldDescription
	typeMap *pgtype.Map
	buf     []byte
	spans   []span
}

// span locates one field in the buffer; start < 0 marks NULL.
type span struct {
	start, end int
}

// NewDataRowEncoder returns an encoder for rows described by fields. The
// descriptors are read, never modified, and may be shared between encoders.
func NewDataRowEncoder(fields []pgproto3.FieldDescription, typeMap *pgtype.Map) *DataRowEncoder {
	return &DataRowEncoder{
		fields:  fields,
		typeMap: typeMap,
		// Non-nil so that an empty value is never mistaken for NULL.
		buf:   make([]byte, 0, 64),
		spans: make([]span, 0, len(fields)),
	}
}

// EncodeField appends the next field. nil appends NULL.
func (e *DataRowEncoder) EncodeField(value any) error {
	i := len(e.spans)
	if i >= len(e.fields) {
		return fmt.Errorf("too many fields: row has %d columns", len(e.fields))
	}
	if value == nil {
		e.spans = append(e.spans, span{start: -1})
		return nil
	}

	fd := e.fields[i]
	start := len(e.buf)
	buf, err := e.typeMap.Encode(fd.DataTypeOID, fd.Format, value, e.buf)
	if err != nil {
		return fmt.Errorf("encode field %q: %w", fd.Name, err)
	}
	if buf == nil {
		e.spans = append(e.spans, span{start: -1})
		return nil
	}
	e.buf = buf
	e.spans = append(e.spans, span{start: start, end: len(buf)})
	return nil
}

// Finish returns the row. Every column must have been encoded.
func (e *DataRowEncoder) Finish() (*pgproto3.DataRow, error) {
	if len(e.spans) != len(e.fields) {
		return nil, fmt.Errorf("incomplete row: %d of %d fields encoded", len(e.spans), len(e.fields))
	}
	values := make([][]byte, len(e.spans))
	for i, s := range e.spans {
		if s.start < 0 {
			continue
		}
		values[i] = e.buf[s.start:s.end:s.end]
	}
	return &pgproto3.DataRow{Values: values}, nil
}
