package arrowpg

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// FieldEncoder receives one encoded field at a time. Values are one of nil
// (SQL NULL), bool, byte, int16, int32, int64, float32, float64,
// string, []byte, the pgtype date/time/interval structs, or a slice of one of
// those for array types.
type FieldEncoder interface {
	EncodeField(value any) error
}

// CellEncoder converts single Arrow cells into wire values.
// It holds no per-row state and may be shared across goroutines.
type CellEncoder struct {
	loadZone ZoneResolver
}

// NewCellEncoder returns a CellEncoder. Only WithZoneResolver applies.
func NewCellEncoder(opts ...Option) *CellEncoder {
	cfg := newConfig(opts)
	return &CellEncoder{loadZone: cfg.loadZone}
}

// EncodeCell writes the value at row of col to sink. The caller checks for
// nulls; the value at row is assumed to be present.
//
// Types outside the supported palette fail without writing to sink.
func (e *CellEncoder) EncodeCell(sink FieldEncoder, col arrow.Array, row int) error {
	value, err := e.cellValue(col, row)
	if err != nil {
		return err
	}
	return sink.EncodeField(value)
}

func (e *CellEncoder) cellValue(col arrow.Array, row int) (any, error) {
	switch c := col.(type) {
	case *array.Null:
		return nil, nil
	case *array.Boolean:
		return c.Value(row), nil

	// Integers keep their bit pattern at the wire width of their type.
	case *array.Int8:
		return byte(c.Value(row)), nil
	case *array.Uint8:
		return c.Value(row), nil
	case *array.Int16:
		return c.Value(row), nil
	case *array.Uint16:
		return int16(c.Value(row)), nil
	case *array.Int32:
		return c.Value(row), nil
	case *array.Uint32:
		return int32(c.Value(row)), nil
	case *array.Int64:
		return c.Value(row), nil
	case *array.Uint64:
		return int64(c.Value(row)), nil

	case *array.Float16:
		return c.Value(row).Float32(), nil
	case *array.Float32:
		return c.Value(row), nil
	case *array.Float64:
		return c.Value(row), nil

	case *array.String:
		return c.Value(row), nil
	case *array.LargeString:
		return c.Value(row), nil
	case *array.StringView:
		return c.Value(row), nil

	case *array.Binary:
		return nonNilBytes(c.Value(row)), nil
	case *array.LargeBinary:
		return nonNilBytes(c.Value(row)), nil
	case *array.FixedSizeBinary:
		return nonNilBytes(c.Value(row)), nil
	case *array.BinaryView:
		return nonNilBytes(c.Value(row)), nil

	case *array.Date32:
		return dateValue(c.Value(row).ToTime()), nil
	case *array.Date64:
		return dateValue(c.Value(row).ToTime()), nil
	case *array.Time32:
		if !validTimeUnit(c.DataType()) {
			return nil, unsupportedCellError(col)
		}
		return timeOfDay(int64(c.Value(row)), c.DataType().(*arrow.Time32Type).Unit), nil
	case *array.Time64:
		if !validTimeUnit(c.DataType()) {
			return nil, unsupportedCellError(col)
		}
		return timeOfDay(int64(c.Value(row)), c.DataType().(*arrow.Time64Type).Unit), nil
	case *array.Timestamp:
		return e.timestampCell(c, row)

	case *array.MonthInterval:
		return monthInterval(c.Value(row)), nil
	case *array.DayTimeInterval:
		return dayTimeInterval(c.Value(row)), nil
	case *array.MonthDayNanoInterval:
		return monthDayNanoInterval(c.Value(row)), nil

	case array.ListLike:
		return e.listValue(c, row)

	default:
		return nil, unsupportedCellError(col)
	}
}

func (e *CellEncoder) timestampCell(c *array.Timestamp, row int) (any, error) {
	dt := c.DataType().(*arrow.TimestampType)
	t := timestampInstant(c.Value(row), dt.Unit)
	if dt.TimeZone == "" {
		return timestampValue(t), nil
	}
	loc, err := e.resolveZone(dt.TimeZone)
	if err != nil {
		return nil, err
	}
	return timestamptzValue(inFixedZone(t, loc)), nil
}

// nonNilBytes keeps an empty binary value distinct from NULL. Arrow hands out
// nil for empty values when the data buffer is empty.
func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

const maxRenderedArray = 256

func unsupportedCellError(col arrow.Array) error {
	rendered := col.String()
	if len(rendered) > maxRenderedArray {
		rendered = rendered[:maxRenderedArray] + "..."
	}
	return userError("Unsupported Datatype %s and array %s", col.DataType(), rendered)
}
