package arrowpg

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/jackc/pgx/v5/pgtype"
)

// listValue collects the elements of one list cell into an owned slice.
// Null elements become nil pointers, nil byte slices or invalid pgtype values.
func (e *CellEncoder) listValue(c array.ListLike, row int) (any, error) {
	switch c.DataType().(type) {
	case *arrow.ListType, *arrow.LargeListType, *arrow.FixedSizeListType:
	default:
		return nil, unsupportedCellError(c)
	}

	start, end := c.ValueOffsets(row)
	switch v := c.ListValues().(type) {
	case *array.Boolean:
		return collect(v, start, end, v.Value), nil

	case *array.Int8:
		return collect(v, start, end, func(i int) byte { return byte(v.Value(i)) }), nil
	case *array.Uint8:
		return collect(v, start, end, v.Value), nil
	case *array.Int16:
		return collect(v, start, end, v.Value), nil
	case *array.Uint16:
		return collect(v, start, end, func(i int) int16 { return int16(v.Value(i)) }), nil
	case *array.Int32:
		return collect(v, start, end, v.Value), nil
	case *array.Uint32:
		return collect(v, start, end, func(i int) int32 { return int32(v.Value(i)) }), nil
	case *array.Int64:
		return collect(v, start, end, v.Value), nil
	case *array.Uint64:
		return collect(v, start, end, func(i int) int64 { return int64(v.Value(i)) }), nil

	case *array.Float16:
		return collect(v, start, end, func(i int) float32 { return v.Value(i).Float32() }), nil
	case *array.Float32:
		return collect(v, start, end, v.Value), nil
	case *array.Float64:
		return collect(v, start, end, v.Value), nil

	case *array.String:
		return collect(v, start, end, v.Value), nil
	case *array.LargeString:
		return collect(v, start, end, v.Value), nil
	case *array.StringView:
		return collect(v, start, end, v.Value), nil

	case *array.Binary:
		return collectBytes(v, start, end, v.Value), nil
	case *array.LargeBinary:
		return collectBytes(v, start, end, v.Value), nil
	case *array.FixedSizeBinary:
		return collectBytes(v, start, end, v.Value), nil
	case *array.BinaryView:
		return collectBytes(v, start, end, v.Value), nil

	case *array.Date32:
		return collectValid(v, start, end, func(i int) pgtype.Date { return dateValue(v.Value(i).ToTime()) }), nil
	case *array.Date64:
		return collectValid(v, start, end, func(i int) pgtype.Date { return dateValue(v.Value(i).ToTime()) }), nil
	case *array.Time32:
		if !validTimeUnit(v.DataType()) {
			return nil, unsupportedListCellError(c)
		}
		unit := v.DataType().(*arrow.Time32Type).Unit
		return collectValid(v, start, end, func(i int) pgtype.Time { return timeOfDay(int64(v.Value(i)), unit) }), nil
	case *array.Time64:
		if !validTimeUnit(v.DataType()) {
			return nil, unsupportedListCellError(c)
		}
		unit := v.DataType().(*arrow.Time64Type).Unit
		return collectValid(v, start, end, func(i int) pgtype.Time { return timeOfDay(int64(v.Value(i)), unit) }), nil
	case *array.Timestamp:
		return e.timestampList(v, start, end)

	case *array.MonthInterval:
		return collectValid(v, start, end, func(i int) pgtype.Interval { return monthInterval(v.Value(i)) }), nil
	case *array.DayTimeInterval:
		return collectValid(v, start, end, func(i int) pgtype.Interval { return dayTimeInterval(v.Value(i)) }), nil
	case *array.MonthDayNanoInterval:
		return collectValid(v, start, end, func(i int) pgtype.Interval { return monthDayNanoInterval(v.Value(i)) }), nil

	default:
		return nil, unsupportedListCellError(c)
	}
}

func (e *CellEncoder) timestampList(v *array.Timestamp, start, end int64) (any, error) {
	dt := v.DataType().(*arrow.TimestampType)
	if dt.TimeZone == "" {
		return collectValid(v, start, end, func(i int) pgtype.Timestamp {
			return timestampValue(timestampInstant(v.Value(i), dt.Unit))
		}), nil
	}
	loc, err := e.resolveZone(dt.TimeZone)
	if err != nil {
		return nil, err
	}
	return collectValid(v, start, end, func(i int) pgtype.Timestamptz {
		return timestamptzValue(inFixedZone(timestampInstant(v.Value(i), dt.Unit), loc))
	}), nil
}

func collect[T any](values arrow.Array, start, end int64, value func(int) T) []*T {
	out := make([]*T, 0, end-start)
	for i := int(start); i < int(end); i++ {
		if values.IsNull(i) {
			out = append(out, nil)
			continue
		}
		v := value(i)
		out = append(out, &v)
	}
	return out
}

func collectBytes(values arrow.Array, start, end int64, value func(int) []byte) [][]byte {
	out := make([][]byte, 0, end-start)
	for i := int(start); i < int(end); i++ {
		if values.IsNull(i) {
			out = append(out, nil)
			continue
		}
		out = append(out, nonNilBytes(value(i)))
	}
	return out
}

// collectValid is collect for pgtype values, which carry their own validity.
func collectValid[T any](values arrow.Array, start, end int64, value func(int) T) []T {
	out := make([]T, end-start)
	for i := int(start); i < int(end); i++ {
		if !values.IsNull(i) {
			out[i-int(start)] = value(i)
		}
	}
	return out
}

func unsupportedListCellError(c array.ListLike) error {
	rendered := c.String()
	if len(rendered) > maxRenderedArray {
		rendered = rendered[:maxRenderedArray] + "..."
	}
	return userError("Unsupported List Datatype %s and array %s", c.ListValues().DataType(), rendered)
}
