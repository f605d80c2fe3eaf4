package arrowpg

import (
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/jackc/pgx/v5/pgtype"
)

// arrayOIDs maps every scalar wire type that has an array form to that form.
var arrayOIDs = map[uint32]uint32{
	pgtype.BoolOID:        pgtype.BoolArrayOID,
	pgtype.QCharOID:       pgtype.QCharArrayOID,
	pgtype.Int2OID:        pgtype.Int2ArrayOID,
	pgtype.Int4OID:        pgtype.Int4ArrayOID,
	pgtype.Int8OID:        pgtype.Int8ArrayOID,
	pgtype.Float4OID:      pgtype.Float4ArrayOID,
	pgtype.Float8OID:      pgtype.Float8ArrayOID,
	pgtype.VarcharOID:     pgtype.VarcharArrayOID,
	pgtype.TextOID:        pgtype.TextArrayOID,
	pgtype.ByteaOID:       pgtype.ByteaArrayOID,
	pgtype.DateOID:        pgtype.DateArrayOID,
	pgtype.TimeOID:        pgtype.TimeArrayOID,
	pgtype.TimestampOID:   pgtype.TimestampArrayOID,
	pgtype.TimestamptzOID: pgtype.TimestamptzArrayOID,
	pgtype.IntervalOID:    pgtype.IntervalArrayOID,
}

// elementOIDs is the inverse of arrayOIDs.
var elementOIDs = func() map[uint32]uint32 {
	m := make(map[uint32]uint32, len(arrayOIDs))
	for elem, arr := range arrayOIDs {
		m[arr] = elem
	}
	return m
}()

// MapType returns the PostgreSQL type OID used on the wire for an Arrow data type.
//
// Integers of width 8 map to "char", 16 to int2, 32 to int4 and 64 to int8
// regardless of signedness. Timestamps map to timestamptz when they carry a
// time zone and to timestamp otherwise. Lists of a supported scalar map to the
// array form of the scalar's type; lists of lists are rejected.
//
// Unsupported types return a *pgconn.PgError with severity ERROR and code XX000.
func MapType(dt arrow.DataType) (uint32, error) {
	switch t := dt.(type) {
	case *arrow.ListType:
		return mapListType(t.Elem())
	case *arrow.LargeListType:
		return mapListType(t.Elem())
	case *arrow.FixedSizeListType:
		return mapListType(t.Elem())
	}

	oid, ok := scalarOID(dt)
	if !ok {
		return 0, unsupportedTypeError(dt)
	}
	return oid, nil
}

func mapListType(elem arrow.DataType) (uint32, error) {
	oid, ok := scalarOID(elem)
	if !ok {
		return 0, unsupportedListTypeError(elem)
	}
	arrayOID, ok := ArrayOID(oid)
	if !ok {
		return 0, unsupportedListTypeError(elem)
	}
	return arrayOID, nil
}

// scalarOID maps the non-nested part of the palette.
func scalarOID(dt arrow.DataType) (uint32, bool) {
	switch dt.ID() {
	case arrow.NULL:
		return pgtype.UnknownOID, true
	case arrow.BOOL:
		return pgtype.BoolOID, true
	case arrow.INT8, arrow.UINT8:
		return pgtype.QCharOID, true
	case arrow.INT16, arrow.UINT16:
		return pgtype.Int2OID, true
	case arrow.INT32, arrow.UINT32:
		return pgtype.Int4OID, true
	case arrow.INT64, arrow.UINT64:
		return pgtype.Int8OID, true
	case arrow.FLOAT16, arrow.FLOAT32:
		return pgtype.Float4OID, true
	case arrow.FLOAT64:
		return pgtype.Float8OID, true
	case arrow.STRING:
		return pgtype.VarcharOID, true
	case arrow.LARGE_STRING, arrow.STRING_VIEW:
		return pgtype.TextOID, true
	case arrow.BINARY, arrow.LARGE_BINARY, arrow.FIXED_SIZE_BINARY, arrow.BINARY_VIEW:
		return pgtype.ByteaOID, true
	case arrow.DATE32, arrow.DATE64:
		return pgtype.DateOID, true
	case arrow.TIME32, arrow.TIME64:
		if !validTimeUnit(dt) {
			return 0, false
		}
		return pgtype.TimeOID, true
	case arrow.TIMESTAMP:
		if dt.(*arrow.TimestampType).TimeZone != "" {
			return pgtype.TimestamptzOID, true
		}
		return pgtype.TimestampOID, true
	case arrow.INTERVAL_MONTHS, arrow.INTERVAL_DAY_TIME, arrow.INTERVAL_MONTH_DAY_NANO:
		return pgtype.IntervalOID, true
	default:
		return 0, false
	}
}

// validTimeUnit reports whether a time-of-day type uses a unit its width can
// hold: seconds or milliseconds for Time32, micro- or nanoseconds for Time64.
func validTimeUnit(dt arrow.DataType) bool {
	switch t := dt.(type) {
	case *arrow.Time32Type:
		return t.Unit == arrow.Second || t.Unit == arrow.Millisecond
	case *arrow.Time64Type:
		return t.Unit == arrow.Microsecond || t.Unit == arrow.Nanosecond
	default:
		return false
	}
}

// ArrayOID returns the array form of a scalar wire type.
func ArrayOID(elem uint32) (uint32, bool) {
	oid, ok := arrayOIDs[elem]
	return oid, ok
}

// CanonicalType returns the Arrow type that represents a wire type, such that
// MapType(CanonicalType(oid)) == oid for every OID MapType can produce.
func CanonicalType(oid uint32) (arrow.DataType, error) {
	if elem, ok := elementOIDs[oid]; ok {
		elemType, err := CanonicalType(elem)
		if err != nil {
			return nil, err
		}
		return arrow.ListOf(elemType), nil
	}

	switch oid {
	case pgtype.UnknownOID:
		return arrow.Null, nil
	case pgtype.BoolOID:
		return arrow.FixedWidthTypes.Boolean, nil
	case pgtype.QCharOID:
		return arrow.PrimitiveTypes.Int8, nil
	case pgtype.Int2OID:
		return arrow.PrimitiveTypes.Int16, nil
	case pgtype.Int4OID:
		return arrow.PrimitiveTypes.Int32, nil
	case pgtype.Int8OID:
		return arrow.PrimitiveTypes.Int64, nil
	case pgtype.Float4OID:
		return arrow.PrimitiveTypes.Float32, nil
	case pgtype.Float8OID:
		return arrow.PrimitiveTypes.Float64, nil
	case pgtype.VarcharOID:
		return arrow.BinaryTypes.String, nil
	case pgtype.TextOID:
		return arrow.BinaryTypes.LargeString, nil
	case pgtype.ByteaOID:
		return arrow.BinaryTypes.Binary, nil
	case pgtype.DateOID:
		return arrow.FixedWidthTypes.Date32, nil
	case pgtype.TimeOID:
		return arrow.FixedWidthTypes.Time64us, nil
	case pgtype.TimestampOID:
		return &arrow.TimestampType{Unit: arrow.Microsecond}, nil
	case pgtype.TimestamptzOID:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, nil
	case pgtype.IntervalOID:
		return arrow.FixedWidthTypes.MonthDayNanoInterval, nil
	default:
		return nil, userError("Unsupported PostgreSQL type OID: %d", oid)
	}
}

// TypeSize returns the fixed on-wire width of a type as reported in a
// RowDescription, -1 for variable-length types and -2 for unknown.
func TypeSize(oid uint32) int16 {
	switch oid {
	case pgtype.BoolOID, pgtype.QCharOID:
		return 1
	case pgtype.Int2OID:
		return 2
	case pgtype.Int4OID, pgtype.Float4OID, pgtype.DateOID:
		return 4
	case pgtype.Int8OID, pgtype.Float8OID, pgtype.TimeOID, pgtype.TimestampOID, pgtype.TimestamptzOID:
		return 8
	case pgtype.IntervalOID:
		return 16
	case pgtype.UnknownOID:
		return -2
	default:
		return -1
	}
}

// typeName renders a wire type for error messages.
func typeName(m *pgtype.Map, oid uint32) string {
	if t, ok := m.TypeForOID(oid); ok {
		return t.Name
	}
	if oid == pgtype.UnknownOID {
		return "unknown"
	}
	return "oid " + strconv.FormatUint(uint64(oid), 10)
}
