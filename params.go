package arrowpg

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/scalar"
	"github.com/jackc/pgx/v5/pgtype"
)

// ParameterSource exposes the parameters bound to a portal.
type ParameterSource interface {
	// ParameterCount returns the number of bound parameters.
	ParameterCount() int
	// ParameterType returns the type the client declared for parameter i,
	// or 0 if it declared none.
	ParameterType(i int) uint32
	// Parameter returns the payload of parameter i and its format code.
	// A nil payload is SQL NULL.
	Parameter(i int) ([]byte, int16)
}

var errInfinite = errors.New("infinite values are not supported")

// DecodeParameters decodes every parameter of src into an engine scalar.
//
// The wire type of parameter i is the type the client declared, or else the
// type the engine inferred for it (inferred[i], nil when unknown). A
// parameter with neither fails the whole call with a FATAL error. Only the
// first failing parameter is reported.
func DecodeParameters(src ParameterSource, inferred []arrow.DataType, opts ...Option) ([]scalar.Scalar, error) {
	cfg := newConfig(opts)
	n := src.ParameterCount()
	out := make([]scalar.Scalar, 0, n)
	for i := range n {
		oid, err := parameterOID(src, inferred, i)
		if err != nil {
			return nil, err
		}
		payload, format := src.Parameter(i)
		sc, err := decodeParameter(cfg.typeMap, oid, format, payload)
		if err != nil {
			var perr *ParameterError
			if errors.As(err, &perr) {
				perr.Index = i
			}
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

// parameterOID picks the wire type of parameter i. UNKNOWN as a declared
// type means the client left the choice to the server.
func parameterOID(src ParameterSource, inferred []arrow.DataType, i int) (uint32, error) {
	if oid := src.ParameterType(i); oid != 0 && oid != pgtype.UnknownOID {
		return oid, nil
	}
	if i < len(inferred) && inferred[i] != nil {
		return MapType(inferred[i])
	}
	return 0, fatalError("Unknown parameter type")
}

var (
	timestampParamType  = &arrow.TimestampType{Unit: arrow.Microsecond}
	binaryParamType     = arrow.BinaryTypes.Binary
	parameterArrowTypes = map[uint32]arrow.DataType{
		pgtype.BoolOID:        arrow.FixedWidthTypes.Boolean,
		pgtype.QCharOID:       arrow.PrimitiveTypes.Int8,
		pgtype.Int2OID:        arrow.PrimitiveTypes.Int16,
		pgtype.Int4OID:        arrow.PrimitiveTypes.Int32,
		pgtype.Int8OID:        arrow.PrimitiveTypes.Int64,
		pgtype.Float4OID:      arrow.PrimitiveTypes.Float32,
		pgtype.Float8OID:      arrow.PrimitiveTypes.Float64,
		pgtype.TextOID:        arrow.BinaryTypes.String,
		pgtype.VarcharOID:     arrow.BinaryTypes.String,
		pgtype.ByteaOID:       binaryParamType,
		pgtype.TimestampOID:   timestampParamType,
		pgtype.TimestamptzOID: timestampParamType,
		pgtype.DateOID:        arrow.FixedWidthTypes.Date32,
	}
)

func decodeParameter(m *pgtype.Map, oid uint32, format int16, payload []byte) (scalar.Scalar, error) {
	dt, ok := parameterArrowTypes[oid]
	if !ok {
		return nil, userError("Unsupported parameter type: %s", typeName(m, oid))
	}
	if payload == nil {
		return scalar.MakeNullScalar(dt), nil
	}

	scan := func(dst any) error {
		if err := m.Scan(oid, format, payload, dst); err != nil {
			return &ParameterError{OID: oid, Err: err}
		}
		return nil
	}

	switch oid {
	case pgtype.BoolOID:
		var v bool
		if err := scan(&v); err != nil {
			return nil, err
		}
		return scalar.NewBooleanScalar(v), nil
	case pgtype.QCharOID:
		var v byte
		if err := scan(&v); err != nil {
			return nil, err
		}
		return scalar.NewInt8Scalar(int8(v)), nil
	case pgtype.Int2OID:
		var v int16
		if err := scan(&v); err != nil {
			return nil, err
		}
		return scalar.NewInt16Scalar(v), nil
	case pgtype.Int4OID:
		var v int32
		if err := scan(&v); err != nil {
			return nil, err
		}
		return scalar.NewInt32Scalar(v), nil
	case pgtype.Int8OID:
		var v int64
		if err := scan(&v); err != nil {
			return nil, err
		}
		return scalar.NewInt64Scalar(v), nil
	case pgtype.Float4OID:
		var v float32
		if err := scan(&v); err != nil {
			return nil, err
		}
		return scalar.NewFloat32Scalar(v), nil
	case pgtype.Float8OID:
		var v float64
		if err := scan(&v); err != nil {
			return nil, err
		}
		return scalar.NewFloat64Scalar(v), nil
	case pgtype.TextOID, pgtype.VarcharOID:
		var v string
		if err := scan(&v); err != nil {
			return nil, err
		}
		return scalar.NewStringScalar(v), nil
	case pgtype.ByteaOID:
		var v []byte
		if err := scan(&v); err != nil {
			return nil, err
		}
		return scalar.NewBinaryScalar(memory.NewBufferBytes(v), binaryParamType), nil
	case pgtype.TimestampOID:
		var v pgtype.Timestamp
		if err := scan(&v); err != nil {
			return nil, err
		}
		if v.InfinityModifier != pgtype.Finite {
			return nil, &ParameterError{OID: oid, Err: errInfinite}
		}
		return scalar.NewTimestampScalar(arrow.Timestamp(v.Time.UnixMicro()), timestampParamType), nil
	case pgtype.TimestamptzOID:
		var v pgtype.Timestamptz
		if err := scan(&v); err != nil {
			return nil, err
		}
		if v.InfinityModifier != pgtype.Finite {
			return nil, &ParameterError{OID: oid, Err: errInfinite}
		}
		t := v.Time
		if format == pgtype.BinaryFormatCode {
			// The binary form is a bare instant.
			t = t.UTC()
		}
		_, off := t.Zone()
		zoned := &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: formatOffset(off)}
		return scalar.NewTimestampScalar(arrow.Timestamp(t.UnixMicro()), zoned), nil
	case pgtype.DateOID:
		var v pgtype.Date
		if err := scan(&v); err != nil {
			return nil, err
		}
		if v.InfinityModifier != pgtype.Finite {
			return nil, &ParameterError{OID: oid, Err: errInfinite}
		}
		return scalar.NewDate32Scalar(arrow.Date32FromTime(v.Time)), nil
	default:
		return nil, fmt.Errorf("no decoder for oid %d", oid)
	}
}
