package arrowpg

import "github.com/jackc/pgx/v5/pgtype"

// Format is a list of wire format codes as carried by a Bind message, for
// either parameters or result columns.
//
// No codes means every column is text, a single code applies to every
// column, otherwise code i applies to column i.
type Format struct {
	codes []int16
}

var (
	// TextFormat encodes every column as text.
	TextFormat = Format{}
	// BinaryFormat encodes every column as binary.
	BinaryFormat = Format{codes: []int16{pgtype.BinaryFormatCode}}
)

// NewFormat returns the policy described by codes. The slice is copied.
func NewFormat(codes []int16) Format {
	if len(codes) == 0 {
		return TextFormat
	}
	return Format{codes: append([]int16(nil), codes...)}
}

// FormatFor returns the format code of column i.
func (f Format) FormatFor(i int) int16 {
	switch {
	case len(f.codes) == 0:
		return pgtype.TextFormatCode
	case len(f.codes) == 1:
		return f.codes[0]
	case i < len(f.codes):
		return f.codes[i]
	default:
		return pgtype.TextFormatCode
	}
}
