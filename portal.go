package arrowpg

import "github.com/jackc/pgx/v5/pgproto3"

// Portal holds the parameters of a bound statement. It implements
// ParameterSource.
type Portal struct {
	ParameterOIDs []uint32
	Formats       Format
	Parameters    [][]byte
}

var _ ParameterSource = (*Portal)(nil)

// NewPortal combines the declared parameter types of parse with the values
// of bind. Payloads are copied because pgproto3 reuses its read buffer for
// the next message.
func NewPortal(parse *pgproto3.Parse, bind *pgproto3.Bind) *Portal {
	p := &Portal{
		Formats:    NewFormat(bind.ParameterFormatCodes),
		Parameters: make([][]byte, len(bind.Parameters)),
	}
	if parse != nil {
		p.ParameterOIDs = append([]uint32(nil), parse.ParameterOIDs...)
	}
	for i, v := range bind.Parameters {
		if v != nil {
			p.Parameters[i] = append([]byte{}, v...)
		}
	}
	return p
}

// ParameterCount returns the number of bound values.
func (p *Portal) ParameterCount() int {
	return len(p.Parameters)
}

// ParameterType returns the declared OID of parameter i, 0 when the
// statement left it undeclared.
func (p *Portal) ParameterType(i int) uint32 {
	if i < len(p.ParameterOIDs) {
		return p.ParameterOIDs[i]
	}
	return 0
}

// Parameter returns the payload of parameter i and its format code. A nil
// payload is NULL.
func (p *Portal) Parameter(i int) ([]byte, int16) {
	return p.Parameters[i], p.Formats.FormatFor(i)
}
