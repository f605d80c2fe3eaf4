package arrowpg

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
)

// CodeInternalError is the SQLSTATE attached to every error raised by this package.
const CodeInternalError = "XX000"

// Error severities used in user-facing errors.
const (
	SeverityError = "ERROR"
	SeverityFatal = "FATAL"
)

func userError(format string, args ...any) *pgconn.PgError {
	return &pgconn.PgError{
		Severity: SeverityError,
		Code:     CodeInternalError,
		Message:  fmt.Sprintf(format, args...),
	}
}

func fatalError(format string, args ...any) *pgconn.PgError {
	return &pgconn.PgError{
		Severity: SeverityFatal,
		Code:     CodeInternalError,
		Message:  fmt.Sprintf(format, args...),
	}
}

func unsupportedTypeError(dt arrow.DataType) *pgconn.PgError {
	return userError("Unsupported Datatype %s", dt)
}

func unsupportedListTypeError(elem arrow.DataType) *pgconn.PgError {
	return userError("Unsupported List Datatype %s", elem)
}

// APIError reports a failure raised by the query engine side: an upstream
// batch reader error or a time zone the engine handed over that cannot be
// resolved.
type APIError struct {
	Op  string // What was being done, e.g. "read batch"
	Err error  // The underlying error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ParameterError reports a bound parameter whose payload could not be decoded
// as its wire type.
type ParameterError struct {
	Index int    // Zero-based parameter position
	OID   uint32 // Wire type the payload was decoded as
	Err   error  // The underlying error
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameter $%d (oid %d): %v", e.Index+1, e.OID, e.Err)
}

func (e *ParameterError) Unwrap() error {
	return e.Err
}

// ErrorResponse converts an error into the message sent to the client.
// A *pgconn.PgError anywhere in the chain keeps its severity, code and
// message; anything else becomes ERROR XX000 with the error text.
func ErrorResponse(err error) *pgproto3.ErrorResponse {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &pgproto3.ErrorResponse{
			Severity:            pgErr.Severity,
			SeverityUnlocalized: pgErr.Severity,
			Code:                pgErr.Code,
			Message:             pgErr.Message,
			Detail:              pgErr.Detail,
			Hint:                pgErr.Hint,
		}
	}
	return &pgproto3.ErrorResponse{
		Severity:            SeverityError,
		SeverityUnlocalized: SeverityError,
		Code:                CodeInternalError,
		Message:             err.Error(),
	}
}
