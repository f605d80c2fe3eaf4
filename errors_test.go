package arrowpg_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fwojciec/arrowpg"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestErrorResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		err          error
		wantSeverity string
		wantCode     string
		wantMessage  string
	}{
		{
			name:         "pg_error",
			err:          &pgconn.PgError{Severity: "FATAL", Code: "XX000", Message: "Unknown parameter type"},
			wantSeverity: "FATAL",
			wantCode:     "XX000",
			wantMessage:  "Unknown parameter type",
		},
		{
			name:         "wrapped_pg_error",
			err:          fmt.Errorf("bind: %w", &pgconn.PgError{Severity: "ERROR", Code: "22P02", Message: "bad input"}),
			wantSeverity: "ERROR",
			wantCode:     "22P02",
			wantMessage:  "bad input",
		},
		{
			name:         "api_error",
			err:          &arrowpg.APIError{Op: "read batch", Err: errors.New("gone")},
			wantSeverity: "ERROR",
			wantCode:     "XX000",
			wantMessage:  "read batch: gone",
		},
		{
			name:         "parameter_error",
			err:          &arrowpg.ParameterError{Index: 2, OID: 23, Err: errors.New("short")},
			wantSeverity: "ERROR",
			wantCode:     "XX000",
			wantMessage:  "invalid parameter $3 (oid 23): short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := arrowpg.ErrorResponse(tt.err)
			assert.Equal(t, tt.wantSeverity, msg.Severity)
			assert.Equal(t, tt.wantSeverity, msg.SeverityUnlocalized)
			assert.Equal(t, tt.wantCode, msg.Code)
			assert.Equal(t, tt.wantMessage, msg.Message)
		})
	}
}

func TestErrorsUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("cause")
	assert.ErrorIs(t, &arrowpg.APIError{Op: "x", Err: cause}, cause)
	assert.ErrorIs(t, &arrowpg.ParameterError{Err: cause}, cause)
}
