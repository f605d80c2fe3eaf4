package pgserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/scalar"
	"github.com/dustin/go-humanize"
	"github.com/fwojciec/arrowpg"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	serverVersion = "16.0 (arrowpg)"

	// flushEvery bounds how many DataRows are buffered before a flush.
	flushEvery = 256
)

const (
	codeInvalidPassword   = "28P01"
	codeInvalidStatement  = "26000"
	codeInvalidCursor     = "34000"
	codeProtocolViolation = "08P01"
)

var errCancelRequest = errors.New("cancel request")

type statement struct {
	sql        string
	paramOIDs  []uint32
	paramTypes []arrow.DataType
	schema     *arrow.Schema
}

type portal struct {
	stmt   *statement
	params []scalar.Scalar
	format arrowpg.Format

	enc     *arrowpg.ResultEncoder
	next    func() (*pgproto3.DataRow, error, bool)
	stop    func()
	release func()
}

func (p *portal) close() {
	if p.stop != nil {
		p.stop()
	}
	if p.release != nil {
		p.release()
	}
	p.next, p.stop, p.release = nil, nil, nil
}

// session is the state of one client connection.
type session struct {
	srv     *Server
	conn    net.Conn
	backend *pgproto3.Backend
	logger  *slog.Logger
	typeMap *pgtype.Map

	user       string
	statements map[string]*statement
	portals    map[string]*portal

	// skipToSync is set after an error in the extended protocol; messages
	// are discarded until the next Sync.
	skipToSync bool
}

func newSession(srv *Server, conn net.Conn) *session {
	return &session{
		srv:     srv,
		conn:    conn,
		backend: pgproto3.NewBackend(conn, conn),
		logger: srv.logger.With(
			slog.String("conn", uuid.NewString()),
			slog.String("remote", conn.RemoteAddr().String()),
		),
		typeMap:    srv.cfg.TypeMap(),
		statements: make(map[string]*statement),
		portals:    make(map[string]*portal),
	}
}

func (s *session) options() []arrowpg.Option {
	return []arrowpg.Option{arrowpg.WithTypeMap(s.typeMap), arrowpg.WithLogger(s.logger)}
}

func (s *session) run(ctx context.Context) error {
	defer s.closePortals()

	if err := s.startup(); err != nil {
		if errors.Is(err, errCancelRequest) || errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	for {
		msg, err := s.backend.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		if s.skipToSync {
			if _, ok := msg.(*pgproto3.Sync); !ok {
				continue
			}
		}

		switch msg := msg.(type) {
		case *pgproto3.Query:
			err = s.simpleQuery(ctx, msg.String)
		case *pgproto3.Parse:
			err = s.extended(s.parse(ctx, msg))
		case *pgproto3.Bind:
			err = s.extended(s.bind(msg))
		case *pgproto3.Describe:
			err = s.extended(s.describe(ctx, msg))
		case *pgproto3.Execute:
			err = s.extended(s.execute(ctx, msg))
		case *pgproto3.Close:
			err = s.extended(s.closeObject(msg))
		case *pgproto3.Sync:
			s.skipToSync = false
			s.closePortals()
			s.backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
			err = s.flush()
		case *pgproto3.Flush:
			err = s.flush()
		case *pgproto3.Terminate:
			return nil
		default:
			err = s.extended(protocolError("unsupported message type %T", msg))
		}
		if err != nil {
			return err
		}
	}
}

func (s *session) startup() error {
	for {
		msg, err := s.backend.ReceiveStartupMessage()
		if err != nil {
			return fmt.Errorf("receive startup message: %w", err)
		}

		switch msg := msg.(type) {
		case *pgproto3.SSLRequest, *pgproto3.GSSEncRequest:
			if _, err := s.conn.Write([]byte{'N'}); err != nil {
				return fmt.Errorf("refuse encryption: %w", err)
			}
		case *pgproto3.CancelRequest:
			return errCancelRequest
		case *pgproto3.StartupMessage:
			s.user = msg.Parameters["user"]
			s.logger = s.logger.With(slog.String("user", s.user))
			if err := s.authenticate(); err != nil {
				return err
			}
			s.backend.Send(&pgproto3.AuthenticationOk{})
			for _, ps := range []pgproto3.ParameterStatus{
				{Name: "server_version", Value: serverVersion},
				{Name: "server_encoding", Value: "UTF8"},
				{Name: "client_encoding", Value: "UTF8"},
				{Name: "DateStyle", Value: "ISO, MDY"},
				{Name: "TimeZone", Value: "UTC"},
				{Name: "integer_datetimes", Value: "on"},
				{Name: "standard_conforming_strings", Value: "on"},
			} {
				s.backend.Send(&ps)
			}
			s.backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
			return s.flush()
		default:
			return fmt.Errorf("unexpected startup message %T", msg)
		}
	}
}

func (s *session) authenticate() error {
	if s.srv.cfg.JWTSecret == "" {
		return nil
	}
	s.backend.Send(&pgproto3.AuthenticationCleartextPassword{})
	if err := s.backend.Flush(); err != nil {
		return err
	}
	if err := s.backend.SetAuthType(pgproto3.AuthTypeCleartextPassword); err != nil {
		return err
	}
	msg, err := s.backend.Receive()
	if err != nil {
		return fmt.Errorf("receive password: %w", err)
	}
	pw, ok := msg.(*pgproto3.PasswordMessage)
	if !ok {
		return fmt.Errorf("expected password message, got %T", msg)
	}
	if err := validateToken(s.srv.cfg.JWTSecret, s.user, pw.Password); err != nil {
		s.logger.Info("authentication failed", slog.Any("error", err))
		s.backend.Send(arrowpg.ErrorResponse(&pgconn.PgError{
			Severity: arrowpg.SeverityFatal,
			Code:     codeInvalidPassword,
			Message:  fmt.Sprintf("password authentication failed for user %q", s.user),
		}))
		return s.terminate(err)
	}
	return nil
}

// extended reports err to the client and discards messages until Sync.
// Only connection failures are returned.
func (s *session) extended(err error) error {
	if err == nil {
		return nil
	}
	if isConnError(err) {
		return err
	}
	s.logger.Debug("extended query failed", slog.Any("error", err))
	s.backend.Send(arrowpg.ErrorResponse(err))
	if isFatal(err) {
		return s.terminate(err)
	}
	s.skipToSync = true
	return nil
}

func isFatal(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Severity == arrowpg.SeverityFatal
}

// terminate flushes a FATAL error response and ends the session.
func (s *session) terminate(err error) error {
	if ferr := s.flush(); ferr != nil {
		return ferr
	}
	return err
}

func (s *session) simpleQuery(ctx context.Context, sql string) error {
	if strings.TrimSpace(strings.Trim(strings.TrimSpace(sql), ";")) == "" {
		s.backend.Send(&pgproto3.EmptyQueryResponse{})
	} else if err := s.query(ctx, sql); err != nil {
		if isConnError(err) {
			return err
		}
		s.logger.Debug("query failed", slog.Any("error", err))
		s.backend.Send(arrowpg.ErrorResponse(err))
		if isFatal(err) {
			return s.terminate(err)
		}
	}
	s.backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	return s.flush()
}

func (s *session) query(ctx context.Context, sql string) error {
	p := &portal{stmt: &statement{sql: sql}, format: arrowpg.TextFormat}
	defer p.close()
	if err := s.open(ctx, p); err != nil {
		return err
	}
	s.backend.Send(p.enc.RowDescription())
	_, err := s.sendRows(p, 0)
	return err
}

func (s *session) parse(ctx context.Context, msg *pgproto3.Parse) error {
	paramTypes, schema, err := s.srv.engine.Describe(ctx, msg.Query)
	if err != nil {
		return err
	}
	s.statements[msg.Name] = &statement{
		sql:        msg.Query,
		paramOIDs:  append([]uint32(nil), msg.ParameterOIDs...),
		paramTypes: paramTypes,
		schema:     schema,
	}
	s.backend.Send(&pgproto3.ParseComplete{})
	return nil
}

func (s *session) bind(msg *pgproto3.Bind) error {
	stmt, ok := s.statements[msg.PreparedStatement]
	if !ok {
		return &pgconn.PgError{
			Severity: arrowpg.SeverityError,
			Code:     codeInvalidStatement,
			Message:  fmt.Sprintf("prepared statement %q does not exist", msg.PreparedStatement),
		}
	}
	src := arrowpg.NewPortal(&pgproto3.Parse{ParameterOIDs: stmt.paramOIDs}, msg)
	params, err := arrowpg.DecodeParameters(src, stmt.paramTypes, s.options()...)
	if err != nil {
		return err
	}
	if old, ok := s.portals[msg.DestinationPortal]; ok {
		old.close()
	}
	s.portals[msg.DestinationPortal] = &portal{
		stmt:   stmt,
		params: params,
		format: arrowpg.NewFormat(msg.ResultFormatCodes),
	}
	s.backend.Send(&pgproto3.BindComplete{})
	return nil
}

func (s *session) describe(ctx context.Context, msg *pgproto3.Describe) error {
	switch msg.ObjectType {
	case 'S':
		stmt, ok := s.statements[msg.Name]
		if !ok {
			return &pgconn.PgError{
				Severity: arrowpg.SeverityError,
				Code:     codeInvalidStatement,
				Message:  fmt.Sprintf("prepared statement %q does not exist", msg.Name),
			}
		}
		s.backend.Send(&pgproto3.ParameterDescription{ParameterOIDs: parameterOIDs(stmt)})
		if stmt.schema == nil || stmt.schema.NumFields() == 0 {
			s.backend.Send(&pgproto3.NoData{})
			return nil
		}
		fields, err := arrowpg.FieldDescriptions(stmt.schema, arrowpg.TextFormat)
		if err != nil {
			return err
		}
		s.backend.Send(&pgproto3.RowDescription{Fields: fields})
		return nil
	case 'P':
		p, err := s.portal(msg.Name)
		if err != nil {
			return err
		}
		if err := s.open(ctx, p); err != nil {
			return err
		}
		if len(p.enc.Fields()) == 0 {
			s.backend.Send(&pgproto3.NoData{})
			return nil
		}
		s.backend.Send(p.enc.RowDescription())
		return nil
	default:
		return protocolError("invalid describe target %q", msg.ObjectType)
	}
}

// parameterOIDs reports declared types first, then types mapped from what
// the engine inferred, and UNKNOWN for the rest.
func parameterOIDs(stmt *statement) []uint32 {
	n := max(len(stmt.paramOIDs), len(stmt.paramTypes))
	oids := make([]uint32, n)
	for i := range n {
		if i < len(stmt.paramOIDs) && stmt.paramOIDs[i] != 0 {
			oids[i] = stmt.paramOIDs[i]
			continue
		}
		oids[i] = pgtype.UnknownOID
		if i < len(stmt.paramTypes) && stmt.paramTypes[i] != nil {
			if oid, err := arrowpg.MapType(stmt.paramTypes[i]); err == nil {
				oids[i] = oid
			}
		}
	}
	return oids
}

func (s *session) execute(ctx context.Context, msg *pgproto3.Execute) error {
	p, err := s.portal(msg.Portal)
	if err != nil {
		return err
	}
	if err := s.open(ctx, p); err != nil {
		return err
	}
	if p.next == nil {
		s.backend.Send(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 0")})
		return nil
	}
	done, err := s.sendRows(p, msg.MaxRows)
	if err != nil {
		p.close()
		return err
	}
	if !done {
		s.backend.Send(&pgproto3.PortalSuspended{})
		return nil
	}
	p.close()
	return nil
}

func (s *session) closeObject(msg *pgproto3.Close) error {
	switch msg.ObjectType {
	case 'S':
		delete(s.statements, msg.Name)
	case 'P':
		if p, ok := s.portals[msg.Name]; ok {
			p.close()
			delete(s.portals, msg.Name)
		}
	default:
		return protocolError("invalid close target %q", msg.ObjectType)
	}
	s.backend.Send(&pgproto3.CloseComplete{})
	return nil
}

func (s *session) portal(name string) (*portal, error) {
	p, ok := s.portals[name]
	if !ok {
		return nil, &pgconn.PgError{
			Severity: arrowpg.SeverityError,
			Code:     codeInvalidCursor,
			Message:  fmt.Sprintf("portal %q does not exist", name),
		}
	}
	return p, nil
}

func (s *session) closePortals() {
	for name, p := range s.portals {
		p.close()
		delete(s.portals, name)
	}
}

// open runs the portal's query once and prepares its row sequence.
func (s *session) open(ctx context.Context, p *portal) error {
	if p.enc != nil {
		return nil
	}
	start := time.Now()
	reader, err := s.srv.engine.Execute(ctx, p.stmt.sql, p.params)
	if err != nil {
		return err
	}
	release := func() {}
	if r, ok := reader.(interface{ Release() }); ok {
		release = r.Release
	}
	enc, err := arrowpg.NewResultEncoder(reader.Schema(), p.format, s.options()...)
	if err != nil {
		release()
		return err
	}
	s.logger.Debug("query started",
		slog.String("sql", p.stmt.sql),
		slog.Int("params", len(p.params)),
		slog.Duration("planning", time.Since(start)),
	)
	p.enc = enc
	p.next, p.stop = iter.Pull2(enc.Rows(ctx, reader))
	p.release = release
	return nil
}

// sendRows writes up to maxRows rows of p, all of them if maxRows is 0, and
// completes the command once the rows are exhausted. done reports whether
// the portal has no rows left.
func (s *session) sendRows(p *portal, maxRows uint32) (done bool, err error) {
	var n int
	var size uint64
	for maxRows == 0 || n < int(maxRows) {
		row, rowErr, ok := p.next()
		if !ok {
			s.backend.Send(&pgproto3.CommandComplete{CommandTag: []byte("SELECT " + strconv.Itoa(n))})
			s.logger.Debug("query complete", slog.Int("rows", n), slog.String("sent", humanize.Bytes(size)))
			return true, nil
		}
		if rowErr != nil {
			return true, rowErr
		}
		for _, v := range row.Values {
			size += uint64(len(v))
		}
		s.backend.Send(row)
		n++
		if n%flushEvery == 0 {
			if err := s.flush(); err != nil {
				return true, err
			}
		}
	}
	return false, nil
}

// connError marks a failure to write to the client. The session ends
// instead of reporting it.
type connError struct{ err error }

func (e *connError) Error() string { return "write to client: " + e.err.Error() }
func (e *connError) Unwrap() error { return e.err }

func isConnError(err error) bool {
	var ce *connError
	return errors.As(err, &ce)
}

func (s *session) flush() error {
	if err := s.backend.Flush(); err != nil {
		return &connError{err: err}
	}
	return nil
}

func protocolError(format string, args ...any) *pgconn.PgError {
	return &pgconn.PgError{
		Severity: arrowpg.SeverityError,
		Code:     codeProtocolViolation,
		Message:  fmt.Sprintf(format, args...),
	}
}
