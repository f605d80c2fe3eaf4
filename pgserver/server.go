// Package pgserver serves Arrow query results to PostgreSQL clients.
//
// The server speaks the frontend/backend protocol version 3 with both the
// simple and the extended query flow. Queries are answered by an Engine which
// returns Arrow batches; values are translated with package arrowpg.
package pgserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/fwojciec/arrowpg"
	"github.com/jackc/pgx/v5/pgtype"
)

// Config configures a Server.
type Config struct {
	// Addr is the TCP address ListenAndServe listens on.
	Addr string

	// JWTSecret enables password authentication. Clients send an HS256 JWT
	// signed with this secret as their password. Empty disables authentication.
	JWTSecret string

	// Logger receives connection and query logs. Defaults to slog.Default().
	Logger *slog.Logger

	// TypeMap returns the pgtype map for a new connection. Defaults to
	// arrowpg.NewTypeMap.
	TypeMap func() *pgtype.Map
}

// Server accepts client connections and runs their queries on an Engine.
type Server struct {
	engine Engine
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates a server for engine.
func New(engine Engine, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TypeMap == nil {
		cfg.TypeMap = arrowpg.NewTypeMap
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		engine: engine,
		cfg:    cfg,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[net.Conn]struct{}),
	}
}

// ErrServerClosed is returned by Serve and ListenAndServe after Close.
var ErrServerClosed = errors.New("pgserver: server closed")

// ListenAndServe listens on cfg.Addr and serves connections until Close.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close. It always returns a non-nil
// error; ErrServerClosed after Close.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	if s.ln != nil {
		s.mu.Unlock()
		return errors.New("pgserver: already serving")
	}
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("accepting connections", slog.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !s.track(conn) {
			conn.Close()
			return ErrServerClosed
		}
		go s.handleConn(conn)
	}
}

// Addr returns the address the server listens on, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close stops accepting connections, cancels running queries, closes open
// connections and waits for their handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.cancel()
	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	sess := newSession(s, conn)
	sess.logger.Debug("client connected")
	if err := sess.run(s.ctx); err != nil && !s.isClosed() {
		sess.logger.Info("connection closed with error", slog.Any("error", err))
		return
	}
	sess.logger.Debug("client disconnected")
}
