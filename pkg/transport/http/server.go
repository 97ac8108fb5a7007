// Package http exposes the bridge entry points as a JSON API.
//
// Request bodies are the same documents the C ABI accepts. Handles appear
// in paths. Failures are answered with {"error", "code"} and a status
// derived from the error category.
package http

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ha1tch/sqlbridge/pkg/bridge"
	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
	"github.com/ha1tch/sqlbridge/pkg/log"
	"github.com/ha1tch/sqlbridge/pkg/version"
)

// maxBody bounds request documents.
const maxBody = 64 << 20

// Config holds listener settings.
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// TLS, when set, serves HTTPS.
	TLS *tls.Config
}

// Server serves the bridge over HTTP.
type Server struct {
	mu sync.Mutex

	cfg        Config
	bridge     *bridge.Bridge
	logger     *log.Logger
	httpServer *http.Server
	listener   net.Listener
	closed     bool
}

// NewServer creates a server for b.
func NewServer(cfg Config, b *bridge.Bridge, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	s := &Server{cfg: cfg, bridge: b, logger: logger}
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /pools", s.handlePoolCreate)
	mux.HandleFunc("POST /pools/{pool}/acquire", s.handlePoolAcquire)
	mux.HandleFunc("POST /pools/{pool}/release/{conn}", s.handlePoolRelease)
	mux.HandleFunc("DELETE /pools/{pool}", s.handlePoolClose)

	mux.HandleFunc("POST /connections", s.handleConnect)
	mux.HandleFunc("DELETE /connections/{conn}", s.handleDisconnect)
	mux.HandleFunc("POST /connections/{conn}/query", s.handleQuery)
	mux.HandleFunc("POST /connections/{conn}/execute", s.handleExecute)
	mux.HandleFunc("POST /connections/{conn}/exec", s.handleExec)
	mux.HandleFunc("POST /connections/{conn}/stream", s.handleStream)
	mux.HandleFunc("POST /connections/{conn}/bulk", s.handleBulk)
	mux.HandleFunc("POST /connections/{conn}/begin", s.handleBegin)
	mux.HandleFunc("POST /connections/{conn}/commit", s.handleCommit)
	mux.HandleFunc("POST /connections/{conn}/rollback", s.handleRollback)
	mux.HandleFunc("POST /connections/{conn}/cancel", s.handleCancel)

	mux.HandleFunc("GET /cursors/{cursor}/next", s.handleStreamNext)
	mux.HandleFunc("DELETE /cursors/{cursor}", s.handleStreamClose)

	mux.HandleFunc("GET /filestream", s.handleFilestreamAvailable)
	mux.HandleFunc("POST /filestream", s.handleFilestreamOpen)
	mux.HandleFunc("GET /filestream/{fs}", s.handleFilestreamRead)
	mux.HandleFunc("POST /filestream/{fs}", s.handleFilestreamWrite)
	mux.HandleFunc("DELETE /filestream/{fs}", s.handleFilestreamClose)

	mux.HandleFunc("GET /diagnostics", s.handleDiagnostics)
	mux.HandleFunc("GET /errors/{handle}", s.handleLastError)
	mux.HandleFunc("POST /debug", s.handleDebug)
	mux.HandleFunc("POST /close-all", s.handleCloseAll)
	return mux
}

// Listen starts serving on the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address, err)
	}
	if s.cfg.TLS != nil {
		ln = tls.NewListener(ln, s.cfg.TLS)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.System().Info("HTTP listener started", "address", ln.Addr().String(), "tls", s.cfg.TLS != nil)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.System().Error("HTTP server error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close shuts the server down, waiting up to five seconds for in-flight
// requests.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// IDResponse carries a newly issued handle.
type IDResponse struct {
	ID uint64 `json:"id"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := bridgeerrors.GetCode(err)
	status := statusFor(err)
	if status >= 500 {
		s.logger.System().Warn("request failed", "path", r.URL.Path, "code", code.String(),
			"error", err.Error(), "fields", bridgeerrors.GetFields(err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code.String()})
}

// statusFor maps an error onto an HTTP status by its code.
func statusFor(err error) int {
	switch bridgeerrors.GetCode(err) {
	case bridgeerrors.ErrCodeConnectionNotFound, bridgeerrors.ErrCodePoolNotFound,
		bridgeerrors.ErrCodeCursorNotFound, bridgeerrors.ErrCodeStreamNotFound:
		return http.StatusNotFound
	case bridgeerrors.ErrCodeConnectionBusy, bridgeerrors.ErrCodeTxnActive:
		return http.StatusConflict
	case bridgeerrors.ErrCodePoolExhausted:
		return http.StatusServiceUnavailable
	case bridgeerrors.ErrCodeQueryTimeout:
		return http.StatusGatewayTimeout
	case bridgeerrors.ErrCodeQueryMalformed, bridgeerrors.ErrCodeTypeConversion,
		bridgeerrors.ErrCodeUnknownType, bridgeerrors.ErrCodeTxnIsolation:
		return http.StatusBadRequest
	case bridgeerrors.ErrCodeConfigUnsupported:
		return http.StatusNotImplemented
	}
	if bridgeerrors.IsCategory(err, bridgeerrors.CategoryConfig) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeQueryMalformed, "read request body").Err()
	}
	return data, nil
}

func pathID(r *http.Request, name string) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil || id == 0 {
		return 0, bridgeerrors.Newf(bridgeerrors.ErrCodeQueryMalformed, "invalid %s handle %q", name, r.PathValue(name)).Err()
	}
	return id, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"server":  "sqlbridge",
		"version": version.String(),
	})
}
