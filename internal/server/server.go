// Package server exposes a Wallet over HTTP. Every operation is a
// POST /<operationName> with the JSON arguments as the body; the caller's
// originator travels in the Originator header. Successful calls answer 200
// with the JSON result, failures answer with the error's code, description
// and context.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrz1836/brcwallet/internal/access"
	"github.com/mrz1836/brcwallet/internal/metrics"
	"github.com/mrz1836/brcwallet/internal/wallet"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// OriginatorHeader carries the calling application's domain.
const OriginatorHeader = "Originator"

// MaxBodyBytes bounds a request body. BEEF payloads dominate.
const MaxBodyBytes = 32 << 20

const shutdownTimeout = 10 * time.Second

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Config configures a Server.
type Config struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Gatherer serves MetricsPath when set.
	Gatherer    prometheus.Gatherer
	MetricsPath string

	// Tokens, when set, requires every request to carry a bearer token
	// issued from this store.
	Tokens *access.FileStore

	Logger LogWriter
}

// Server routes HTTP requests to a Wallet.
type Server struct {
	wallet  *wallet.Wallet
	cfg     Config
	logger  LogWriter
	routes  map[string]endpoint
	handler http.Handler
}

// New builds a Server for w.
func New(w *wallet.Wallet, cfg *Config) *Server {
	s := &Server{wallet: w}
	if cfg != nil {
		s.cfg = *cfg
	}
	s.logger = s.cfg.Logger
	if s.logger == nil {
		s.logger = nopLogger{}
	}
	if s.cfg.MetricsPath == "" {
		s.cfg.MetricsPath = "/metrics"
	}
	s.routes = s.routeTable()

	mux := http.NewServeMux()
	if s.cfg.Gatherer != nil {
		mux.Handle(s.cfg.MetricsPath, metrics.Handler(s.cfg.Gatherer))
	}
	mux.HandleFunc("/", s.serveOperation)
	s.handler = w.Metrics().InstrumentHandler(mux)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe listens on the configured address and serves until ctx
// is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return walleterr.WithCause(walleterr.ErrNetworkError, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Debug("server listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return walleterr.WithCause(walleterr.ErrNetworkError, err)
	case <-ctx.Done():
	}

	s.logger.Debug("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return walleterr.Wrap(err, "shutting down server")
	}
	return nil
}

// request is one decoded call.
type request struct {
	op         string
	body       []byte
	originator string
	token      string
	cred       *access.Credential
}

func (s *Server) serveOperation(w http.ResponseWriter, r *http.Request) {
	op := strings.TrimPrefix(r.URL.Path, "/")
	ep, ok := s.routes[op]
	if !ok {
		writeError(w, http.StatusNotFound, walleterr.WithContext(
			walleterr.Wrap(walleterr.ErrInvalidInput, "unknown operation"),
			map[string]string{"operation": op}))
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, walleterr.WithContext(
			walleterr.Wrap(walleterr.ErrInvalidInput, "method %s not allowed", r.Method),
			map[string]string{"operation": op}))
		return
	}

	req := &request{op: op, originator: r.Header.Get(OriginatorHeader)}
	if err := s.authorize(r, req); err != nil {
		s.fail(w, req, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		s.fail(w, req, walleterr.WithCause(walleterr.ErrInvalidInput, err))
		return
	}
	req.body = body

	res, err := ep(r.Context(), req)
	if err != nil {
		s.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// authorize checks the bearer token when tokens are required and binds the
// request to the token's originator.
func (s *Server) authorize(r *http.Request, req *request) error {
	if s.cfg.Tokens == nil {
		return nil
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return walleterr.WithSuggestion(walleterr.Wrap(walleterr.ErrNotAuthenticated, "bearer token required"),
			"issue one with: brcwallet token issue")
	}
	cred, err := s.cfg.Tokens.Authenticate(strings.TrimSpace(token))
	if err != nil {
		return walleterr.WithCause(walleterr.ErrNotAuthenticated, err)
	}
	if err := access.CheckOperation(cred, req.op); err != nil {
		return walleterr.WithContext(walleterr.WithCause(walleterr.ErrNotAuthenticated, err),
			map[string]string{"token": cred.ID})
	}
	originator, err := access.ResolveOriginator(cred, req.originator)
	if err != nil {
		return walleterr.WithContext(walleterr.WithCause(walleterr.ErrNotAuthenticated, err),
			map[string]string{"token": cred.ID})
	}
	req.originator = originator
	req.token = strings.TrimSpace(token)
	req.cred = cred
	return nil
}

func (s *Server) fail(w http.ResponseWriter, req *request, err error) {
	we := walleterr.From(err)
	status := StatusCode(we)
	if status >= http.StatusInternalServerError {
		s.logger.Error("%s from %q: %v", req.op, req.originator, we)
	} else {
		s.logger.Debug("%s from %q: %v", req.op, req.originator, we)
	}
	if status == http.StatusUnauthorized && s.cfg.Tokens != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="brcwallet"`)
	}
	writeError(w, status, we)
}

// StatusCode maps a wallet error to its HTTP status: 401 for
// NOT_AUTHENTICATED, 404 for missing records, 400 for anything the caller
// can fix by changing the request, 500 otherwise.
func StatusCode(err error) int {
	we := walleterr.From(err)
	if we.Code == walleterr.ErrNotAuthenticated.Code {
		return http.StatusUnauthorized
	}
	switch we.Category {
	case walleterr.CategoryValidation, walleterr.CategoryCrypto, walleterr.CategoryResource:
		return http.StatusBadRequest
	case walleterr.CategoryNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code        string            `json:"code"`
	Description string            `json:"description"`
	Context     map[string]string `json:"context,omitempty"`
	Suggestion  string            `json:"suggestion,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	we := walleterr.From(err)
	writeJSON(w, status, errorBody{
		Code:        we.Code,
		Description: we.Description,
		Context:     we.Context,
		Suggestion:  we.Suggestion,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
